package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanyeeee/picacomic-downloader/pkg/config"
	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/events"
	"github.com/lanyeeee/picacomic-downloader/pkg/pica"
)

var jpegPayload = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 1, 2, 3, 4}

// fakeUpstream simulates the comic API plus its image file server. Chapters
// are registered as chapterID -> image count; image URLs encode the chapter
// and index so the handler can fail selected images and meter concurrency.
type fakeUpstream struct {
	t *testing.T

	api *httptest.Server
	img *httptest.Server

	mu        sync.Mutex
	chapters  map[string]int // order (as string) -> image count
	failImage map[string]bool

	apiCalls atomic.Int32
	imgCalls atomic.Int32

	imgDelay time.Duration

	inflightImg    atomic.Int32
	maxInflightImg atomic.Int32

	inflightChapters sync.Map // chapter -> *atomic.Int32
	maxChaptersBusy  atomic.Int32
	busyChapters     atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{
		t:         t,
		chapters:  make(map[string]int),
		failImage: make(map[string]bool),
	}

	f.api = httptest.NewServer(http.HandlerFunc(f.handleAPI))
	f.img = httptest.NewServer(http.HandlerFunc(f.handleImage))
	t.Cleanup(f.api.Close)
	t.Cleanup(f.img.Close)
	return f
}

func (f *fakeUpstream) setChapter(order int64, imgCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapters[fmt.Sprint(order)] = imgCount
}

func (f *fakeUpstream) failAt(order int64, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failImage[fmt.Sprintf("%d/%d", order, index)] = true
}

func (f *fakeUpstream) resetCounters() {
	f.apiCalls.Store(0)
	f.imgCalls.Store(0)
}

// handleAPI serves /comics/{id}/order/{order}/pages as a single page.
func (f *fakeUpstream) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.apiCalls.Add(1)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 || parts[0] != "comics" || parts[2] != "order" || parts[4] != "pages" {
		f.t.Errorf("unexpected api path %q", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	order := parts[3]

	f.mu.Lock()
	imgCount, ok := f.chapters[order]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	docs := make([]map[string]any, imgCount)
	for i := range docs {
		docs[i] = map[string]any{
			"_id": fmt.Sprintf("img%d", i+1),
			"media": map[string]any{
				"originalName": fmt.Sprintf("%d.jpg", i+1),
				"path":         fmt.Sprintf("imgs/%s/%d.jpg", order, i+1),
				"fileServer":   f.img.URL,
			},
		}
	}
	resp := map[string]any{
		"code":    200,
		"message": "success",
		"data": map[string]any{
			"pages": map[string]any{
				"total": imgCount, "limit": imgCount, "page": 1, "pages": 1,
				"docs": docs,
			},
		},
	}
	json.NewEncoder(w).Encode(resp)
}

// handleImage serves /static/imgs/{order}/{n}.jpg and meters concurrency.
func (f *fakeUpstream) handleImage(w http.ResponseWriter, r *http.Request) {
	f.imgCalls.Add(1)

	cur := f.inflightImg.Add(1)
	defer f.inflightImg.Add(-1)
	for {
		maxSeen := f.maxInflightImg.Load()
		if cur <= maxSeen || f.maxInflightImg.CompareAndSwap(maxSeen, cur) {
			break
		}
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "static" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	order := parts[2]
	name := strings.TrimSuffix(parts[3], ".jpg")

	f.trackChapter(order)
	defer f.untrackChapter(order)

	if f.imgDelay > 0 {
		time.Sleep(f.imgDelay)
	}

	f.mu.Lock()
	fail := f.failImage[order+"/"+name]
	f.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write(jpegPayload)
}

func (f *fakeUpstream) trackChapter(order string) {
	counter, _ := f.inflightChapters.LoadOrStore(order, &atomic.Int32{})
	if counter.(*atomic.Int32).Add(1) == 1 {
		busy := f.busyChapters.Add(1)
		for {
			maxSeen := f.maxChaptersBusy.Load()
			if busy <= maxSeen || f.maxChaptersBusy.CompareAndSwap(maxSeen, busy) {
				break
			}
		}
	}
}

func (f *fakeUpstream) untrackChapter(order string) {
	counter, _ := f.inflightChapters.LoadOrStore(order, &atomic.Int32{})
	if counter.(*atomic.Int32).Add(-1) == 0 {
		f.busyChapters.Add(-1)
	}
}

type testEngine struct {
	downloader *Downloader
	bus        *events.Bus
	store      *data.MetadataStore
	cfg        *config.Store
	dir        string
}

func newTestEngine(t *testing.T, upstream *fakeUpstream, chapterConc, imgConc int) *testEngine {
	t.Helper()
	dir := t.TempDir()

	cfgStore, err := config.NewStore(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	t.Cleanup(cfgStore.Close)

	doc := cfgStore.Get()
	doc.DownloadDir = filepath.Join(dir, "downloads")
	doc.ChapterConcurrency = chapterConc
	doc.ImgConcurrency = imgConc
	doc.DownloadFormat = data.FormatJpeg
	doc.ComicDirNameFmt = "{comic_title}"
	doc.ChapterDirNameFmt = "{order} - {chapter_title}"
	require.NoError(t, cfgStore.Save(doc))

	client := pica.NewClient(pica.Options{
		BaseURL: upstream.api.URL + "/",
		Token:   func() string { return "test-token" },
	})

	store := data.NewMetadataStore()
	index := data.NewDownloadedIndex(store, doc.DownloadDir)
	t.Cleanup(index.Close)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	downloader := NewDownloader(client, cfgStore, store, index, bus)
	t.Cleanup(downloader.Close)

	return &testEngine{downloader: downloader, bus: bus, store: store, cfg: cfgStore, dir: doc.DownloadDir}
}

func testComicFixture(chapters int) *data.Comic {
	comic := &data.Comic{ID: "c1", Title: "Test Comic", Author: "Tester"}
	for i := 1; i <= chapters; i++ {
		comic.ChapterInfos = append(comic.ChapterInfos, data.ChapterInfo{
			ChapterID:    fmt.Sprintf("ch%d", i),
			ChapterTitle: fmt.Sprintf("Chapter %d", i),
			Order:        int64(i),
		})
	}
	return comic
}

func waitForState(t *testing.T, task *Task, want data.TaskState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return task.State() == want
	}, 15*time.Second, 10*time.Millisecond, "task never reached %s (is %s)", want, task.State())
}

func TestDownload_SingleChapterHappyPath(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 5)
	engine := newTestEngine(t, upstream, 2, 4)

	eventCh := engine.bus.Subscribe("test")

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskCompleted)

	downloaded, total := task.Progress()
	assert.Equal(t, 5, downloaded)
	assert.Equal(t, 5, total)

	chapterDir := filepath.Join(engine.dir, "Test Comic", "1 - Chapter 1")
	for i := 1; i <= 5; i++ {
		info, err := os.Stat(filepath.Join(chapterDir, fmt.Sprintf("%03d.jpg", i)))
		require.NoError(t, err, "image %d missing", i)
		assert.Positive(t, info.Size())
	}

	meta, err := engine.store.LoadChapterMetadata(chapterDir)
	require.NoError(t, err)
	assert.Equal(t, 5, meta.TotalImgCount)
	assert.Equal(t, []string{"001.jpg", "002.jpg", "003.jpg", "004.jpg", "005.jpg"}, meta.ImageFilenames)
	assert.True(t, engine.store.IsChapterComplete(chapterDir))

	// The comic sidecar was rewritten after completion.
	comicDir := filepath.Join(engine.dir, "Test Comic")
	loaded, err := engine.store.LoadComicMetadata(comicDir)
	require.NoError(t, err)
	assert.True(t, loaded.IsDownloaded)

	// State updates arrived in lifecycle order.
	var states []data.TaskState
	engine.bus.Unsubscribe("test")
	for event := range eventCh {
		if e, ok := event.(events.DownloadTaskEvent); ok {
			if len(states) == 0 || states[len(states)-1] != e.State {
				states = append(states, e.State)
			}
		}
	}
	require.NotEmpty(t, states)
	assert.Equal(t, data.TaskPending, states[0])
	assert.Equal(t, data.TaskCompleted, states[len(states)-1])
	assert.Contains(t, states, data.TaskDownloading)
}

func TestDownload_DuplicateCreateReturnsExistingTask(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 3)
	upstream.imgDelay = 30 * time.Millisecond
	engine := newTestEngine(t, upstream, 1, 1)

	comic := testComicFixture(1)

	const callers = 8
	tasks := make([]*Task, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := engine.downloader.CreateDownloadTask(comic, "ch1")
			assert.NoError(t, err)
			tasks[i] = task
		}()
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, tasks[0], tasks[i], "all callers share one task")
	}
	waitForState(t, tasks[0], data.TaskCompleted)
}

func TestDownload_MidChapterFailure(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 10)
	upstream.failAt(1, 4)
	engine := newTestEngine(t, upstream, 1, 3)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskFailed)

	chapterDir := filepath.Join(engine.dir, "Test Comic", "1 - Chapter 1")
	entries, err := os.ReadDir(chapterDir)
	require.NoError(t, err)

	var images []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".jpg") {
			images = append(images, entry.Name())
		}
	}
	assert.Len(t, images, 9, "all images except the failing one are on disk")
	assert.NotContains(t, images, "004.jpg")

	meta, err := engine.store.LoadChapterMetadata(chapterDir)
	require.NoError(t, err)
	assert.Equal(t, 10, meta.TotalImgCount)
	assert.Len(t, meta.ImageFilenames, 9)
	assert.False(t, engine.store.IsChapterComplete(chapterDir))

	loaded, err := engine.store.LoadComicMetadata(filepath.Join(engine.dir, "Test Comic"))
	require.NoError(t, err)
	assert.False(t, loaded.IsDownloaded)
}

func TestDownload_ResumeFetchesOnlyMissingImages(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 5)
	engine := newTestEngine(t, upstream, 1, 2)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskCompleted)

	chapterDir := filepath.Join(engine.dir, "Test Comic", "1 - Chapter 1")
	require.NoError(t, os.Remove(filepath.Join(chapterDir, "003.jpg")))
	upstream.resetCounters()

	task, err = engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskCompleted)

	assert.Equal(t, int32(1), upstream.apiCalls.Load(), "one image-list request")
	assert.Equal(t, int32(1), upstream.imgCalls.Load(), "only the missing image is fetched")
	assert.True(t, engine.store.IsChapterComplete(chapterDir))
}

func TestDownload_CompletedChapterNeedsNoNetwork(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 4)
	engine := newTestEngine(t, upstream, 1, 2)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskCompleted)

	upstream.resetCounters()
	task, err = engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskCompleted)

	assert.Zero(t, upstream.apiCalls.Load(), "re-downloading a complete chapter is free")
	assert.Zero(t, upstream.imgCalls.Load())
}

func TestDownload_ImgConcurrencyBudget(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 12)
	upstream.imgDelay = 30 * time.Millisecond
	engine := newTestEngine(t, upstream, 1, 2)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	waitForState(t, task, data.TaskCompleted)

	assert.LessOrEqual(t, upstream.maxInflightImg.Load(), int32(2),
		"no more than imgConcurrency images in flight")
}

func TestDownload_ChapterConcurrencyBudget(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 4)
	upstream.setChapter(2, 4)
	upstream.setChapter(3, 4)
	upstream.imgDelay = 30 * time.Millisecond
	engine := newTestEngine(t, upstream, 1, 8)

	comic := testComicFixture(3)
	var tasks []*Task
	for _, chapterID := range []string{"ch1", "ch2", "ch3"} {
		task, err := engine.downloader.CreateDownloadTask(comic, chapterID)
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		waitForState(t, task, data.TaskCompleted)
	}

	assert.LessOrEqual(t, upstream.maxChaptersBusy.Load(), int32(1),
		"images of at most chapterConcurrency chapters in flight at once")
}

func TestDownload_PauseAndResume(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 10)
	upstream.imgDelay = 40 * time.Millisecond
	engine := newTestEngine(t, upstream, 1, 1)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		downloaded, _ := task.Progress()
		return task.State() == data.TaskDownloading && downloaded >= 1
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, task.Pause())
	assert.Equal(t, data.TaskPaused, task.State())

	// In-flight fetches may still land, then progress stops.
	time.Sleep(200 * time.Millisecond)
	pausedAt, _ := task.Progress()
	time.Sleep(300 * time.Millisecond)
	later, _ := task.Progress()
	assert.Equal(t, pausedAt, later, "no new images while paused")

	require.NoError(t, task.Resume())
	waitForState(t, task, data.TaskCompleted)
	downloaded, _ := task.Progress()
	assert.Equal(t, 10, downloaded)
}

func TestDownload_Cancel(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 20)
	upstream.imgDelay = 40 * time.Millisecond
	engine := newTestEngine(t, upstream, 1, 1)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		downloaded, _ := task.Progress()
		return downloaded >= 2
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, task.Cancel())
	assert.Equal(t, data.TaskCancelled, task.State())

	// Partial files survive as resume inputs.
	chapterDir := filepath.Join(engine.dir, "Test Comic", "1 - Chapter 1")
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(chapterDir)
		if err != nil {
			return false
		}
		return len(entries) >= 1 && len(entries) < 20
	}, 5*time.Second, 20*time.Millisecond)

	// A fresh task can take over the key after the terminal state.
	upstream.imgDelay = 0
	fresh, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)
	assert.NotSame(t, task, fresh)
	waitForState(t, fresh, data.TaskCompleted)
}

func TestTask_InvalidTransitions(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.setChapter(1, 2)
	upstream.imgDelay = 30 * time.Millisecond
	engine := newTestEngine(t, upstream, 1, 1)

	task, err := engine.downloader.CreateDownloadTask(testComicFixture(1), "ch1")
	require.NoError(t, err)

	// Resuming a task that is not paused fails.
	assert.Error(t, task.Resume())

	waitForState(t, task, data.TaskCompleted)
	assert.Error(t, task.Pause(), "terminal tasks cannot be paused")
	assert.Error(t, task.Cancel(), "terminal tasks cannot be cancelled")
}

func TestTelemetry_SpeedReflectsBytesWritten(t *testing.T) {
	upstream := newFakeUpstream(t)
	engine := newTestEngine(t, upstream, 1, 1)

	eventCh := engine.bus.Subscribe("speed")
	engine.downloader.countBytes(2048)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-eventCh:
			if e, ok := event.(events.DownloadSpeedEvent); ok {
				if e.Speed == "2.00 KB/s" {
					return
				}
				// Later ticks report zero again once the counter drained.
				assert.Equal(t, "0.00 KB/s", e.Speed)
			}
		case <-deadline:
			t.Fatal("speed event with the counted bytes never arrived")
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0.00 KB/s", formatSpeed(0))
	assert.Equal(t, "1.00 KB/s", formatSpeed(1024))
	assert.Equal(t, "512.00 KB/s", formatSpeed(512*1024))
	assert.Equal(t, "1.00 MB/s", formatSpeed(1024*1024))
	assert.Equal(t, "2.50 MB/s", formatSpeed(2*1024*1024+512*1024))
}

func TestTaskID(t *testing.T) {
	assert.Equal(t, "c1/ch1", TaskID("c1", "ch1"))
}
