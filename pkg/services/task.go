package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/events"
	"github.com/lanyeeee/picacomic-downloader/pkg/imaging"
)

// imgWriteRetries is how often a failed file write is retried before the
// image counts as permanently failed.
const imgWriteRetries = 1

// Task tracks the download lifecycle of one chapter. State transitions are
// authoritative here; the UI only ever sees them through events.
type Task struct {
	engine  *Downloader
	comic   *data.Comic
	chapter data.ChapterInfo

	mu    sync.Mutex
	state data.TaskState

	downloaded atomic.Int32
	total      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	gate   *pauseGate
}

func newTask(engine *Downloader, comic *data.Comic, chapter data.ChapterInfo) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		engine:  engine,
		comic:   comic,
		chapter: chapter,
		state:   data.TaskPending,
		ctx:     ctx,
		cancel:  cancel,
		gate:    newPauseGate(),
	}
}

// ID returns the registry key of the task.
func (t *Task) ID() string { return TaskID(t.comic.ID, t.chapter.ChapterID) }

// Comic returns the comic snapshot the task serves.
func (t *Task) Comic() *data.Comic { return t.comic }

// Chapter returns the chapter the task downloads.
func (t *Task) Chapter() data.ChapterInfo { return t.chapter }

// State returns the current lifecycle state.
func (t *Task) State() data.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress returns (downloadedImgCount, totalImgCount).
func (t *Task) Progress() (int, int) {
	return int(t.downloaded.Load()), int(t.total.Load())
}

// Pause blocks issuance of new image fetches. Permits already held are kept,
// in-flight fetches run to completion.
func (t *Task) Pause() error {
	t.mu.Lock()
	if t.state != data.TaskDownloading {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("task %s is %s, only a downloading task can be paused", t.ID(), state)
	}
	t.state = data.TaskPaused
	t.mu.Unlock()

	t.gate.pause()
	t.emitUpdate()
	t.engine.logger.Debug("download task paused", "task", t.ID())
	return nil
}

// Resume reopens the gate of a paused task.
func (t *Task) Resume() error {
	t.mu.Lock()
	if t.state != data.TaskPaused {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("task %s is %s, only a paused task can be resumed", t.ID(), state)
	}
	t.state = data.TaskDownloading
	t.mu.Unlock()

	t.gate.resume()
	t.emitUpdate()
	t.engine.logger.Debug("download task resumed", "task", t.ID())
	return nil
}

// Cancel aborts the task. In-flight image fetches stop at their next
// suspension point; files already on disk stay.
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.state.Terminal() {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("task %s is already %s", t.ID(), state)
	}
	t.state = data.TaskCancelled
	t.mu.Unlock()

	t.cancel()
	t.gate.resume()
	t.emitUpdate()
	t.engine.logger.Debug("download task cancelled", "task", t.ID())
	return nil
}

// setState transitions into a terminal or running state unless the task was
// cancelled concurrently; Cancelled always wins.
func (t *Task) setState(state data.TaskState) {
	t.mu.Lock()
	if t.state == data.TaskCancelled {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.mu.Unlock()
	t.emitUpdate()
}

// run is the task goroutine: wait for a chapter permit, download, finish.
func (t *Task) run() {
	if err := t.engine.chapterSem.Acquire(t.ctx, 1); err != nil {
		t.setState(data.TaskCancelled)
		return
	}
	defer t.engine.chapterSem.Release(1)

	t.setState(data.TaskDownloading)
	t.downloadChapter()
}

func (t *Task) downloadChapter() {
	logger := t.engine.logger.With("comic", t.comic.Title, "chapter", t.chapter.ChapterTitle)

	// A chapter that is already complete on disk needs no network at all,
	// and no throttling sleep either.
	if meta, err := t.engine.store.LoadChapterMetadata(t.chapter.ChapterDownloadDir); err == nil {
		if t.engine.store.IsChapterComplete(t.chapter.ChapterDownloadDir) {
			t.total.Store(int32(meta.TotalImgCount))
			t.downloaded.Store(int32(meta.TotalImgCount))
			logger.Info("chapter already downloaded")
			t.markChapterDownloaded(logger)
			t.setState(data.TaskCompleted)
			return
		}
	}

	if err := t.engine.store.SaveComicMetadata(t.comic); err != nil {
		logger.Error("saving comic metadata failed", "error", err)
		t.setState(data.TaskFailed)
		return
	}

	imgRefs, err := t.engine.client.GetChapterImages(t.ctx, t.comic.ID, t.chapter.Order)
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		logger.Error("resolving image list failed", "error", err)
		t.setState(data.TaskFailed)
		return
	}
	t.total.Store(int32(len(imgRefs)))
	t.emitUpdate()

	doc := t.engine.cfg.Get()
	format := doc.DownloadFormat
	chapterDir := t.chapter.ChapterDownloadDir

	filenames := make([]string, len(imgRefs))
	var wg sync.WaitGroup
	for i, ref := range imgRefs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, ok := t.downloadImage(i, ref, chapterDir, format)
			if ok {
				filenames[i] = name
			}
		}()
	}
	wg.Wait()

	if t.ctx.Err() != nil {
		// Cancelled mid-chapter; partial files stay as resume inputs.
		return
	}

	written := make([]string, 0, len(filenames))
	for _, name := range filenames {
		if name != "" {
			written = append(written, name)
		}
	}

	meta := &data.ChapterMetadata{
		ChapterID:      t.chapter.ChapterID,
		ChapterTitle:   t.chapter.ChapterTitle,
		Order:          t.chapter.Order,
		TotalImgCount:  len(imgRefs),
		ImageFilenames: written,
	}
	if err := t.engine.store.SaveChapterMetadata(chapterDir, meta); err != nil {
		logger.Error("saving chapter metadata failed", "error", err)
		t.setState(data.TaskFailed)
		return
	}

	if len(written) != len(imgRefs) {
		logger.Error("chapter incomplete",
			"downloaded", len(written), "total", len(imgRefs))
		t.setState(data.TaskFailed)
		return
	}

	t.finishChapter(logger)
}

// markChapterDownloaded folds the finished chapter into the comic document
// and rewrites the comic sidecar.
func (t *Task) markChapterDownloaded(logger *slog.Logger) {
	for i := range t.comic.ChapterInfos {
		if t.comic.ChapterInfos[i].ChapterID == t.chapter.ChapterID {
			t.comic.ChapterInfos[i].IsDownloaded = true
		}
	}
	t.comic.RefreshIsDownloaded()
	if err := t.engine.store.SaveComicMetadata(t.comic); err != nil {
		logger.Error("refreshing comic metadata failed", "error", err)
	}
	t.engine.index.Invalidate()
}

// finishChapter refreshes the comic sidecar, honors the inter-chapter
// interval and completes the task.
func (t *Task) finishChapter(logger *slog.Logger) {
	t.markChapterDownloaded(logger)

	interval := t.engine.cfg.Get().ChapterDownloadIntervalSec
	if interval > 0 {
		if err := t.engine.sleepWithCountdown(t.ctx, t.chapter.ChapterID, interval); err != nil {
			return
		}
	}

	logger.Info("chapter downloaded")
	t.setState(data.TaskCompleted)
}

// downloadImage fetches, converts and writes one image. It returns the final
// filename and whether the image ended up on disk.
func (t *Task) downloadImage(index int, ref data.ImageRef, chapterDir string, format data.DownloadFormat) (string, bool) {
	logger := t.engine.logger.With("comic", t.comic.Title, "chapter", t.chapter.ChapterTitle, "index", index+1)

	// Resume: skip images already on disk. Unsupported for Original, whose
	// extension is unknown until the bytes arrive.
	if ext := format.Extension(); ext != "" {
		name := imageFilename(index, ext)
		if info, err := os.Stat(filepath.Join(chapterDir, name)); err == nil && info.Size() > 0 {
			t.downloaded.Add(1)
			t.emitUpdate()
			return name, true
		}
	}

	if err := t.engine.imgSem.Acquire(t.ctx, 1); err != nil {
		return "", false
	}
	defer t.engine.imgSem.Release(1)

	// A pause issued while the permit was pending blocks here; the permit
	// stays held so resuming continues instantly.
	if err := t.gate.wait(t.ctx); err != nil {
		return "", false
	}

	raw, err := t.engine.client.DownloadImage(t.ctx, ref)
	if err != nil {
		if t.ctx.Err() == nil {
			logger.Error("image download failed", "url", ref.URL(), "error", err)
		}
		return "", false
	}

	converted, ext, err := imaging.Convert(raw, format)
	if err != nil {
		logger.Error("image conversion failed", "error", err)
		return "", false
	}

	name := imageFilename(index, ext)
	path := filepath.Join(chapterDir, name)
	if err := t.writeImage(path, converted); err != nil {
		logger.Error("image write failed", "path", path, "error", err)
		return "", false
	}

	t.engine.countBytes(len(raw))
	t.downloaded.Add(1)
	t.emitUpdate()

	// The inter-image interval counts against the image permit on purpose:
	// it is what actually throttles the upstream.
	if interval := t.engine.cfg.Get().ImgDownloadIntervalSec; interval > 0 {
		timer := time.NewTimer(time.Duration(interval) * time.Second)
		select {
		case <-t.ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return name, true
}

func (t *Task) writeImage(path string, raw []byte) error {
	var err error
	for attempt := 0; attempt <= imgWriteRetries; attempt++ {
		if err = imaging.WriteFile(path, raw); err == nil {
			return nil
		}
	}
	return err
}

func imageFilename(index int, ext string) string {
	return fmt.Sprintf("%03d.%s", index+1, ext)
}

func (t *Task) emitCreate() {
	t.engine.bus.Publish(events.DownloadTaskEvent{
		Type:               events.TaskCreate,
		State:              t.State(),
		ComicID:            t.comic.ID,
		ChapterID:          t.chapter.ChapterID,
		Comic:              t.comic,
		Chapter:            &t.chapter,
		DownloadedImgCount: int(t.downloaded.Load()),
		TotalImgCount:      int(t.total.Load()),
	})
}

func (t *Task) emitUpdate() {
	t.engine.bus.Publish(events.DownloadTaskEvent{
		Type:               events.TaskUpdate,
		State:              t.State(),
		ComicID:            t.comic.ID,
		ChapterID:          t.chapter.ChapterID,
		DownloadedImgCount: int(t.downloaded.Load()),
		TotalImgCount:      int(t.total.Load()),
	})
}

// pauseGate blocks image issuance while a task is paused.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{} // non-nil while paused; closed on resume
}

func newPauseGate() *pauseGate { return &pauseGate{} }

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
}

// wait returns once the gate is open or the context is cancelled.
func (g *pauseGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.ch
		g.mu.Unlock()
		if ch == nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
