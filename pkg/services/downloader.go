// Package services hosts the download engine and the command facade the UI
// collaborator talks to.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lanyeeee/picacomic-downloader/pkg/config"
	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/events"
	"github.com/lanyeeee/picacomic-downloader/pkg/pica"
)

// Downloader schedules chapter download tasks under two concurrency budgets:
// at most chapterConcurrency chapters fetch images at once, and at most
// imgConcurrency images are in flight across all of them. Both budgets are
// read once at construction; the inter-download sleep intervals are re-read
// from the config store on every use.
type Downloader struct {
	client *pica.Client
	cfg    *config.Store
	store  *data.MetadataStore
	index  *data.DownloadedIndex
	bus    *events.Bus
	logger *slog.Logger

	chapterSem *semaphore.Weighted
	imgSem     *semaphore.Weighted

	bytesThisTick atomic.Int64

	mu    sync.Mutex
	tasks map[string]*Task

	done    chan struct{}
	closeMu sync.Once
}

func NewDownloader(client *pica.Client, cfg *config.Store, store *data.MetadataStore, index *data.DownloadedIndex, bus *events.Bus) *Downloader {
	doc := cfg.Get()
	d := &Downloader{
		client:     client,
		cfg:        cfg,
		store:      store,
		index:      index,
		bus:        bus,
		logger:     slog.Default(),
		chapterSem: semaphore.NewWeighted(int64(doc.ChapterConcurrency)),
		imgSem:     semaphore.NewWeighted(int64(doc.ImgConcurrency)),
		tasks:      make(map[string]*Task),
		done:       make(chan struct{}),
	}
	go d.telemetryLoop()
	return d
}

// Close stops the telemetry loop and cancels every live task.
func (d *Downloader) Close() {
	d.closeMu.Do(func() { close(d.done) })
	d.mu.Lock()
	tasks := make([]*Task, 0, len(d.tasks))
	for _, task := range d.tasks {
		tasks = append(tasks, task)
	}
	d.mu.Unlock()
	for _, task := range tasks {
		task.cancel()
	}
}

// TaskID builds the registry key for a chapter download.
func TaskID(comicID, chapterID string) string {
	return comicID + "/" + chapterID
}

// CreateDownloadTask registers and starts a download task for one chapter.
// If a live task for the same (comicId, chapterId) already exists the call
// is a no-op returning that task.
func (d *Downloader) CreateDownloadTask(comic *data.Comic, chapterID string) (*Task, error) {
	doc := d.cfg.Get()

	snapshot := *comic
	snapshot.ChapterInfos = append([]data.ChapterInfo(nil), comic.ChapterInfos...)
	if err := snapshot.ResolveDownloadDirs(doc.DownloadDir, doc.ComicDirNameFmt, doc.ChapterDirNameFmt); err != nil {
		return nil, fmt.Errorf("resolve download dirs for comic %q: %w", comic.Title, err)
	}

	chapter, ok := snapshot.ChapterOf(chapterID)
	if !ok {
		return nil, fmt.Errorf("comic %q has no chapter with id %q", comic.Title, chapterID)
	}

	id := TaskID(comic.ID, chapterID)

	d.mu.Lock()
	if existing, ok := d.tasks[id]; ok && existing.State().Live() {
		d.mu.Unlock()
		return existing, nil
	}
	task := newTask(d, &snapshot, chapter)
	d.tasks[id] = task
	d.mu.Unlock()

	task.emitCreate()
	go task.run()

	d.logger.Debug("download task created", "comic", comic.Title, "chapter", chapter.ChapterTitle)
	return task, nil
}

// Task returns the registered task with the given id.
func (d *Downloader) Task(id string) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	task, ok := d.tasks[id]
	return task, ok
}

// PauseTask pauses a downloading task.
func (d *Downloader) PauseTask(id string) error {
	task, ok := d.Task(id)
	if !ok {
		return fmt.Errorf("no download task with id %q", id)
	}
	return task.Pause()
}

// ResumeTask resumes a paused task.
func (d *Downloader) ResumeTask(id string) error {
	task, ok := d.Task(id)
	if !ok {
		return fmt.Errorf("no download task with id %q", id)
	}
	return task.Resume()
}

// CancelTask cancels a live task. Partial files stay on disk; they are valid
// resume inputs for a later task.
func (d *Downloader) CancelTask(id string) error {
	task, ok := d.Task(id)
	if !ok {
		return fmt.Errorf("no download task with id %q", id)
	}
	return task.Cancel()
}

// countBytes feeds the speed telemetry.
func (d *Downloader) countBytes(n int) {
	d.bytesThisTick.Add(int64(n))
}

// telemetryLoop emits the per-second speed string and the aggregate progress
// over all non-terminal tasks.
func (d *Downloader) telemetryLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			bytes := d.bytesThisTick.Swap(0)
			d.bus.Publish(events.DownloadSpeedEvent{Speed: formatSpeed(bytes)})

			downloaded, total := d.overallProgress()
			if total == 0 {
				continue
			}
			d.bus.Publish(events.OverallProgressEvent{
				DownloadedImageCount: downloaded,
				TotalImageCount:      total,
				Percentage:           float64(downloaded) / float64(total) * 100,
			})
		}
	}
}

func (d *Downloader) overallProgress() (downloaded, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, task := range d.tasks {
		if task.State().Terminal() {
			continue
		}
		downloaded += int(task.downloaded.Load())
		total += int(task.total.Load())
	}
	return downloaded, total
}

func formatSpeed(bytesPerSec int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	if bytesPerSec >= mb {
		return fmt.Sprintf("%.2f MB/s", float64(bytesPerSec)/mb)
	}
	return fmt.Sprintf("%.2f KB/s", float64(bytesPerSec)/kb)
}

// sleepWithCountdown waits the configured number of seconds, emitting a
// countdown event per second so the UI can display the remaining wait.
func (d *Downloader) sleepWithCountdown(ctx context.Context, chapterID string, seconds int) error {
	for remaining := seconds; remaining > 0; remaining-- {
		d.bus.Publish(events.DownloadSleepingEvent{ChapterID: chapterID, RemainingSec: remaining})
		timer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
