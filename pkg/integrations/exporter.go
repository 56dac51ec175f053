// Package integrations assembles downloaded chapters into distributable
// artifacts: CBZ and PDF per chapter, EPUB per comic.
package integrations

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/events"
)

// Exporter reads only the metadata sidecars and the image files on disk; it
// never talks to the upstream. Every export overwrites an existing artifact
// at the same path.
type Exporter struct {
	store  *data.MetadataStore
	bus    *events.Bus
	logger *slog.Logger
}

func NewExporter(store *data.MetadataStore, bus *events.Bus) *Exporter {
	return &Exporter{store: store, bus: bus, logger: slog.Default()}
}

// exportableChapters returns the chapters with a complete directory on disk,
// in reading order.
func (e *Exporter) exportableChapters(comic *data.Comic) ([]data.ChapterInfo, error) {
	var chapters []data.ChapterInfo
	for _, chapter := range comic.ChapterInfos {
		if chapter.IsDownloaded && chapter.ChapterDownloadDir != "" {
			chapters = append(chapters, chapter)
		}
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("comic %q has no downloaded chapters to export", comic.Title)
	}
	return chapters, nil
}

// run drives one export over the comic's chapters, emitting the progress
// event stream around the per-chapter export function.
func (e *Exporter) run(comic *data.Comic, kind string, export func(chapter data.ChapterInfo) error) error {
	chapters, err := e.exportableChapters(comic)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	e.bus.Publish(events.ExportEvent{
		Type:       events.ExportStart,
		UUID:       runID,
		ComicTitle: comic.Title,
		Total:      len(chapters),
	})

	for i, chapter := range chapters {
		if err := export(chapter); err != nil {
			e.bus.Publish(events.ExportEvent{Type: events.ExportError, UUID: runID, ErrMsg: err.Error()})
			return fmt.Errorf("export %s for chapter %q: %w", kind, chapter.ChapterTitle, err)
		}
		e.bus.Publish(events.ExportEvent{Type: events.ExportProgress, UUID: runID, Current: i + 1})
	}

	e.bus.Publish(events.ExportEvent{Type: events.ExportEnd, UUID: runID})
	e.logger.Info("export finished", "kind", kind, "comic", comic.Title, "chapters", len(chapters))
	return nil
}

// orderedImagePaths resolves the chapter's image files in sidecar order.
func (e *Exporter) orderedImagePaths(chapter data.ChapterInfo) (*data.ChapterMetadata, []string, error) {
	meta, err := e.store.LoadChapterMetadata(chapter.ChapterDownloadDir)
	if err != nil {
		return nil, nil, err
	}
	paths := make([]string, len(meta.ImageFilenames))
	for i, name := range meta.ImageFilenames {
		paths[i] = filepath.Join(chapter.ChapterDownloadDir, name)
	}
	return meta, paths, nil
}
