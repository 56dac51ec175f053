package data

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DownloadedIndex caches the comics discovered under the download root. The
// disk sidecars stay authoritative; the cache only avoids re-walking the
// tree on every query and is invalidated whenever the root changes on disk,
// externally or through the engine.
type DownloadedIndex struct {
	store  *MetadataStore
	logger *slog.Logger

	mu          sync.Mutex
	downloadDir string
	comics      []*Comic
	valid       bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewDownloadedIndex(store *MetadataStore, downloadDir string) *DownloadedIndex {
	idx := &DownloadedIndex{
		store:       store,
		logger:      slog.Default(),
		downloadDir: downloadDir,
		done:        make(chan struct{}),
	}
	idx.startWatcher()
	return idx
}

func (idx *DownloadedIndex) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		idx.logger.Warn("downloaded index runs without fs watcher", "error", err)
		return
	}
	if err := watcher.Add(idx.downloadDir); err != nil {
		// The root may not exist until the first download finishes; the
		// index then works in always-rescan mode.
		idx.logger.Debug("download root not watchable yet", "dir", idx.downloadDir, "error", err)
	}
	idx.watcher = watcher

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				idx.Invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				idx.logger.Warn("download root watcher error", "error", err)
			case <-idx.done:
				return
			}
		}
	}()
}

// SetDownloadDir points the index at a new root, e.g. after a config change.
func (idx *DownloadedIndex) SetDownloadDir(dir string) {
	idx.mu.Lock()
	old := idx.downloadDir
	idx.downloadDir = dir
	idx.valid = false
	idx.mu.Unlock()

	if idx.watcher != nil && old != dir {
		_ = idx.watcher.Remove(old)
		if err := idx.watcher.Add(dir); err != nil {
			idx.logger.Debug("download root not watchable yet", "dir", dir, "error", err)
		}
	}
}

// Invalidate drops the cached scan; the next query re-reads the disk.
func (idx *DownloadedIndex) Invalidate() {
	idx.mu.Lock()
	idx.valid = false
	idx.mu.Unlock()
}

// Close stops the watcher goroutine.
func (idx *DownloadedIndex) Close() {
	close(idx.done)
	if idx.watcher != nil {
		idx.watcher.Close()
	}
}

// DownloadedComics returns every comic with a readable sidecar under the
// download root, newest sidecar first, deduplicated by comic id. Duplicate
// directories for one id are logged and only the first kept.
func (idx *DownloadedIndex) DownloadedComics() []*Comic {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.valid {
		return idx.comics
	}

	idx.comics = idx.scan()
	idx.valid = true
	return idx.comics
}

// IsComicDownloaded reports whether the comic has a sidecar under the root.
func (idx *DownloadedIndex) IsComicDownloaded(comicID string) bool {
	for _, comic := range idx.DownloadedComics() {
		if comic.ID == comicID {
			return true
		}
	}
	return false
}

func (idx *DownloadedIndex) scan() []*Comic {
	entries, err := os.ReadDir(idx.downloadDir)
	if err != nil {
		return nil
	}

	type scanned struct {
		comic   *Comic
		modTime int64
	}
	var found []scanned
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		comicDir := filepath.Join(idx.downloadDir, entry.Name())
		comic, err := idx.store.LoadComicMetadata(comicDir)
		if err != nil {
			continue
		}
		var mod int64
		if info, err := entry.Info(); err == nil {
			mod = info.ModTime().UnixNano()
		}
		found = append(found, scanned{comic: comic, modTime: mod})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime > found[j].modTime })

	seen := make(map[string]string, len(found))
	comics := make([]*Comic, 0, len(found))
	for _, s := range found {
		if firstDir, dup := seen[s.comic.ID]; dup {
			idx.logger.Warn("duplicate comic versions in download dir, keeping the first",
				"comic_id", s.comic.ID,
				"kept_dir", firstDir,
				"skipped_dir", s.comic.ComicDownloadDir)
			continue
		}
		seen[s.comic.ID] = s.comic.ComicDownloadDir
		comics = append(comics, s.comic)
	}
	return comics
}
