package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// saveQuiescence is how long the store waits for further Save calls before
// flushing to disk; concurrent saves inside the window coalesce into one
// write, last writer wins.
const saveQuiescence = 100 * time.Millisecond

// Observer is called with a copy of the document after every accepted change,
// whether it came from Save or from an external file edit.
type Observer func(Config)

// Store owns the settings document. Reads take a copy under a read lock;
// writes go through a single flusher goroutine.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	current   Config
	observers []Observer

	saveCh  chan saveRequest
	done    chan struct{}
	watcher *fsnotify.Watcher
	closeMu sync.Once
}

type saveRequest struct {
	doc   Config
	reply chan error
}

// NewStore loads the document at path, creating it with defaults when
// missing or unreadable, and starts the flusher and file watcher.
func NewStore(path string) (*Store, error) {
	store := &Store{
		path:   path,
		logger: slog.Default(),
		saveCh: make(chan saveRequest),
		done:   make(chan struct{}),
	}

	doc := Default()
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			store.logger.Warn("config file unreadable, falling back to defaults", "path", path, "error", err)
			doc = Default()
		}
	}
	if err := doc.Validate(); err != nil {
		store.logger.Warn("config file invalid, falling back to defaults", "path", path, "error", err)
		doc = Default()
	}
	store.current = doc

	// Write the (possibly defaulted) document back so the file always
	// exists with every field populated.
	if err := writeConfigAtomic(path, doc); err != nil {
		return nil, fmt.Errorf("persist initial config: %w", err)
	}

	go store.flushLoop()
	store.startWatcher()
	return store, nil
}

// Get returns a copy of the current document.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates and persists doc. The disk write is coalesced with
// concurrent saves inside the quiescence window, last writer wins. On write
// failure the in-memory value rolls back and the error is returned to every
// caller whose save was folded into the failed write.
func (s *Store) Save(doc Config) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	req := saveRequest{doc: doc, reply: make(chan error, 1)}
	select {
	case s.saveCh <- req:
		return <-req.reply
	case <-s.done:
		return fmt.Errorf("config store closed")
	}
}

// OnChange registers an observer. Observers run on the store's goroutines
// and must not call back into the store's write path.
func (s *Store) OnChange(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Close stops the flusher and watcher.
func (s *Store) Close() {
	s.closeMu.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

func (s *Store) flushLoop() {
	for {
		select {
		case <-s.done:
			return
		case first := <-s.saveCh:
			pending := []saveRequest{first}
			timer := time.NewTimer(saveQuiescence)
		collect:
			for {
				select {
				case req := <-s.saveCh:
					pending = append(pending, req)
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(saveQuiescence)
				case <-timer.C:
					break collect
				case <-s.done:
					timer.Stop()
					for _, req := range pending {
						req.reply <- fmt.Errorf("config store closed")
					}
					return
				}
			}

			winner := pending[len(pending)-1].doc
			err := s.commit(winner)
			for _, req := range pending {
				req.reply <- err
			}
		}
	}
}

// commit swaps the document in and flushes it; on flush failure the previous
// document is restored.
func (s *Store) commit(doc Config) error {
	s.mu.Lock()
	previous := s.current
	s.current = doc
	s.mu.Unlock()

	if err := writeConfigAtomic(s.path, doc); err != nil {
		s.mu.Lock()
		s.current = previous
		s.mu.Unlock()
		return fmt.Errorf("persist config: %w", err)
	}

	s.notify(doc)
	return nil
}

func (s *Store) notify(doc Config) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(doc)
	}
}

func (s *Store) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("config store runs without fs watcher", "error", err)
		return
	}
	// Watch the directory rather than the file: atomic-rename writers
	// (including this store) replace the inode on every save.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		s.logger.Warn("config dir not watchable", "error", err)
		watcher.Close()
		return
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path || !event.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				s.reloadFromDisk()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", "error", err)
			case <-s.done:
				return
			}
		}
	}()
}

// reloadFromDisk picks up external edits. Documents identical to the current
// one (e.g. the store's own rename being reported back) are ignored.
func (s *Store) reloadFromDisk() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var doc Config
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("ignoring unparseable external config edit", "path", s.path, "error", err)
		return
	}
	if err := doc.Validate(); err != nil {
		s.logger.Warn("ignoring invalid external config edit", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	same := configEqual(s.current, doc)
	if !same {
		s.current = doc
	}
	s.mu.Unlock()

	if !same {
		s.logger.Info("config reloaded from external edit", "path", s.path)
		s.notify(doc)
	}
}

func configEqual(a, b Config) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(rawA) == string(rawB)
}

func writeConfigAtomic(path string, doc Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %q: %w", dir, err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
