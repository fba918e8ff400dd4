// Package history implements the resume/history document consumed by the
// core: a JSON file maintained by an external collaborator (the GUI's
// playback-history component) that this package reads resume offsets from
// and writes playback positions into.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/hashicorp/go-hclog"
)

// Entry is one resume-history record.
type Entry struct {
	Bookmark string `json:"bookmark"`
	Title    string `json:"title"`
	Path     string `json:"path"`
}

// document mirrors the on-disk JSON shape maintained by the GUI's history component exactly.
type document struct {
	Entries             []Entry            `json:"entries"`
	LastPlayedPath      *string            `json:"lastPlayedPath"`
	LastPlaybackSeconds *float64           `json:"lastPlaybackSeconds"`
	PlaybackOffsets     map[string]float64 `json:"playbackOffsets"`
}

func emptyDocument() document {
	return document{
		Entries:         []Entry{},
		PlaybackOffsets: map[string]float64{},
	}
}

// Store reads and writes the resume-history JSON document at path. Reads
// are served from an in-memory cache invalidated by an fsnotify watch on
// the containing directory, since an external process may rewrite the file
// while this process runs.
type Store struct {
	path   string
	logger hclog.Logger

	mu     sync.RWMutex
	cached *document

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Store for the history document at path. The parent
// directory is created if missing. Call Close to stop the background
// watcher.
func New(path string, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	s := &Store{
		path:   path,
		logger: logger.Named("history"),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watch unavailable, cache will not auto-invalidate", "error", err)
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		s.logger.Warn("could not watch history directory", "error", err)
		watcher.Close()
		return s, nil
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop()

	return s, nil
}

func (s *Store) watchLoop() {
	base := filepath.Base(s.path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.invalidate()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("history watch error", "error", err)
		case <-s.done:
			return
		}
	}
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Close stops the background watch. Safe to call on a Store whose watcher
// failed to start.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

func (s *Store) load() (document, error) {
	s.mu.RLock()
	if s.cached != nil {
		doc := *s.cached
		s.mu.RUnlock()
		return doc, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		doc := emptyDocument()
		s.mu.Lock()
		s.cached = &doc
		s.mu.Unlock()
		return doc, nil
	}
	if err != nil {
		return document{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.PlaybackOffsets == nil {
		doc.PlaybackOffsets = map[string]float64{}
	}

	s.mu.Lock()
	s.cached = &doc
	s.mu.Unlock()
	return doc, nil
}

// ResumeForURL returns the stored resume offset for path: playbackOffsets[path]
// if present, else lastPlaybackSeconds iff lastPlayedPath == path, else nil.
func (s *Store) ResumeForURL(path string) (*float64, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	if seconds, ok := doc.PlaybackOffsets[path]; ok {
		v := seconds
		return &v, nil
	}

	if doc.LastPlayedPath != nil && *doc.LastPlayedPath == path && doc.LastPlaybackSeconds != nil {
		v := *doc.LastPlaybackSeconds
		return &v, nil
	}

	return nil, nil
}

// RecordPosition sets playbackOffsets[path] = seconds and updates
// lastPlayedPath/lastPlaybackSeconds, then writes the document atomically
// (write-then-rename via renameio).
func (s *Store) RecordPosition(path string, seconds float64) error {
	doc, err := s.load()
	if err != nil {
		return err
	}

	doc.PlaybackOffsets[path] = seconds
	p := path
	doc.LastPlayedPath = &p
	sec := seconds
	doc.LastPlaybackSeconds = &sec

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cached = &doc
	s.mu.Unlock()
	return nil
}
