// Package artifact discovers the output files produced by the document
// generator. A Watcher observes the configured output directory for the
// duration of one invocation; Discover is the scan fallback for files the
// watcher may have missed (fsnotify does not see files written into a
// subdirectory before its watch is registered).
package artifact

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultPatterns matches any regular file the generator writes.
var DefaultPatterns = []string{"**/*"}

// Watcher records files created under a directory tree while it is open.
type Watcher struct {
	dir      string
	patterns []string
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	created map[string]struct{}
	done    chan struct{}
}

// Watch starts observing dir (created if absent) and its subdirectories.
// Close must be called to release the underlying watches.
func Watch(dir string, patterns []string) (*Watcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		patterns: patterns,
		fsw:      fsw,
		created:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	// Watch the existing tree; new subdirectories are added as they appear.
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				_ = w.fsw.Add(ev.Name)
				continue
			}
			if w.matches(ev.Name) {
				w.mu.Lock()
				w.created[ev.Name] = struct{}{}
				w.mu.Unlock()
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal: Discover covers missed files.
		}
	}
}

// matches reports whether path, relative to the watched root, matches any
// of the configured patterns.
func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Created returns the files recorded so far, sorted.
func (w *Watcher) Created() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make([]string, 0, len(w.created))
	for f := range w.created {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Close stops watching and waits for the event loop to drain.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

// Discover scans dir for files matching patterns that were modified at or
// after since. It is the fallback when the Watcher recorded nothing.
func Discover(dir string, patterns []string, since time.Time) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The directory may not exist if the generator produced nothing.
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(since) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
