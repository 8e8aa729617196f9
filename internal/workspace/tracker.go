// Package workspace tracks filesystem changes in a project directory while an
// agent works on it. The resulting file list feeds the agent's change summary
// and the review workflow.
package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Tracker watches a project directory tree and records which files were
// created, modified or removed while it was running.
type Tracker struct {
	root    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	touched map[string]struct{}
}

// NewTracker starts watching the directory tree rooted at root. Dot
// directories (.git and friends) are skipped. Call Close when done.
func NewTracker(root string) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		root:    root,
		watcher: watcher,
		done:    make(chan struct{}),
		touched: make(map[string]struct{}),
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipDir(d.Name()) && path != root {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}

	go t.watch()
	return t, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor"
}

func (t *Tracker) watch() {
	for {
		select {
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handle(event)
		case <-t.watcher.Errors:
			// Keep watching; a missed event only costs a line in the summary.
		}
	}
}

func (t *Tracker) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if part != "." && skipDir(part) {
			return
		}
	}

	if event.Op&fsnotify.Create != 0 {
		// New subdirectories need their own watch.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(event.Name)) {
				t.watcher.Add(event.Name)
			}
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		t.mu.Lock()
		t.touched[rel] = struct{}{}
		t.mu.Unlock()
	}
}

// Files returns the sorted list of paths touched since the tracker started,
// relative to the root.
func (t *Tracker) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := make([]string, 0, len(t.touched))
	for f := range t.touched {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Reset clears the recorded changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched = make(map[string]struct{})
}

// Close stops watching. The recorded file list remains readable.
func (t *Tracker) Close() error {
	close(t.done)
	return t.watcher.Close()
}
