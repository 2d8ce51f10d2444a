package worker

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent is either a changed path or a watch error.
type ChangeEvent struct {
	Err  error
	Path string
}

type Watch interface {
	Events() <-chan ChangeEvent
	Close() error
}

type Watcher interface {
	Watch(root string) (Watch, error)
}

// FSWatcher watches a directory tree with fsnotify. Directories named .git
// are neither watched nor reported.
type FSWatcher struct {
	Logger *slog.Logger
}

func NewFSWatcher(logger *slog.Logger) *FSWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSWatcher{Logger: logger}
}

func (w *FSWatcher) Watch(root string) (Watch, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err := addTree(fw, root); err != nil {
		w.Logger.Warn("recursive watch failed, watching root only", "path", root, "error", err)
		if err := fw.Add(root); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", root, err)
		}
	}

	h := &fsWatch{
		fw:     fw,
		events: make(chan ChangeEvent, 64),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.loop()
	return h, nil
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func inGitDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

type fsWatch struct {
	fw     *fsnotify.Watcher
	events chan ChangeEvent
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (h *fsWatch) Events() <-chan ChangeEvent {
	return h.events
}

func (h *fsWatch) loop() {
	defer close(h.exited)
	defer close(h.events)

	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.fw.Events:
			if !ok {
				return
			}
			if inGitDir(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addTree(h.fw, ev.Name)
				}
			}
			// Dropped when the consumer is behind; it already has a change pending.
			select {
			case h.events <- ChangeEvent{Path: ev.Name}:
			default:
			}
		case err, ok := <-h.fw.Errors:
			if !ok {
				return
			}
			select {
			case h.events <- ChangeEvent{Err: err}:
			case <-h.done:
				return
			}
		}
	}
}

func (h *fsWatch) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = h.fw.Close()
		<-h.exited
	})
	return err
}
