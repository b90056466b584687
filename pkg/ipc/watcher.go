package ipc

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// watchedDirs are the subdirectories whose created/renamed .json files get dispatched.
var watchedDirs = map[string]bool{
	DirOutput:            true,
	DirTasks:             true,
	DirApprovalDecisions: true,
}

// Event is one dispatch-worthy filesystem change: folder is the workspace folder, dir is the
// IPC subdirectory it landed in (output/tasks/approval_decisions), path is the full file path.
type Event struct {
	Folder string
	Dir    string
	Path   string
}

// Watcher observes data/ipc/ recursively and forwards Create/Rename events on .json files
// under the watched subdirectories to an async dispatch channel. It performs a one-shot sweep
// of existing files at startup to recover work left behind by a crash.
type Watcher struct {
	root    *Root
	fsw     *fsnotify.Watcher
	events  chan Event
}

// NewWatcher builds a Watcher rooted at root. Call Start to begin watching.
func NewWatcher(root *Root) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{root: root, fsw: fsw, events: make(chan Event, 256)}, nil
}

// Events returns the channel new Events are published on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start recursively registers every existing directory under the IPC root, sweeps existing
// files into the event channel (crash recovery), then begins watching for new changes in a
// background goroutine that runs until ctx is cancelled. It returns once watching has begun.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root.base); err != nil {
		return err
	}
	w.sweep()
	go w.loop(ctx)
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return nil // root doesn't exist yet; nothing under it is watched
			}
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// sweep enqueues every existing file under a watched subdirectory for every known folder —
// recovers events that fired while the host was down.
func (w *Watcher) sweep() {
	entries, err := filepath.Glob(filepath.Join(w.root.base, "*"))
	if err != nil {
		return
	}
	for _, folderPath := range entries {
		folder := filepath.Base(folderPath)
		for dir := range watchedDirs {
			files, err := w.root.ListSorted(folder, dir)
			if err != nil {
				continue
			}
			for _, f := range files {
				w.events <- Event{Folder: folder, Dir: dir, Path: f}
			}
		}
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("ipc watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Ext(ev.Name) != ".json" {
		return
	}
	rel, err := filepath.Rel(w.root.base, ev.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return // want <folder>/<dir>/<file>.json
	}
	folder, dir := parts[0], parts[1]
	if !watchedDirs[dir] {
		return
	}
	w.events <- Event{Folder: folder, Dir: dir, Path: ev.Name}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
