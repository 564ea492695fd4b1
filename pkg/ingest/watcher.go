package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of write events an editor typically
// produces for a single save into one re-ingestion.
const debounceDelay = 300 * time.Millisecond

// Watcher watches a corpus root for Markdown file changes and re-ingests
// the affected file through Pipeline.ReingestFile. A removed file is
// dropped from the vector store via DeleteBySource but not re-added to
// the graph.
type Watcher struct {
	pipeline *Pipeline
	root     string
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher builds a Watcher over root, adding every existing
// subdirectory to the underlying fsnotify watch set.
func NewWatcher(pipeline *Pipeline, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				slog.Warn("failed to watch directory", "path", path, "error", addErr)
			}
		}
		return nil
	})
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{pipeline: pipeline, root: root, watcher: fsw, done: make(chan struct{})}, nil
}

// Start begins watching in the background. Call Stop to end it.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(ctx)
}

// Stop ends the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]struct{})
	var mu sync.Mutex
	var timer *time.Timer

	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		mu.Unlock()

		for _, path := range paths {
			if err := w.pipeline.ReingestFile(ctx, w.root, path, nil); err != nil {
				slog.Warn("failed to re-ingest changed file", "path", path, "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
				continue
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			mu.Lock()
			pending[event.Name] = struct{}{}
			mu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("corpus file watcher error", "root", w.root, "error", err)
		}
	}
}
