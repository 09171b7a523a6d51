package ingest

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports segment files appearing in an output directory.
type Watcher interface {
	Watch(dir string) (Watch, error)
}

type Watch interface {
	// Segments yields the names of written segment files. Notifications may
	// be coalesced when the consumer is slow.
	Segments() <-chan string
	Close() error
}

// FSWatcher implements Watcher with fsnotify.
type FSWatcher struct{}

func (FSWatcher) Watch(dir string) (Watch, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := inner.Add(dir); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &fsWatch{
		inner:    inner,
		segments: make(chan string, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

type fsWatch struct {
	inner    *fsnotify.Watcher
	segments chan string
	done     chan struct{}
}

func (w *fsWatch) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !isSegmentFile(name) {
				continue
			}
			select {
			case w.segments <- name:
			default:
			}

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			slog.Warn("Segment watcher error", "error", err)
		}
	}
}

func (w *fsWatch) Segments() <-chan string { return w.segments }

func (w *fsWatch) Close() error {
	err := w.inner.Close()
	<-w.done
	return err
}

func isSegmentFile(name string) bool {
	return strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m4s")
}
