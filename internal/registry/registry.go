// Package registry keeps the authoritative in-memory overlay set of every
// loaded stream. Readers get immutable snapshots swapped in atomically;
// writers copy, modify and swap under a per-stream mutex.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/keylock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const maxLoadAttempts = 3

// Snapshot is an immutable, ordered overlay set. Callers must not modify it.
type Snapshot struct {
	StreamID string           `json:"streamId"`
	Version  uint64           `json:"version"`
	Overlays []domain.Overlay `json:"overlays"`
}

// Loader reads a stream's overlays from the store.
type Loader interface {
	ListByStream(ctx context.Context, streamID string) ([]domain.Overlay, error)
}

// Observer is notified of snapshot swaps and loads. metrics.RegistryMetrics implements it.
type Observer interface {
	SnapshotSwapped(streamID string, overlays int)
	Loaded(err error)
}

type nopObserver struct{}

func (nopObserver) SnapshotSwapped(string, int) {}
func (nopObserver) Loaded(error)                {}

type Registry struct {
	loader   Loader
	observer Observer
	group    singleflight.Group
	locks    *keylock.Map[uuid.UUID]

	mu      sync.RWMutex
	streams map[string]*stream
	// epochs counts writes that hit a stream before it was loaded, so a load
	// that raced with such a write is retried.
	epochs map[string]uint64
}

type stream struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
	subs map[chan *Snapshot]struct{}
}

func New(loader Loader, observer Observer) *Registry {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Registry{
		loader:   loader,
		observer: observer,
		locks:    keylock.New[uuid.UUID](),
		streams:  make(map[string]*stream),
		epochs:   make(map[string]uint64),
	}
}

// Snapshot returns the current overlay set of a stream, loading it from the
// store on first access. A stream without overlays is only kept in memory
// once it has a subscriber, so reads of arbitrary ids do not pile up.
func (r *Registry) Snapshot(ctx context.Context, streamID string) (*Snapshot, error) {
	s, err := r.stream(ctx, streamID, false)
	if err != nil {
		return nil, err
	}
	return s.snap.Load(), nil
}

// Lookup finds an overlay in any loaded stream. Used to serve reads while
// the store is unavailable.
func (r *Registry) Lookup(id uuid.UUID) (domain.Overlay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.streams {
		for _, o := range s.snap.Load().Overlays {
			if o.ID == id {
				return o, true
			}
		}
	}
	return domain.Overlay{}, false
}

// Put inserts or replaces an overlay after a successful store write.
func (r *Registry) Put(o domain.Overlay) {
	r.mutate(o.StreamID, func(overlays []domain.Overlay) []domain.Overlay {
		idx := slices.IndexFunc(overlays, func(existing domain.Overlay) bool { return existing.ID == o.ID })
		if idx >= 0 {
			overlays[idx] = o
		} else {
			overlays = append(overlays, o)
		}
		slices.SortFunc(overlays, compareOverlays)
		return overlays
	})
}

// Remove drops an overlay after a successful store delete.
func (r *Registry) Remove(streamID string, id uuid.UUID) {
	r.mutate(streamID, func(overlays []domain.Overlay) []domain.Overlay {
		return slices.DeleteFunc(overlays, func(o domain.Overlay) bool { return o.ID == id })
	})
}

// Lock serializes mutations of one overlay id. Call the returned function to release.
func (r *Registry) Lock(id uuid.UUID) (unlock func()) {
	return r.locks.Lock(id)
}

// Subscribe delivers the current snapshot and every later one on the returned
// channel. Slow consumers skip intermediate versions but always see the latest.
func (r *Registry) Subscribe(ctx context.Context, streamID string) (<-chan *Snapshot, func(), error) {
	s, err := r.stream(ctx, streamID, true)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *Snapshot, 1)

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[chan *Snapshot]struct{})
	}
	s.subs[ch] = struct{}{}
	ch <- s.snap.Load()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (r *Registry) mutate(streamID string, fn func([]domain.Overlay) []domain.Overlay) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	if !ok {
		// Not loaded: the next load reads the write from the store.
		r.epochs[streamID]++
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snap.Load()
	next := &Snapshot{
		StreamID: streamID,
		Version:  current.Version + 1,
		Overlays: fn(slices.Clone(current.Overlays)),
	}
	s.snap.Store(next)
	r.observer.SnapshotSwapped(streamID, len(next.Overlays))

	for ch := range s.subs {
		publishLatest(ch, next)
	}
}

func (r *Registry) stream(ctx context.Context, streamID string, retainEmpty bool) (*stream, error) {
	r.mu.RLock()
	s, ok := r.streams[streamID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	key := streamID
	if retainEmpty {
		key += "\x00retain"
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.load(ctx, streamID, retainEmpty)
	})
	if err != nil {
		return nil, err
	}
	return v.(*stream), nil
}

func (r *Registry) load(ctx context.Context, streamID string, retainEmpty bool) (*stream, error) {
	for attempt := 1; attempt <= maxLoadAttempts; attempt++ {
		r.mu.RLock()
		epoch := r.epochs[streamID]
		r.mu.RUnlock()

		overlays, err := r.loader.ListByStream(ctx, streamID)
		r.observer.Loaded(err)
		if err != nil {
			return nil, fmt.Errorf("failed to load overlays for stream %s: %w", streamID, err)
		}
		slices.SortFunc(overlays, compareOverlays)

		r.mu.Lock()
		if existing, ok := r.streams[streamID]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		if r.epochs[streamID] != epoch {
			r.mu.Unlock()
			slog.Debug("Overlay registry load raced with a write, reloading", "stream_id", streamID, "attempt", attempt)
			continue
		}

		s := &stream{}
		s.snap.Store(&Snapshot{StreamID: streamID, Version: 1, Overlays: overlays})
		if len(overlays) == 0 && !retainEmpty {
			r.mu.Unlock()
			return s, nil
		}
		r.streams[streamID] = s
		delete(r.epochs, streamID)
		r.mu.Unlock()

		r.observer.SnapshotSwapped(streamID, len(overlays))
		return s, nil
	}
	return nil, fmt.Errorf("overlay registry load for stream %s kept racing with writes", streamID)
}

func publishLatest(ch chan *Snapshot, snap *Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	// Replace the unread older snapshot.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func compareOverlays(a, b domain.Overlay) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}
