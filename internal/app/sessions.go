package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/keylock"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ErrSessionsClosed is returned once the session manager has shut down.
var ErrSessionsClosed = errors.New("session manager is shut down")

// Supervisor is the ingestion lifecycle of one stream.
type Supervisor interface {
	Start(rawURL string) error
	Status() (ingest.Status, error)
	// Close ends the supervisor without waiting for its transcoder. The
	// returned channel is closed once the transcoder has exited.
	Close() (<-chan struct{}, error)
}

// SupervisorFactory builds the supervisor of a stream. previous, when not
// nil, is closed once the stream's last transcoder has exited; the new
// supervisor must not launch before that.
type SupervisorFactory func(streamID string, previous <-chan struct{}) Supervisor

// NewSupervisorFactory returns a factory writing each stream's output below
// outputRoot/<streamID>.
func NewSupervisorFactory(base ingest.Config, outputRoot string, runner ingest.Runner, watcher ingest.Watcher, clock clockwork.Clock, observer ingest.Observer) SupervisorFactory {
	return func(streamID string, previous <-chan struct{}) Supervisor {
		cfg := base
		cfg.StreamID = streamID
		cfg.OutputDir = filepath.Join(outputRoot, streamID)
		cfg.Previous = previous
		return ingest.NewSupervisor(cfg, runner, watcher, clock, observer)
	}
}

// SessionManager maps stream ids to their supervisor. There is at most one
// supervisor per stream, and a stream's next supervisor waits until the
// transcoder of the previous one has exited.
type SessionManager struct {
	settings      domain.SettingRepository
	source        domain.SettingSource
	invalidator   domain.SettingCacheInvalidator
	newSupervisor SupervisorFactory
	observer      ingest.Observer

	// streamLocks serializes Configure and Stop per stream so the supervisor
	// always follows the last persisted setting.
	streamLocks *keylock.Map[string]

	mu       sync.Mutex
	closed   bool
	sessions map[string]Supervisor
	// draining holds the exit channel of each stream's last closed supervisor
	// until a new supervisor takes it over.
	draining map[string]<-chan struct{}
}

func NewSessionManager(settings domain.SettingRepository, source domain.SettingSource, invalidator domain.SettingCacheInvalidator, newSupervisor SupervisorFactory, observer ingest.Observer) *SessionManager {
	if observer == nil {
		observer = ingest.NopObserver{}
	}
	return &SessionManager{
		settings:      settings,
		source:        source,
		invalidator:   invalidator,
		newSupervisor: newSupervisor,
		observer:      observer,
		streamLocks:   keylock.New[string](),
		sessions:      make(map[string]Supervisor),
		draining:      make(map[string]<-chan struct{}),
	}
}

// Configure persists the stream's source and (re)starts ingestion. An empty
// URL clears the source and stops ingestion.
func (m *SessionManager) Configure(ctx context.Context, streamID, rawURL string) (*domain.StreamSetting, error) {
	if err := domain.ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL != "" {
		if err := domain.ValidateRTSPURL(rawURL); err != nil {
			return nil, err
		}
	}

	unlock := m.streamLocks.Lock(streamID)
	defer unlock()

	setting, err := m.settings.Upsert(ctx, streamID, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to save stream setting: %w", err)
	}
	if m.invalidator != nil {
		if err := m.invalidator.InvalidateSetting(ctx, streamID); err != nil {
			slog.Warn("Failed to invalidate setting cache", "stream_id", streamID, "error", err)
		}
	}

	if rawURL == "" {
		if err := m.stop(streamID); err != nil {
			return setting, err
		}
		return setting, nil
	}

	if err := m.start(streamID, rawURL); err != nil {
		return setting, fmt.Errorf("failed to start ingestion: %w", err)
	}
	slog.Info("Stream configured", "stream_id", streamID, "rtsp_url", domain.RedactURL(rawURL))
	return setting, nil
}

// Setting returns the stream's persisted source, or an empty one when none
// has been configured.
func (m *SessionManager) Setting(ctx context.Context, streamID string) (*domain.StreamSetting, error) {
	if err := domain.ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	setting, err := m.source.GetSetting(ctx, streamID)
	if errors.Is(err, domain.ErrSettingNotFound) {
		return &domain.StreamSetting{StreamID: streamID}, nil
	}
	if err != nil {
		return nil, err
	}
	return setting, nil
}

// Health reports the ingestion status. Unknown streams are Stopped.
func (m *SessionManager) Health(streamID string) (ingest.Status, error) {
	if err := domain.ValidateStreamID(streamID); err != nil {
		return ingest.Status{}, err
	}

	m.mu.Lock()
	sup, ok := m.sessions[streamID]
	m.mu.Unlock()
	if !ok {
		return ingest.Status{StreamID: streamID, State: ingest.StateStopped}, nil
	}
	st, err := sup.Status()
	if errors.Is(err, ingest.ErrSupervisorClosed) {
		return closedStatus(streamID), nil
	}
	return st, err
}

// Statuses reports every live session.
func (m *SessionManager) Statuses() []ingest.Status {
	m.mu.Lock()
	sups := make(map[string]Supervisor, len(m.sessions))
	for id, sup := range m.sessions {
		sups[id] = sup
	}
	m.mu.Unlock()

	out := make([]ingest.Status, 0, len(sups))
	for id, sup := range sups {
		st, err := sup.Status()
		switch {
		case errors.Is(err, ingest.ErrSupervisorClosed):
			st = closedStatus(id)
		case err != nil:
			st = ingest.Status{StreamID: id, State: ingest.StateStopped, LastError: err.Error()}
		}
		out = append(out, st)
	}
	return out
}

// A supervisor only closes on its own after a panic.
func closedStatus(streamID string) ingest.Status {
	return ingest.Status{StreamID: streamID, State: ingest.StateFailed, LastError: ingest.ErrSupervisorClosed.Error()}
}

// Stop ends ingestion and removes the session. It returns once the
// transcoder has been told to stop; the process exits in the background.
// Stopping an unknown stream is not an error.
func (m *SessionManager) Stop(_ context.Context, streamID string) error {
	if err := domain.ValidateStreamID(streamID); err != nil {
		return err
	}
	unlock := m.streamLocks.Lock(streamID)
	defer unlock()
	return m.stop(streamID)
}

func (m *SessionManager) stop(streamID string) error {
	m.mu.Lock()
	sup, ok := m.sessions[streamID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.retire(streamID, sup); err != nil {
		return fmt.Errorf("failed to stop stream %s: %w", streamID, err)
	}
	m.observer.Forget(streamID)
	slog.Info("Stream stopped", "stream_id", streamID)
	return nil
}

// retire closes sup and replaces it by its exit channel, which the stream's
// next supervisor waits on.
func (m *SessionManager) retire(streamID string, sup Supervisor) error {
	reaped, err := sup.Close()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[streamID] == sup {
		delete(m.sessions, streamID)
	}
	m.draining[streamID] = reaped
	return nil
}

// start hands rawURL to the stream's supervisor, replacing a supervisor that
// ended after a panic.
func (m *SessionManager) start(streamID, rawURL string) error {
	sup, err := m.session(streamID)
	if err != nil {
		return err
	}
	err = sup.Start(rawURL)
	if !errors.Is(err, ingest.ErrSupervisorClosed) {
		return err
	}

	slog.Warn("Replacing closed supervisor", "stream_id", streamID)
	if err := m.retire(streamID, sup); err != nil {
		return err
	}
	if sup, err = m.session(streamID); err != nil {
		return err
	}
	return sup.Start(rawURL)
}

// Restore starts ingestion for every persisted setting with a source.
// Individual failures are logged; only a failed listing is returned.
func (m *SessionManager) Restore(ctx context.Context) error {
	settings, err := m.settings.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stream settings: %w", err)
	}

	restored := 0
	for _, s := range settings {
		if s.RTSPURL == "" {
			continue
		}
		if err := domain.ValidateRTSPURL(s.RTSPURL); err != nil {
			slog.Warn("Skipping stream with invalid source", "stream_id", s.StreamID, "error", err)
			continue
		}

		unlock := m.streamLocks.Lock(s.StreamID)
		err := m.start(s.StreamID, s.RTSPURL)
		unlock()
		if err != nil {
			slog.Error("Failed to restore stream", "stream_id", s.StreamID, "error", err)
			continue
		}
		restored++
	}
	slog.Info("Streams restored", "count", restored, "settings", len(settings))
	return nil
}

// Shutdown closes every supervisor and waits until all transcoders, including
// those of already stopped streams, are reaped or ctx expires. Later calls to
// Configure fail with ErrSessionsClosed.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]Supervisor)
	pending := make(map[string][]<-chan struct{}, len(sessions)+len(m.draining))
	for id, reaped := range m.draining {
		pending[id] = append(pending[id], reaped)
	}
	m.draining = make(map[string]<-chan struct{})
	m.mu.Unlock()

	var errs []error
	for id, sup := range sessions {
		reaped, err := sup.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", id, err))
			continue
		}
		pending[id] = append(pending[id], reaped)
	}

	var g errgroup.Group
	for id, chans := range pending {
		g.Go(func() error {
			defer m.observer.Forget(id)
			for _, reaped := range chans {
				select {
				case <-reaped:
				case <-ctx.Done():
					return fmt.Errorf("transcoder of stream %s not reaped: %w", id, ctx.Err())
				}
			}
			return nil
		})
	}
	errs = append(errs, g.Wait())
	return errors.Join(errs...)
}

// session returns the stream's supervisor, creating one behind the stream's
// draining transcoder if needed.
func (m *SessionManager) session(streamID string) (Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionsClosed
	}
	sup, ok := m.sessions[streamID]
	if !ok {
		sup = m.newSupervisor(streamID, m.draining[streamID])
		delete(m.draining, streamID)
		m.sessions[streamID] = sup
	}
	return sup, nil
}
