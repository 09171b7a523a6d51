package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/google/uuid"
)

// --- Mock implementations ---

type mockOverlayRepo struct {
	getFn          func(ctx context.Context, id uuid.UUID) (*domain.Overlay, error)
	listFn         func(ctx context.Context) ([]domain.Overlay, error)
	listByStreamFn func(ctx context.Context, streamID string) ([]domain.Overlay, error)
	createFn       func(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error)
	updateFn       func(ctx context.Context, id uuid.UUID, patch domain.OverlayPatch) (*domain.Overlay, error)
	deleteFn       func(ctx context.Context, id uuid.UUID) error
}

func (m *mockOverlayRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Overlay, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrOverlayNotFound
}

func (m *mockOverlayRepo) List(ctx context.Context) ([]domain.Overlay, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockOverlayRepo) ListByStream(ctx context.Context, streamID string) ([]domain.Overlay, error) {
	if m.listByStreamFn != nil {
		return m.listByStreamFn(ctx, streamID)
	}
	return nil, nil
}

func (m *mockOverlayRepo) Create(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error) {
	if m.createFn != nil {
		return m.createFn(ctx, streamID, fields)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockOverlayRepo) Update(ctx context.Context, id uuid.UUID, patch domain.OverlayPatch) (*domain.Overlay, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockOverlayRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockSettingRepo struct {
	getFn    func(ctx context.Context, streamID string) (*domain.StreamSetting, error)
	upsertFn func(ctx context.Context, streamID, rtspURL string) (*domain.StreamSetting, error)
	listFn   func(ctx context.Context) ([]domain.StreamSetting, error)
}

func (m *mockSettingRepo) Get(ctx context.Context, streamID string) (*domain.StreamSetting, error) {
	if m.getFn != nil {
		return m.getFn(ctx, streamID)
	}
	return nil, domain.ErrSettingNotFound
}

func (m *mockSettingRepo) GetSetting(ctx context.Context, streamID string) (*domain.StreamSetting, error) {
	return m.Get(ctx, streamID)
}

func (m *mockSettingRepo) Upsert(ctx context.Context, streamID, rtspURL string) (*domain.StreamSetting, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, streamID, rtspURL)
	}
	return &domain.StreamSetting{StreamID: streamID, RTSPURL: rtspURL}, nil
}

func (m *mockSettingRepo) List(ctx context.Context) ([]domain.StreamSetting, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockInvalidator struct {
	mu      sync.Mutex
	streams []string
	err     error
}

func (m *mockInvalidator) InvalidateSetting(_ context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, streamID)
	return m.err
}

type mockSupervisor struct {
	mu       sync.Mutex
	previous <-chan struct{}
	starts   []string
	closes   int
	startErr error
	statusFn func() (ingest.Status, error)
	// reaped is returned by Close; nil means already exited.
	reaped chan struct{}
}

func (m *mockSupervisor) Start(rawURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, rawURL)
	return m.startErr
}

func (m *mockSupervisor) Status() (ingest.Status, error) {
	if m.statusFn != nil {
		return m.statusFn()
	}
	return ingest.Status{State: ingest.StateRunning}, nil
}

func (m *mockSupervisor) Close() (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if m.reaped != nil {
		return m.reaped, nil
	}
	done := make(chan struct{})
	close(done)
	return done, nil
}

func (m *mockSupervisor) startedWith() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.starts...)
}

func (m *mockSupervisor) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// supervisorFactory records every supervisor it builds. configure, when set,
// adjusts each new supervisor before it is handed out.
type supervisorFactory struct {
	mu        sync.Mutex
	built     map[string][]*mockSupervisor
	configure func(*mockSupervisor)
}

func newSupervisorFactory() *supervisorFactory {
	return &supervisorFactory{built: make(map[string][]*mockSupervisor)}
}

func (f *supervisorFactory) build(streamID string, previous <-chan struct{}) Supervisor {
	f.mu.Lock()
	defer f.mu.Unlock()
	sup := &mockSupervisor{previous: previous}
	if f.configure != nil {
		f.configure(sup)
	}
	f.built[streamID] = append(f.built[streamID], sup)
	return sup
}

func (f *supervisorFactory) supervisors(streamID string) []*mockSupervisor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockSupervisor(nil), f.built[streamID]...)
}

type forgetRecorder struct {
	ingest.NopObserver
	mu      sync.Mutex
	forgets []string
}

func (r *forgetRecorder) Forget(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgets = append(r.forgets, streamID)
}

func (r *forgetRecorder) forgotten() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.forgets...)
}
