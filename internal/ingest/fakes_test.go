package ingest

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeProcess struct {
	spec LaunchSpec

	mu              sync.Mutex
	err             error
	interrupted     bool
	killed          bool
	ignoreInterrupt bool
	done            chan struct{}
	once            sync.Once
}

func newFakeProcess(spec LaunchSpec) *fakeProcess {
	return &fakeProcess{spec: spec, done: make(chan struct{})}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Interrupt() error {
	p.mu.Lock()
	p.interrupted = true
	ignore := p.ignoreInterrupt
	p.mu.Unlock()
	if !ignore {
		p.exit(errors.New("signal: interrupt"))
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) wasInterrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeRunner struct {
	mu              sync.Mutex
	startErr        error
	ignoreInterrupt bool
	launches        int
	launched        chan *fakeProcess
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{launched: make(chan *fakeProcess, 32)}
}

func (r *fakeRunner) Start(_ context.Context, spec LaunchSpec) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches++
	if r.startErr != nil {
		return nil, r.startErr
	}
	p := newFakeProcess(spec)
	p.ignoreInterrupt = r.ignoreInterrupt
	r.launched <- p
	return p, nil
}

func (r *fakeRunner) launchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

type fakeWatcher struct {
	mu      sync.Mutex
	watch   *fakeWatch
	watchFn func(dir string) error
}

func (w *fakeWatcher) Watch(dir string) (Watch, error) {
	if w.watchFn != nil {
		if err := w.watchFn(dir); err != nil {
			return nil, err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watch = &fakeWatch{segments: make(chan string)}
	return w.watch, nil
}

func (w *fakeWatcher) current() *fakeWatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watch
}

type fakeWatch struct {
	segments chan string
	mu       sync.Mutex
	closed   bool
}

func (w *fakeWatch) Segments() <-chan string { return w.segments }

func (w *fakeWatch) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWatch) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []string
	failures []string
	backoffs []time.Duration
	segments int
}

func (o *recordingObserver) StateChanged(_, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) RestartScheduled(_ string, backoff time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backoffs = append(o.backoffs, backoff)
}

func (o *recordingObserver) Failure(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, reason)
}

func (o *recordingObserver) SegmentProduced(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.segments++
}

func (o *recordingObserver) Forget(string) {}

func (o *recordingObserver) snapshot() (states, failures []string, backoffs []time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.states...), append([]string(nil), o.failures...), append([]time.Duration(nil), o.backoffs...)
}
