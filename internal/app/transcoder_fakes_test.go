package app

import (
	"context"
	"errors"
	"sync"

	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
)

// stubbornRunner launches processes that ignore interrupts and only exit
// when killed. It tracks how many are alive at once.
type stubbornRunner struct {
	mu       sync.Mutex
	alive    int
	maxAlive int
	launches int
	launched chan struct{}
}

func newStubbornRunner() *stubbornRunner {
	return &stubbornRunner{launched: make(chan struct{}, 8)}
}

func (r *stubbornRunner) Start(context.Context, ingest.LaunchSpec) (ingest.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches++
	r.alive++
	r.maxAlive = max(r.maxAlive, r.alive)
	r.launched <- struct{}{}
	return &stubbornProcess{runner: r, done: make(chan struct{})}, nil
}

func (r *stubbornRunner) counts() (launches, alive, maxAlive int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches, r.alive, r.maxAlive
}

type stubbornProcess struct {
	runner *stubbornRunner
	once   sync.Once
	done   chan struct{}
}

func (p *stubbornProcess) Done() <-chan struct{} { return p.done }
func (p *stubbornProcess) Err() error            { return errors.New("signal: killed") }
func (p *stubbornProcess) Interrupt() error      { return nil }

func (p *stubbornProcess) Kill() error {
	p.once.Do(func() {
		p.runner.mu.Lock()
		p.runner.alive--
		p.runner.mu.Unlock()
		close(p.done)
	})
	return nil
}

type idleWatcher struct{}

func (idleWatcher) Watch(string) (ingest.Watch, error) { return idleWatch{}, nil }

type idleWatch struct{}

func (idleWatch) Segments() <-chan string { return nil }
func (idleWatch) Close() error            { return nil }
