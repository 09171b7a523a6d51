package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/logging"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout  = 5 * time.Second
	commandCapacity = 16
)

var (
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrCommandTimeout   = errors.New("supervisor command timed out")
)

// Failure reasons reported to the Observer.
const (
	reasonLaunch       = "launch"
	reasonExit         = "exit"
	reasonStartTimeout = "start_timeout"
	reasonStall        = "stall"
	reasonWatch        = "watch"
)

type Config struct {
	StreamID        string
	OutputDir       string
	StartTimeout    time.Duration
	StallTimeout    time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxRestarts     int
	StopGracePeriod time.Duration
	// Previous is closed once an earlier transcoder writing OutputDir has
	// exited. The first launch waits for it. Nil means nothing to wait for.
	Previous <-chan struct{}
}

// Status is a point-in-time view of a supervisor.
type Status struct {
	StreamID            string     `json:"streamId"`
	State               State      `json:"state"`
	RTSPURL             string     `json:"rtspUrl,omitempty"`
	RestartCount        int        `json:"restartCount"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	LastSegmentAt       *time.Time `json:"lastSegmentAt,omitempty"`
	NextRetryAt         *time.Time `json:"nextRetryAt,omitempty"`
	Manifest            *Manifest  `json:"manifest,omitempty"`
}

// supervisorCmd is the command interface for the Supervisor actor.
type supervisorCmd interface{ isSupervisorCmd() }

type baseSupervisorCmd struct{}

func (baseSupervisorCmd) isSupervisorCmd() {}

type startCmd struct {
	baseSupervisorCmd
	url          string
	replyChannel chan error
}

type stopCmd struct {
	baseSupervisorCmd
	replyChannel chan struct{}
}

type statusCmd struct {
	baseSupervisorCmd
	replyChannel chan Status
}

type shutdownCmd struct {
	baseSupervisorCmd
	replyChannel chan (<-chan struct{})
}

// Events posted back to the actor by launch goroutines.
type launchedEvent struct {
	generation uint64
	process    Process
	err        error
}

type exitedEvent struct {
	generation uint64
	err        error
}

// Supervisor owns the transcoder lifecycle of one stream.
type Supervisor struct {
	cfg      Config
	runner   Runner
	watcher  Watcher
	clock    clockwork.Clock
	observer Observer
	log      *slog.Logger

	cmdCh chan supervisorCmd
	// events is unbuffered so a launched process is either handed to the
	// actor or reaped by its launch goroutine, never dropped.
	events chan any
	done   chan struct{}

	// Owned by the run goroutine.
	state         State
	url           string
	generation    uint64
	process       Process
	lastRun       <-chan struct{}
	watch         Watch
	restartCount  int
	failures      int
	lastErr       string
	startedAt     time.Time
	lastSegmentAt time.Time
	nextRetryAt   time.Time
	startTimer    clockwork.Timer
	stallTimer    clockwork.Timer
	backoffTimer  clockwork.Timer
}

func NewSupervisor(cfg Config, runner Runner, watcher Watcher, clock clockwork.Clock, observer Observer) *Supervisor {
	if observer == nil {
		observer = NopObserver{}
	}
	lastRun := cfg.Previous
	if lastRun == nil {
		finished := make(chan struct{})
		close(finished)
		lastRun = finished
	}

	s := &Supervisor{
		cfg:      cfg,
		runner:   runner,
		watcher:  watcher,
		clock:    clock,
		observer: observer,
		cmdCh:    make(chan supervisorCmd, commandCapacity),
		events:   make(chan any),
		done:     make(chan struct{}),
		state:    StateStopped,
		lastRun:  lastRun,
		log:      logging.WithStream(cfg.StreamID),
	}
	observer.StateChanged(cfg.StreamID, StateStopped.String())
	go s.run()
	return s
}

// Start launches ingestion of rawURL. It returns once the command is accepted;
// the transcoder itself starts asynchronously. Calling Start again with the
// same URL while the supervisor is active is a no-op; a different URL, or a
// Failed or Stopped supervisor, triggers a fresh launch.
func (s *Supervisor) Start(rawURL string) error {
	if err := domain.ValidateRTSPURL(rawURL); err != nil {
		return err
	}

	replyCh := make(chan error, 1)
	if err := s.send(startCmd{url: rawURL, replyChannel: replyCh}); err != nil {
		return err
	}
	return awaitReply(s, replyCh, func(err error) error { return err })
}

// Stop terminates the transcoder (interrupt, then kill after the grace
// period) and moves to Stopped. Safe to call in any state.
func (s *Supervisor) Stop() error {
	replyCh := make(chan struct{}, 1)
	if err := s.send(stopCmd{replyChannel: replyCh}); err != nil {
		return err
	}
	return awaitReply(s, replyCh, func(struct{}) error { return nil })
}

// Status reports the current state. Manifest details are read from disk
// outside the actor.
func (s *Supervisor) Status() (Status, error) {
	replyCh := make(chan Status, 1)
	if err := s.send(statusCmd{replyChannel: replyCh}); err != nil {
		return Status{}, err
	}

	var status Status
	err := awaitReply(s, replyCh, func(st Status) error {
		status = st
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	if status.State == StateRunning || status.State == StateDegraded {
		if m, err := ReadManifest(s.cfg.OutputDir); err == nil {
			status.Manifest = m
		}
	}
	return status, nil
}

// Close stops the transcoder and ends the actor without waiting for the
// process to exit. The returned channel is closed once every transcoder this
// supervisor (or its predecessor) launched has been reaped. Close on a
// supervisor that already ended, e.g. after a panic, returns that channel too.
func (s *Supervisor) Close() (<-chan struct{}, error) {
	replyCh := make(chan (<-chan struct{}), 1)
	if err := s.send(shutdownCmd{replyChannel: replyCh}); err != nil {
		if errors.Is(err, ErrSupervisorClosed) {
			// lastRun is no longer written once done is closed.
			return s.lastRun, nil
		}
		return nil, err
	}

	select {
	case reaped := <-replyCh:
		return reaped, nil
	case <-s.done:
		select {
		case reaped := <-replyCh:
			return reaped, nil
		default:
			return s.lastRun, nil
		}
	}
}

func (s *Supervisor) send(cmd supervisorCmd) error {
	select {
	case <-s.done:
		return ErrSupervisorClosed
	default:
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case s.cmdCh <- cmd:
		return nil
	case <-s.done:
		return ErrSupervisorClosed
	case <-timer.Chan():
		return fmt.Errorf("%w: %T not accepted within %v", ErrCommandTimeout, cmd, commandTimeout)
	}
}

func awaitReply[T any](s *Supervisor, replyCh <-chan T, handle func(T) error) error {
	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-replyCh:
		return handle(v)
	case <-s.done:
		// The actor may have replied right before exiting.
		select {
		case v := <-replyCh:
			return handle(v)
		default:
			return ErrSupervisorClosed
		}
	case <-timer.Chan():
		return fmt.Errorf("%w: no reply within %v", ErrCommandTimeout, commandTimeout)
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Supervisor panic recovered", "panic", r)
			s.halt()
		}
	}()

	for {
		select {
		case cmd := <-s.cmdCh:
			switch c := cmd.(type) {
			case startCmd:
				c.replyChannel <- s.handleStart(c.url)
			case stopCmd:
				s.handleStop("stop requested")
				c.replyChannel <- struct{}{}
			case statusCmd:
				c.replyChannel <- s.status()
			case shutdownCmd:
				s.handleStop("shutdown")
				c.replyChannel <- s.lastRun
				return
			default:
				s.log.Warn("Supervisor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case ev := <-s.events:
			switch e := ev.(type) {
			case launchedEvent:
				s.handleLaunched(e)
			case exitedEvent:
				s.handleExited(e)
			}

		case name := <-s.segments():
			s.handleSegment(name)

		case <-timerChan(s.startTimer):
			s.startTimer = nil
			if s.state == StateStarting {
				s.fail(reasonStartTimeout, fmt.Errorf("no segment produced within %v", s.cfg.StartTimeout))
			}

		case <-timerChan(s.stallTimer):
			s.stallTimer = nil
			if s.state == StateRunning {
				s.fail(reasonStall, fmt.Errorf("no new segment within %v", s.cfg.StallTimeout))
			}

		case <-timerChan(s.backoffTimer):
			s.backoffTimer = nil
			if s.state == StateDegraded {
				s.restartCount++
				s.launch()
			}
		}
	}
}

func (s *Supervisor) handleStart(url string) error {
	if url == s.url && s.state.active() {
		return nil
	}

	s.terminate()
	s.url = url
	s.restartCount = 0
	s.failures = 0
	s.lastErr = ""
	s.launch()
	return nil
}

func (s *Supervisor) handleStop(reason string) {
	s.stopTimers()
	s.terminate()
	s.closeWatch()
	// Invalidate any launch still in flight.
	s.generation++
	s.failures = 0
	s.nextRetryAt = time.Time{}
	s.setState(StateStopped, reason)
}

// launch moves to Starting and spawns a launch goroutine that first waits
// for the previous transcoder to be reaped, so two processes never write
// the same output directory.
func (s *Supervisor) launch() {
	s.stopTimers()
	s.generation++
	s.nextRetryAt = time.Time{}
	s.startedAt = time.Time{}
	s.setState(StateStarting, "launching transcoder")

	if err := s.ensureWatch(); err != nil {
		s.fail(reasonWatch, err)
		return
	}

	s.startTimer = s.clock.NewTimer(s.cfg.StartTimeout)

	gen := s.generation
	spec := LaunchSpec{StreamID: s.cfg.StreamID, InputURL: s.url, OutputDir: s.cfg.OutputDir}
	prev := s.lastRun
	finished := make(chan struct{})
	s.lastRun = finished

	go func() {
		defer close(finished)

		select {
		case <-prev:
		case <-s.done:
			// Keep finished chained behind prev so Close callers wait for both.
			<-prev
			return
		}

		proc, err := s.runner.Start(context.Background(), spec)
		if !s.post(launchedEvent{generation: gen, process: proc, err: err}) {
			if proc != nil {
				s.reap(proc)
			}
			return
		}
		if err != nil {
			return
		}

		<-proc.Done()
		s.post(exitedEvent{generation: gen, err: proc.Err()})
	}()
}

func (s *Supervisor) handleLaunched(e launchedEvent) {
	if e.generation != s.generation {
		// Superseded by a stop or a newer start while launching.
		if e.process != nil {
			go s.reap(e.process)
		}
		return
	}
	if e.err != nil {
		s.fail(reasonLaunch, e.err)
		return
	}
	s.process = e.process
	s.startedAt = s.clock.Now()
}

func (s *Supervisor) handleExited(e exitedEvent) {
	if e.generation != s.generation {
		return
	}
	s.process = nil

	err := e.err
	if err == nil {
		err = errors.New("transcoder exited unexpectedly")
	}
	s.fail(reasonExit, err)
}

func (s *Supervisor) handleSegment(name string) {
	if s.process == nil || (s.state != StateStarting && s.state != StateRunning) {
		return
	}

	s.lastSegmentAt = s.clock.Now()
	s.observer.SegmentProduced(s.cfg.StreamID)

	if s.state == StateStarting {
		stopTimer(&s.startTimer)
		s.failures = 0
		s.lastErr = ""
		s.setState(StateRunning, "first segment "+name)
	}

	if s.stallTimer == nil {
		s.stallTimer = s.clock.NewTimer(s.cfg.StallTimeout)
	} else {
		s.stallTimer.Reset(s.cfg.StallTimeout)
	}
}

// fail records a failure and either schedules a restart or gives up.
func (s *Supervisor) fail(reason string, err error) {
	s.stopTimers()
	s.terminate()
	// Ignore the exit of the process we just terminated.
	s.generation++

	s.failures++
	s.lastErr = err.Error()
	s.observer.Failure(s.cfg.StreamID, reason)

	s.log.Warn("Transcoder failure",
		"reason", reason,
		"consecutive_failures", s.failures,
		"error", err,
	)

	if s.failures >= s.cfg.MaxRestarts {
		s.nextRetryAt = time.Time{}
		s.setState(StateFailed, fmt.Sprintf("%s: %v (%v)", reason, err, domain.ErrSubprocessFailure))
		return
	}

	delay := Backoff(s.cfg.InitialBackoff, s.cfg.MaxBackoff, s.failures)
	s.backoffTimer = s.clock.NewTimer(delay)
	s.nextRetryAt = s.clock.Now().Add(delay)
	s.observer.RestartScheduled(s.cfg.StreamID, delay)
	s.setState(StateDegraded, reason)
}

// terminate interrupts the current process and kills it after the grace
// period. It never blocks the actor.
func (s *Supervisor) terminate() {
	if s.process == nil {
		return
	}
	proc := s.process
	s.process = nil
	go s.reap(proc)
}

func (s *Supervisor) reap(proc Process) {
	if err := proc.Interrupt(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Debug("Transcoder interrupt failed", "error", err)
	}

	grace := s.clock.NewTimer(s.cfg.StopGracePeriod)
	defer grace.Stop()

	select {
	case <-proc.Done():
	case <-grace.Chan():
		s.log.Warn("Transcoder ignored interrupt, killing", "grace_period", s.cfg.StopGracePeriod)
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.log.Error("Transcoder kill failed", "error", err)
		}
		<-proc.Done()
	}
}

// halt is the panic path: terminate and mark failed without restarting.
func (s *Supervisor) halt() {
	s.stopTimers()
	s.terminate()
	s.closeWatch()
	s.setState(StateFailed, "supervisor panic")
}

func (s *Supervisor) setState(to State, reason string) {
	from := s.state
	s.state = to
	if from == to {
		return
	}
	s.observer.StateChanged(s.cfg.StreamID, to.String())
	s.log.Info("Ingest state changed",
		"from", from.String(),
		"to", to.String(),
		"restart_count", s.restartCount,
		"reason", reason,
	)
}

func (s *Supervisor) status() Status {
	st := Status{
		StreamID:            s.cfg.StreamID,
		State:               s.state,
		RTSPURL:             domain.RedactURL(s.url),
		RestartCount:        s.restartCount,
		ConsecutiveFailures: s.failures,
		LastError:           s.lastErr,
		StartedAt:           timePtr(s.startedAt),
		LastSegmentAt:       timePtr(s.lastSegmentAt),
		NextRetryAt:         timePtr(s.nextRetryAt),
	}
	return st
}

func (s *Supervisor) ensureWatch() error {
	if s.watch != nil {
		return nil
	}
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	w, err := s.watcher.Watch(s.cfg.OutputDir)
	if err != nil {
		return err
	}
	s.watch = w
	return nil
}

func (s *Supervisor) closeWatch() {
	if s.watch == nil {
		return
	}
	if err := s.watch.Close(); err != nil {
		s.log.Debug("Segment watcher close failed", "error", err)
	}
	s.watch = nil
}

func (s *Supervisor) segments() <-chan string {
	if s.watch == nil {
		return nil
	}
	return s.watch.Segments()
}

func (s *Supervisor) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) stopTimers() {
	stopTimer(&s.startTimer)
	stopTimer(&s.stallTimer)
	stopTimer(&s.backoffTimer)
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// timerChan returns nil for an inactive timer so its select case never fires.
func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
