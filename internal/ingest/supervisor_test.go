package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testURL      = "rtsp://cam.local:554/live"
	waitFor      = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

type harness struct {
	sup      *Supervisor
	runner   *fakeRunner
	watcher  *fakeWatcher
	clock    *clockwork.FakeClock
	observer *recordingObserver
	cfg      Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

func newHarnessWith(t *testing.T, configure func(*Config)) *harness {
	t.Helper()

	cfg := Config{
		StreamID:        "cam",
		OutputDir:       t.TempDir(),
		StartTimeout:    15 * time.Second,
		StallTimeout:    10 * time.Second,
		InitialBackoff:  time.Second,
		MaxBackoff:      4 * time.Second,
		MaxRestarts:     3,
		StopGracePeriod: 5 * time.Second,
	}
	if configure != nil {
		configure(&cfg)
	}
	h := &harness{
		runner:   newFakeRunner(),
		watcher:  &fakeWatcher{},
		clock:    clockwork.NewFakeClock(),
		observer: &recordingObserver{},
		cfg:      cfg,
	}
	h.sup = NewSupervisor(cfg, h.runner, h.watcher, h.clock, h.observer)
	t.Cleanup(func() {
		if reaped, err := h.sup.Close(); err == nil {
			select {
			case <-reaped:
			case <-time.After(time.Second):
			}
		}
	})
	return h
}

func (h *harness) closeAndWait(t *testing.T) {
	t.Helper()
	reaped, err := h.sup.Close()
	require.NoError(t, err)
	select {
	case <-reaped:
	case <-time.After(waitFor):
		t.Fatal("transcoder was not reaped")
	}
}

func (h *harness) nextProcess(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-h.runner.launched:
		return p
	case <-time.After(waitFor):
		t.Fatal("transcoder was not launched")
		return nil
	}
}

// launched waits until the actor has adopted p, so its segments count.
func (h *harness) launched(t *testing.T) *fakeProcess {
	t.Helper()
	p := h.nextProcess(t)
	require.Eventually(t, func() bool {
		st, err := h.sup.Status()
		return err == nil && st.StartedAt != nil
	}, waitFor, pollInterval)
	return p
}

func (h *harness) segment(t *testing.T, name string) {
	t.Helper()
	select {
	case h.watcher.current().segments <- name:
	case <-time.After(waitFor):
		t.Fatal("supervisor did not consume segment event")
	}
	// Status is served after the segment has been handled.
	_, err := h.sup.Status()
	require.NoError(t, err)
}

func (h *harness) waitState(t *testing.T, want State) Status {
	t.Helper()
	var last Status
	require.Eventually(t, func() bool {
		st, err := h.sup.Status()
		if err != nil {
			return false
		}
		last = st
		return st.State == want
	}, waitFor, pollInterval, "want state %s", want)
	return last
}

func TestSupervisor_StartToRunning(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	st, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStarting, st.State)

	p := h.launched(t)
	assert.Equal(t, testURL, p.spec.InputURL)
	assert.Equal(t, h.cfg.OutputDir, p.spec.OutputDir)

	h.segment(t, "segment_000.ts")
	st = h.waitState(t, StateRunning)
	assert.NotNil(t, st.LastSegmentAt)
	assert.Zero(t, st.ConsecutiveFailures)

	states, _, _ := h.observer.snapshot()
	assert.Equal(t, []string{"stopped", "starting", "running"}, states)
}

func TestSupervisor_InvalidSourceFailsFast(t *testing.T) {
	h := newHarness(t)

	err := h.sup.Start("http://cam.local/live")
	assert.ErrorIs(t, err, domain.ErrInvalidSource)

	st, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, st.State)
	assert.Zero(t, h.runner.launchCount())
}

func TestSupervisor_StartIsIdempotentForSameURL(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	h.launched(t)
	require.NoError(t, h.sup.Start(testURL))
	require.NoError(t, h.sup.Start(testURL))

	h.segment(t, "segment_000.ts")
	h.waitState(t, StateRunning)
	assert.Equal(t, 1, h.runner.launchCount())
}

func TestSupervisor_URLChangeRestarts(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	first := h.launched(t)

	require.NoError(t, h.sup.Start("rtsp://cam.local:554/other"))
	second := h.nextProcess(t)

	assert.True(t, first.wasInterrupted())
	assert.Equal(t, "rtsp://cam.local:554/other", second.spec.InputURL)
	select {
	case <-first.Done():
	default:
		t.Fatal("previous transcoder must be reaped before the next one starts")
	}
}

func TestSupervisor_CrashRestartsWithBackoff(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)
	h.segment(t, "segment_000.ts")
	h.waitState(t, StateRunning)

	p.exit(errors.New("exit status 1: Connection refused"))

	st := h.waitState(t, StateDegraded)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "Connection refused")
	require.NotNil(t, st.NextRetryAt)
	assert.Equal(t, h.clock.Now().Add(h.cfg.InitialBackoff), *st.NextRetryAt)

	h.clock.Advance(h.cfg.InitialBackoff - time.Millisecond)
	st, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, st.State, "no restart before backoff elapses")

	h.clock.Advance(time.Millisecond)
	h.launched(t)
	st = h.waitState(t, StateStarting)
	assert.Equal(t, 1, st.RestartCount)

	h.segment(t, "segment_001.ts")
	st = h.waitState(t, StateRunning)
	assert.Zero(t, st.ConsecutiveFailures, "first segment resets the failure streak")
}

func TestSupervisor_FailsAfterMaxConsecutiveFailures(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))

	for attempt := 1; attempt <= h.cfg.MaxRestarts; attempt++ {
		p := h.launched(t)
		p.exit(errors.New("exit status 1"))

		if attempt == h.cfg.MaxRestarts {
			break
		}
		h.waitState(t, StateDegraded)
		h.clock.Advance(Backoff(h.cfg.InitialBackoff, h.cfg.MaxBackoff, attempt))
	}

	st := h.waitState(t, StateFailed)
	assert.Equal(t, h.cfg.MaxRestarts, st.ConsecutiveFailures)
	assert.Nil(t, st.NextRetryAt)

	h.clock.Advance(time.Hour)
	st, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, h.cfg.MaxRestarts, h.runner.launchCount(), "no automatic restart after Failed")

	_, failures, backoffs := h.observer.snapshot()
	assert.Equal(t, []string{"exit", "exit", "exit"}, failures)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, backoffs)

	// A new start recovers from Failed.
	require.NoError(t, h.sup.Start(testURL))
	h.launched(t)
	st = h.waitState(t, StateStarting)
	assert.Zero(t, st.ConsecutiveFailures)
}

func TestSupervisor_CleanExitIsAFailure(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)
	p.exit(nil)

	st := h.waitState(t, StateDegraded)
	assert.Contains(t, st.LastError, "exited unexpectedly")
}

func TestSupervisor_StartTimeout(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)

	h.clock.Advance(h.cfg.StartTimeout)

	st := h.waitState(t, StateDegraded)
	assert.Contains(t, st.LastError, "no segment produced")
	require.Eventually(t, p.wasInterrupted, waitFor, pollInterval)

	_, failures, _ := h.observer.snapshot()
	assert.Equal(t, []string{"start_timeout"}, failures)
}

func TestSupervisor_StallDetection(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)
	h.segment(t, "segment_000.ts")
	h.waitState(t, StateRunning)

	// Segments keep the stream alive.
	h.clock.Advance(h.cfg.StallTimeout - time.Second)
	h.segment(t, "segment_001.ts")
	h.clock.Advance(h.cfg.StallTimeout - time.Second)
	st, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	h.clock.Advance(time.Second)
	st = h.waitState(t, StateDegraded)
	assert.Contains(t, st.LastError, "no new segment")
	require.Eventually(t, p.wasInterrupted, waitFor, pollInterval)
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Stop())

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)
	require.NoError(t, h.sup.Stop())
	require.NoError(t, h.sup.Stop())

	st := h.waitState(t, StateStopped)
	assert.Nil(t, st.NextRetryAt)
	require.Eventually(t, p.wasInterrupted, waitFor, pollInterval)

	// The terminated process' exit does not trigger a restart.
	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.runner.launchCount())
}

func TestSupervisor_StopDuringBackoff(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	h.launched(t).exit(errors.New("exit status 1"))
	h.waitState(t, StateDegraded)

	require.NoError(t, h.sup.Stop())
	h.clock.Advance(time.Minute)

	h.waitState(t, StateStopped)
	assert.Equal(t, 1, h.runner.launchCount())
}

func TestSupervisor_KillAfterGracePeriod(t *testing.T) {
	h := newHarness(t)
	h.runner.ignoreInterrupt = true

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)
	require.NoError(t, h.sup.Stop())

	require.Eventually(t, p.wasInterrupted, waitFor, pollInterval)
	assert.False(t, p.wasKilled())

	require.NoError(t, h.clock.BlockUntilContext(context.Background(), 1))
	h.clock.Advance(h.cfg.StopGracePeriod)
	require.Eventually(t, p.wasKilled, waitFor, pollInterval)
}

func TestSupervisor_LaunchErrorIsAFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.startErr = errors.New("exec: \"ffmpeg\": executable file not found in $PATH")

	require.NoError(t, h.sup.Start(testURL))

	st := h.waitState(t, StateDegraded)
	assert.Contains(t, st.LastError, "executable file not found")
}

func TestSupervisor_WatchErrorIsAFailure(t *testing.T) {
	h := newHarness(t)
	h.watcher.watchFn = func(string) error { return errors.New("too many open files") }

	require.NoError(t, h.sup.Start(testURL))

	st := h.waitState(t, StateDegraded)
	assert.Contains(t, st.LastError, "too many open files")
	assert.Zero(t, h.runner.launchCount())
}

func TestSupervisor_CloseReapsAndEndsActor(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)

	h.closeAndWait(t)

	assert.True(t, p.wasInterrupted())
	assert.True(t, h.watcher.current().isClosed())

	assert.ErrorIs(t, h.sup.Start(testURL), ErrSupervisorClosed)
	_, err := h.sup.Status()
	assert.ErrorIs(t, err, ErrSupervisorClosed)
	h.closeAndWait(t)
}

func TestSupervisor_CloseDoesNotWaitForExit(t *testing.T) {
	h := newHarness(t)
	h.runner.ignoreInterrupt = true

	require.NoError(t, h.sup.Start(testURL))
	p := h.launched(t)

	reaped, err := h.sup.Close()
	require.NoError(t, err)
	require.Eventually(t, p.wasInterrupted, waitFor, pollInterval)

	select {
	case <-reaped:
		t.Fatal("reaped before the transcoder exited")
	default:
	}

	require.NoError(t, h.clock.BlockUntilContext(context.Background(), 1))
	h.clock.Advance(h.cfg.StopGracePeriod)

	select {
	case <-reaped:
	case <-time.After(waitFor):
		t.Fatal("transcoder was not reaped after the grace period")
	}
	assert.True(t, p.wasKilled())

	again, err := h.sup.Close()
	require.NoError(t, err)
	assert.Equal(t, reaped, again, "closing twice reports the same exit")
}

func TestSupervisor_FirstLaunchWaitsForPrevious(t *testing.T) {
	previous := make(chan struct{})
	h := newHarnessWith(t, func(cfg *Config) { cfg.Previous = previous })

	require.NoError(t, h.sup.Start(testURL))
	st, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStarting, st.State)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.runner.launchCount(), "launch waits for the previous transcoder")

	close(previous)
	h.launched(t)
	assert.Equal(t, 1, h.runner.launchCount())
}

func TestSupervisor_CloseWaitsForPrevious(t *testing.T) {
	previous := make(chan struct{})
	h := newHarnessWith(t, func(cfg *Config) { cfg.Previous = previous })

	require.NoError(t, h.sup.Start(testURL))
	reaped, err := h.sup.Close()
	require.NoError(t, err)

	select {
	case <-reaped:
		t.Fatal("reaped while the previous transcoder is still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(previous)
	select {
	case <-reaped:
	case <-time.After(waitFor):
		t.Fatal("reaped channel never closed")
	}
	assert.Zero(t, h.runner.launchCount(), "a closed supervisor never launches")
}

func TestSupervisor_StopClosesWatch(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start(testURL))
	h.launched(t)
	watch := h.watcher.current()

	require.NoError(t, h.sup.Stop())
	assert.True(t, watch.isClosed())

	require.NoError(t, h.sup.Start(testURL))
	h.launched(t)
	assert.NotSame(t, watch, h.watcher.current(), "a new launch opens a fresh watch")
}

func TestSupervisor_UnresponsiveActorTimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// No run goroutine: commands are never accepted.
	s := &Supervisor{cmdCh: make(chan supervisorCmd), done: make(chan struct{}), clock: clock}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Status()
		errCh <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(commandTimeout)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCommandTimeout)
	case <-time.After(waitFor):
		t.Fatal("status did not time out")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(time.Second, 30*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestStateMarshalText(t *testing.T) {
	b, err := StateDegraded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(b))
	assert.True(t, StateRunning.active())
	assert.False(t, StateFailed.active())
}
