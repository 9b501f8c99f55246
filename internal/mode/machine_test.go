package mode

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock advances only when the machine sleeps.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(d)
	return nil
}

// fakeUploader counts Handle calls and can run a hook on each one.
type fakeUploader struct {
	calls  int
	onCall func(n int)
	ctx    context.Context
}

func (u *fakeUploader) Handle(ctx context.Context) {
	u.calls++
	u.ctx = ctx
	if u.onCall != nil {
		u.onCall(u.calls)
	}
}

func newTestMachine() (*Machine, *fakeClock, *fakeUploader) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	up := &fakeUploader{}
	m := NewMachine(up, clock.Now)
	m.Sleep = clock.Sleep
	return m, clock, up
}

func TestAdvanceNormalWithoutTrigger(t *testing.T) {
	m, _, up := newTestMachine()

	if err := m.Advance(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.calls != 0 {
		t.Errorf("uploader serviced %d times in Normal mode", up.calls)
	}
	if m.State() != Normal {
		t.Errorf("state: got %v, want normal", m.State())
	}
}

func TestTriggerIsDeferredToAdvance(t *testing.T) {
	m, _, _ := newTestMachine()

	m.Trigger()
	if m.State() != Normal {
		t.Errorf("Trigger must not switch state by itself, got %v", m.State())
	}
	if !m.Pending() {
		t.Error("expected a pending request after Trigger")
	}
}

func TestWindowTimesOut(t *testing.T) {
	m, clock, up := newTestMachine()
	start := clock.Now()

	var enteredDeadline time.Time
	var outcome Outcome
	var waited time.Duration
	m.OnEnter = func(deadline time.Time) { enteredDeadline = deadline }
	m.OnExit = func(o Outcome, w time.Duration) { outcome, waited = o, w }

	var sawWaiting bool
	up.onCall = func(int) {
		if m.State() == MaintenanceWaiting {
			sawWaiting = true
		}
	}

	m.Trigger()
	if err := m.Advance(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !sawWaiting {
		t.Error("uploader should be serviced in MaintenanceWaiting")
	}
	if m.State() != Normal {
		t.Errorf("state after window: got %v, want normal", m.State())
	}
	if !enteredDeadline.Equal(start.Add(Window)) {
		t.Errorf("deadline: got %v, want %v", enteredDeadline, start.Add(Window))
	}
	if outcome != OutcomeTimeout {
		t.Errorf("outcome: got %q, want timeout", outcome)
	}
	if elapsed := clock.Now().Sub(start); elapsed > Window {
		t.Errorf("window lasted %v, more than %v", elapsed, Window)
	}
	if waited != Window {
		t.Errorf("waited: got %v, want %v", waited, Window)
	}
	// No Handle call once the window has no time left
	if want := int(Window / PollInterval); up.calls != want {
		t.Errorf("Handle calls: got %d, want %d", up.calls, want)
	}
	if m.Pending() {
		t.Error("request should be consumed")
	}
}

func TestWindowEndsOnCompletion(t *testing.T) {
	m, clock, up := newTestMachine()
	start := clock.Now()

	var outcome Outcome
	m.OnExit = func(o Outcome, _ time.Duration) { outcome = o }
	up.onCall = func(n int) {
		if n == 50 {
			m.Complete()
		}
	}

	m.Trigger()
	if err := m.Advance(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != OutcomeCompleted {
		t.Errorf("outcome: got %q, want completed", outcome)
	}
	if up.calls != 50 {
		t.Errorf("Handle calls: got %d, want 50", up.calls)
	}
	if got := clock.Now().Sub(start); got != 49*PollInterval {
		t.Errorf("elapsed: got %v, want %v", got, 49*PollInterval)
	}
}

func TestUploadErrorsDoNotEndWindow(t *testing.T) {
	m, _, up := newTestMachine()

	var outcome Outcome
	m.OnExit = func(o Outcome, _ time.Duration) { outcome = o }
	// A failed attempt followed by a retry that succeeds
	up.onCall = func(n int) {
		if n == 300 {
			m.Complete()
		}
	}

	m.Trigger()
	m.Advance(context.Background())

	if outcome != OutcomeCompleted {
		t.Errorf("outcome: got %q, want completed", outcome)
	}
	if up.calls != 300 {
		t.Errorf("Handle calls: got %d, want 300", up.calls)
	}
}

func TestCompleteOutsideWindowIgnored(t *testing.T) {
	m, _, up := newTestMachine()

	m.Complete()
	m.Trigger()

	var outcome Outcome
	m.OnExit = func(o Outcome, _ time.Duration) { outcome = o }
	m.Advance(context.Background())

	if outcome != OutcomeTimeout {
		t.Errorf("stale completion should not end the window, got %q", outcome)
	}
	if up.calls < 2 {
		t.Errorf("expected the window to run, got %d calls", up.calls)
	}
}

func TestTriggerDuringWindowIgnored(t *testing.T) {
	m, _, up := newTestMachine()
	up.onCall = func(n int) {
		m.Trigger()
		if n == 3 {
			m.Complete()
		}
	}

	m.Trigger()
	m.Advance(context.Background())

	if m.Pending() {
		t.Error("trigger during a window must not queue another window")
	}
}

func TestDeadlineOnlyInWindow(t *testing.T) {
	m, clock, up := newTestMachine()
	if !m.Deadline().IsZero() {
		t.Error("Normal mode should have no deadline")
	}

	var inWindow time.Time
	up.onCall = func(int) {
		inWindow = m.Deadline()
		m.Complete()
	}
	start := clock.Now()
	m.Trigger()
	m.Advance(context.Background())

	if !inWindow.Equal(start.Add(Window)) {
		t.Errorf("deadline in window: got %v", inWindow)
	}
	if !m.Deadline().IsZero() {
		t.Error("deadline should clear after the window")
	}
}

func TestHandleContextBoundedByWindow(t *testing.T) {
	m, _, up := newTestMachine()

	var remaining []time.Duration
	up.onCall = func(n int) {
		dl, ok := up.ctx.Deadline()
		if !ok {
			t.Fatal("Handle context has no deadline")
		}
		remaining = append(remaining, time.Until(dl))
		if n == 2 {
			m.Complete()
		}
	}

	m.Trigger()
	m.Advance(context.Background())

	if len(remaining) != 2 {
		t.Fatalf("Handle calls: got %d, want 2", len(remaining))
	}
	// The context deadline is wall time, so allow for test scheduling.
	if remaining[0] > Window || remaining[0] < Window-time.Second {
		t.Errorf("first round: got %v left, want about %v", remaining[0], Window)
	}
	if want := Window - PollInterval; remaining[1] > want || remaining[1] < want-time.Second {
		t.Errorf("second round: got %v left, want about %v", remaining[1], want)
	}
	if up.ctx.Err() == nil {
		t.Error("Handle context should be released after the round")
	}
}

func TestAdvanceCancelledDuringHandle(t *testing.T) {
	m, _, up := newTestMachine()
	ctx, cancel := context.WithCancel(context.Background())

	var outcome Outcome
	m.OnExit = func(o Outcome, _ time.Duration) { outcome = o }
	up.onCall = func(int) {
		cancel()
		if !errors.Is(up.ctx.Err(), context.Canceled) {
			t.Errorf("Handle context: got %v, want context.Canceled", up.ctx.Err())
		}
	}

	m.Trigger()
	if err := m.Advance(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Errorf("outcome: got %q, want cancelled", outcome)
	}
	if up.calls != 1 {
		t.Errorf("Handle calls: got %d, want 1", up.calls)
	}
}

func TestAdvanceCancelled(t *testing.T) {
	m, _, up := newTestMachine()
	ctx, cancel := context.WithCancel(context.Background())

	var outcome Outcome
	m.OnExit = func(o Outcome, _ time.Duration) { outcome = o }
	up.onCall = func(n int) {
		if n == 5 {
			cancel()
		}
	}

	m.Trigger()
	err := m.Advance(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Errorf("outcome: got %q, want cancelled", outcome)
	}
	if m.State() != Normal {
		t.Errorf("state: got %v, want normal", m.State())
	}
}

func TestSecondWindowAfterFirst(t *testing.T) {
	m, clock, up := newTestMachine()
	up.onCall = func(int) { m.Complete() }

	m.Trigger()
	m.Advance(context.Background())

	var deadline time.Time
	m.OnEnter = func(d time.Time) { deadline = d }
	second := clock.Now()
	m.Trigger()
	m.Advance(context.Background())

	if !deadline.Equal(second.Add(Window)) {
		t.Errorf("second window deadline: got %v, want %v", deadline, second.Add(Window))
	}
}

func TestRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if Normal.String() != "normal" {
		t.Errorf("Normal: got %q", Normal.String())
	}
	if MaintenanceWaiting.String() != "maintenance" {
		t.Errorf("MaintenanceWaiting: got %q", MaintenanceWaiting.String())
	}
}
