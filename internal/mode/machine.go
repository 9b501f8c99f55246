// Package mode arbitrates between normal operation and the time-bounded
// maintenance window in which the device only services firmware uploads.
package mode

import (
	"context"
	"fmt"
	"time"
)

// Window is how long the device waits for an upload once maintenance is
// requested. It is fixed and not configurable at runtime.
const Window = 120 * time.Second

// PollInterval is the pause between servicing rounds of the upload service.
const PollInterval = 10 * time.Millisecond

// State is the operating mode.
type State int

const (
	Normal State = iota
	MaintenanceWaiting
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case MaintenanceWaiting:
		return "maintenance"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome describes how a maintenance window ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Uploader is the upload service serviced during a maintenance window.
// Handle processes whatever upload work is pending and returns no later
// than ctx is done; it reports completion by calling Machine.Complete.
type Uploader interface {
	Handle(ctx context.Context)
}

// Machine is the mode state machine. It is driven from the loop goroutine
// only and is not safe for concurrent use.
type Machine struct {
	uploader Uploader
	now      func() time.Time

	state     State
	requested bool
	completed bool
	entered   time.Time
	deadline  time.Time

	// Sleep pauses between servicing rounds. It returns early with the
	// context error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnEnter is called when a window opens.
	OnEnter func(deadline time.Time)

	// OnExit is called when a window closes.
	OnExit func(outcome Outcome, waited time.Duration)
}

// NewMachine creates a machine in Normal mode.
func NewMachine(uploader Uploader, now func() time.Time) *Machine {
	return &Machine{
		uploader: uploader,
		now:      now,
		Sleep:    sleep,
	}
}

// State returns the current mode.
func (m *Machine) State() State { return m.state }

// Deadline returns the end of the current window, or the zero time in Normal mode.
func (m *Machine) Deadline() time.Time {
	if m.state != MaintenanceWaiting {
		return time.Time{}
	}
	return m.deadline
}

// Pending reports whether maintenance was requested but has not started yet.
func (m *Machine) Pending() bool { return m.requested }

// Trigger requests a maintenance window. The window starts on the next
// Advance. Repeated triggers before or during a window have no effect.
func (m *Machine) Trigger() {
	if m.state == Normal {
		m.requested = true
	}
}

// Complete reports that the upload finished. It ends the current window on
// the next check and is ignored outside a window.
func (m *Machine) Complete() {
	if m.state == MaintenanceWaiting {
		m.completed = true
	}
}

// Advance moves the machine forward. In Normal mode without a pending
// trigger it returns immediately. Otherwise it opens a window and blocks,
// servicing the uploader until the upload completes, the window elapses or
// ctx is done. Each Handle call gets a context that expires with the
// window. The machine is always back in Normal mode when Advance returns;
// the only error is the context's.
func (m *Machine) Advance(ctx context.Context) error {
	if m.state == Normal {
		if !m.requested {
			return nil
		}
		m.enter()
	}

	for {
		if remaining := m.deadline.Sub(m.now()); remaining > 0 {
			hctx, cancel := context.WithTimeout(ctx, remaining)
			m.uploader.Handle(hctx)
			cancel()
		}
		if m.completed {
			m.exit(OutcomeCompleted)
			return nil
		}
		remaining := m.deadline.Sub(m.now())
		if remaining <= 0 {
			m.exit(OutcomeTimeout)
			return nil
		}
		if err := m.Sleep(ctx, min(PollInterval, remaining)); err != nil {
			m.exit(OutcomeCancelled)
			return err
		}
	}
}

func (m *Machine) enter() {
	m.state = MaintenanceWaiting
	m.requested = false
	m.completed = false
	m.entered = m.now()
	m.deadline = m.entered.Add(Window)
	if m.OnEnter != nil {
		m.OnEnter(m.deadline)
	}
}

func (m *Machine) exit(outcome Outcome) {
	waited := m.now().Sub(m.entered)
	m.state = Normal
	m.completed = false
	m.deadline = time.Time{}
	if m.OnExit != nil {
		m.OnExit(outcome, waited)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
