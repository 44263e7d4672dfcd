package signal

import (
	"fmt"
	"sync"
	"time"
)

// Axis is a motion axis with non-blocking absolute moves. A move's Status
// resolves only when the position readback reaches the setpoint, not when
// the move command is acknowledged.
type Axis interface {
	// Move commands an absolute move and returns its completion handle.
	Move(pos float64) *Status
	// Readback returns the current axis position.
	Readback() (float64, error)
	// Setpoint returns the last commanded position.
	Setpoint() (float64, error)
	// Stop halts motion; any pending move resolves with ErrAborted.
	Stop() error
}

// ControllerAxis drives an axis through the controller's text command
// channel. Readbacks come from a caller-supplied poll function so the axis
// does not need to own the serial subscription.
type ControllerAxis struct {
	axis  string
	speed float64
	send  func(cmd string) error
	poll  func() (float64, error)

	// Deadband is how close the readback must get to the setpoint for a
	// move to count as arrived.
	Deadband float64
	// PollInterval spaces readback polls during a move.
	PollInterval time.Duration

	mu       sync.Mutex
	setpoint float64
	pending  *Status
	stopped  bool
}

// NewControllerAxis returns an axis that moves via MOVEABS commands on the
// named controller axis at the given slew speed.
func NewControllerAxis(axis string, speed float64, send func(string) error, poll func() (float64, error)) *ControllerAxis {
	return &ControllerAxis{
		axis:         axis,
		speed:        speed,
		send:         send,
		poll:         poll,
		Deadband:     0.001,
		PollInterval: 50 * time.Millisecond,
	}
}

// SetSpeed changes the commanded move speed for subsequent moves.
func (a *ControllerAxis) SetSpeed(speed float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speed = speed
}

func (a *ControllerAxis) Move(pos float64) *Status {
	a.mu.Lock()
	if a.pending != nil && !a.pending.Done() {
		a.mu.Unlock()
		return NewFinishedStatus(fmt.Errorf("%w: axis %s already moving", ErrHardwareFault, a.axis))
	}
	a.setpoint = pos
	a.stopped = false
	speed := a.speed
	st := NewStatus()
	a.pending = st
	a.mu.Unlock()

	cmd := fmt.Sprintf("MOVEABS %s %g F%g", a.axis, pos, speed)
	if err := a.send(cmd); err != nil {
		st.Resolve(fmt.Errorf("%w: move command failed: %v", ErrHardwareFault, err))
		return st
	}

	go a.watchArrival(st, pos)
	return st
}

// watchArrival polls the readback until it lands within the deadband of the
// target. The caller bounds the overall wait; this loop only exits on
// arrival, a poll error, or a stop.
func (a *ControllerAxis) watchArrival(st *Status, target float64) {
	ticker := time.NewTicker(a.PollInterval)
	defer ticker.Stop()
	for range ticker.C {
		if st.Done() {
			return
		}
		a.mu.Lock()
		stopped := a.stopped
		a.mu.Unlock()
		if stopped {
			st.Resolve(ErrAborted)
			return
		}
		rb, err := a.poll()
		if err != nil {
			st.Resolve(fmt.Errorf("%w: readback poll failed: %v", ErrHardwareFault, err))
			return
		}
		if diff := rb - target; diff <= a.Deadband && diff >= -a.Deadband {
			st.Resolve(nil)
			return
		}
	}
}

func (a *ControllerAxis) Readback() (float64, error) {
	return a.poll()
}

func (a *ControllerAxis) Setpoint() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setpoint, nil
}

// Stop aborts motion on the controller and fails the pending move.
func (a *ControllerAxis) Stop() error {
	a.mu.Lock()
	a.stopped = true
	pending := a.pending
	a.mu.Unlock()

	err := a.send(fmt.Sprintf("ABORT %s", a.axis))
	if pending != nil {
		pending.Resolve(ErrAborted)
	}
	return err
}
