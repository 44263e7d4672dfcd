package signal

import (
	"sync"
	"time"
)

// MockAxis simulates a motion axis for tests and dev mode. Moves settle
// after SettleDelay, at which point the readback jumps to the setpoint and
// the move status resolves. Every commanded target is recorded.
type MockAxis struct {
	// SettleDelay is how long a move takes to "arrive". Zero resolves
	// moves synchronously.
	SettleDelay time.Duration
	// MoveErr, when set, fails the next Move immediately.
	MoveErr error

	mu       sync.Mutex
	setpoint float64
	readback float64
	moves    []float64
	pending  *Status
}

// NewMockAxis returns a MockAxis resting at the given position.
func NewMockAxis(initial float64) *MockAxis {
	return &MockAxis{setpoint: initial, readback: initial}
}

func (a *MockAxis) Move(pos float64) *Status {
	a.mu.Lock()
	if err := a.MoveErr; err != nil {
		a.mu.Unlock()
		return NewFinishedStatus(err)
	}
	a.setpoint = pos
	a.moves = append(a.moves, pos)
	st := NewStatus()
	a.pending = st
	delay := a.SettleDelay
	a.mu.Unlock()

	settle := func() {
		a.mu.Lock()
		a.readback = pos
		a.mu.Unlock()
		st.Resolve(nil)
	}
	if delay == 0 {
		settle()
	} else {
		go func() {
			time.Sleep(delay)
			settle()
		}()
	}
	return st
}

func (a *MockAxis) Readback() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readback, nil
}

func (a *MockAxis) Setpoint() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setpoint, nil
}

// Stop fails any pending move with ErrAborted.
func (a *MockAxis) Stop() error {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending != nil {
		pending.Resolve(ErrAborted)
	}
	return nil
}

// Moves returns the targets commanded so far, in order.
func (a *MockAxis) Moves() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.moves))
	copy(out, a.moves)
	return out
}
