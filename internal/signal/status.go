// Package signal provides the hardware-facing primitives for the fly-scan
// core: named settable values, motion axes, and the non-blocking completion
// handles their operations return.
package signal

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Error kinds for hardware operations. Timeouts and aborts are hardware
// fault variants so callers can match the whole family with errors.Is.
var (
	ErrHardwareFault = errors.New("hardware fault")
	ErrTimeout       = fmt.Errorf("%w: operation timed out", ErrHardwareFault)
	ErrAborted       = fmt.Errorf("%w: operation aborted", ErrHardwareFault)
)

// Status is a one-shot completion handle for an asynchronous hardware
// operation. It is resolved exactly once, successfully or with an error,
// and must never be left outstanding: callers bound every wait with a
// timeout.
type Status struct {
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewStatus returns an unresolved Status.
func NewStatus() *Status {
	return &Status{done: make(chan struct{})}
}

// NewFinishedStatus returns a Status already resolved with err (nil for
// success).
func NewFinishedStatus(err error) *Status {
	s := NewStatus()
	s.Resolve(err)
	return s
}

// Resolve marks the operation finished. Only the first call has any effect.
func (s *Status) Resolve(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Done reports whether the operation has resolved.
func (s *Status) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the resolution error, or nil while unresolved or on success.
func (s *Status) Err() error {
	if !s.Done() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the operation resolves or the timeout elapses. An
// expired timeout returns ErrTimeout; the handle itself stays valid and may
// still resolve later.
func (s *Status) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// C returns a channel that is closed when the operation resolves, for use
// in select loops.
func (s *Status) C() <-chan struct{} {
	return s.done
}
