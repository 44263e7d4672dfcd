package signal

import "sync"

// Signal is a named gettable/settable hardware value. Put is non-blocking;
// set-and-wait semantics are Put(v).Wait(timeout).
type Signal interface {
	Name() string
	Get() (float64, error)
	Put(v float64) *Status
}

type watcher struct {
	target float64
	st     *Status
}

// Value is an in-memory Signal. Puts complete immediately and wake any
// watchers waiting for the stored value to reach a target. It stands in for
// soft process variables like a ready-to-fly flag.
type Value struct {
	name string

	mu       sync.Mutex
	v        float64
	watchers []watcher
}

// NewValue returns a Value signal with the given name and initial value.
func NewValue(name string, initial float64) *Value {
	return &Value{name: name, v: initial}
}

func (s *Value) Name() string { return s.name }

func (s *Value) Get() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, nil
}

// Put stores v and resolves any watchers whose target it satisfies.
func (s *Value) Put(v float64) *Status {
	s.mu.Lock()
	s.v = v
	remaining := s.watchers[:0]
	var hit []*Status
	for _, w := range s.watchers {
		if w.target == v {
			hit = append(hit, w.st)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.watchers = remaining
	s.mu.Unlock()

	for _, st := range hit {
		st.Resolve(nil)
	}
	return NewFinishedStatus(nil)
}

// WaitFor returns a handle that resolves once the stored value equals
// target. It resolves immediately if the value already matches.
func (s *Value) WaitFor(target float64) *Status {
	s.mu.Lock()
	if s.v == target {
		s.mu.Unlock()
		return NewFinishedStatus(nil)
	}
	st := NewStatus()
	s.watchers = append(s.watchers, watcher{target: target, st: st})
	s.mu.Unlock()
	return st
}
