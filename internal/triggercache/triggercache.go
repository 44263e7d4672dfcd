// Package triggercache deduplicates device triggers. Detectors and stages
// must not be triggered again while a previous trigger is still settling;
// the cache hands back the in-flight completion handle instead of firing a
// second time.
package triggercache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aerobeam/flyscan/internal/monitoring"
	"github.com/aerobeam/flyscan/internal/signal"
)

// Cache tracks the in-flight trigger per device ID.
type Cache struct {
	mu       sync.Mutex
	inflight map[string]*signal.Status
}

func New() *Cache {
	return &Cache{inflight: make(map[string]*signal.Status)}
}

// Trigger fires the device unless a previous trigger is still pending, in
// which case the pending status is returned and fire is not called.
// Resolved entries are evicted on the next call.
func (c *Cache) Trigger(deviceID string, fire func() *signal.Status) *signal.Status {
	c.mu.Lock()

	if st, ok := c.inflight[deviceID]; ok {
		if !st.Done() {
			c.mu.Unlock()
			monitoring.Logf("trigger %s: still settling, reusing pending status", deviceID)
			return st
		}
		delete(c.inflight, deviceID)
	}

	requestID := uuid.NewString()
	monitoring.Logf("trigger %s: firing request %s", deviceID, requestID[:8])

	st := fire()
	if st == nil {
		st = signal.NewFinishedStatus(nil)
	}
	if !st.Done() {
		c.inflight[deviceID] = st
	}
	c.mu.Unlock()
	return st
}

// Pending reports whether a trigger for the device is still settling.
func (c *Cache) Pending(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.inflight[deviceID]
	return ok && !st.Done()
}

// Forget drops any cached entry for the device. The in-flight status, if
// any, is left to resolve on its own.
func (c *Cache) Forget(deviceID string) {
	c.mu.Lock()
	delete(c.inflight, deviceID)
	c.mu.Unlock()
}
