package filterbank

import (
	"fmt"
	"sync"
)

// Controller tracks the last commanded bank mask and applies Bank
// transitions to it. The apply hook pushes each new mask to the hardware;
// when it fails the cached mask is left unchanged so the cache keeps
// matching what the bank is actually doing.
type Controller struct {
	bank  *Bank
	apply func(Mask) error

	mu   sync.Mutex
	mask Mask
}

// NewController wraps a Bank with commanded-mask state. apply may be nil
// when there is no hardware to drive, as in dev mode.
func NewController(bank *Bank, apply func(Mask) error) *Controller {
	return &Controller{bank: bank, apply: apply}
}

// Bank returns the slot configuration.
func (c *Controller) Bank() *Bank {
	return c.bank
}

// Mask returns the last commanded mask.
func (c *Controller) Mask() Mask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mask
}

func (c *Controller) transition(f func(Mask) (Mask, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := f(c.mask)
	if err != nil {
		return err
	}
	if c.apply != nil {
		if err := c.apply(next); err != nil {
			return fmt.Errorf("failed to apply filter mask: %w", err)
		}
	}
	c.mask = next
	return nil
}

// InsertFilter drives the given filter slot into the beam.
func (c *Controller) InsertFilter(slot int) error {
	return c.transition(func(old Mask) (Mask, error) {
		return c.bank.InsertFilter(old, slot)
	})
}

// RemoveFilter drives the given filter slot out of the beam.
func (c *Controller) RemoveFilter(slot int) error {
	return c.transition(func(old Mask) (Mask, error) {
		return c.bank.RemoveFilter(old, slot)
	})
}

// OpenShutter opens the shutter pair.
func (c *Controller) OpenShutter() error {
	return c.transition(c.bank.OpenShutter)
}

// CloseShutter closes the shutter pair.
func (c *Controller) CloseShutter() error {
	return c.transition(c.bank.CloseShutter)
}

// SlotStatus is the reported state of one bank slot.
type SlotStatus struct {
	Slot      int     `json:"slot"`
	Role      string  `json:"role"`
	Material  string  `json:"material,omitempty"`
	Thickness float64 `json:"thickness,omitempty"`
	Inserted  bool    `json:"inserted"`
}

// Status is a point-in-time snapshot of the bank.
type Status struct {
	Mask         uint8        `json:"mask"`
	Slots        []SlotStatus `json:"slots"`
	ShutterState string       `json:"shutter_state,omitempty"`
}

// Status reports each assigned slot and, when a shutter is configured, its
// decoded state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	mask := c.mask
	c.mu.Unlock()

	st := Status{Mask: uint8(mask)}
	for n := 1; n <= NumSlots; n++ {
		s, ok := c.bank.Slot(n)
		if !ok {
			continue
		}
		st.Slots = append(st.Slots, SlotStatus{
			Slot:      s.Number,
			Role:      string(s.Role),
			Material:  s.Material,
			Thickness: s.Thickness,
			Inserted:  mask.Inserted(s.Number),
		})
	}
	if c.bank.HasShutter() {
		st.ShutterState = c.bank.ShutterState(mask).String()
	}
	return st
}
