package filterbank

import (
	"fmt"
)

// SlotRole describes what a bank slot is used for.
type SlotRole string

const (
	RoleFilter        SlotRole = "filter"
	RoleShutterTop    SlotRole = "shutter_top"
	RoleShutterBottom SlotRole = "shutter_bottom"
)

// Slot is one position in the bank.
type Slot struct {
	Number    int
	Role      SlotRole
	Material  string
	Thickness float64
}

// Bank is an immutable description of a filter bank: which slots hold plain
// filters and which pair, if any, forms a shutter. Build one at startup
// from configuration; state lives in the hardware mask, not here.
type Bank struct {
	slots         map[int]Slot
	shutterTop    int
	shutterBottom int
}

// NewBank validates the slot assignments and builds a Bank. A shutter
// requires exactly one top and one bottom slot; a bank with neither is a
// plain filter bank.
func NewBank(slots []Slot) (*Bank, error) {
	b := &Bank{slots: make(map[int]Slot)}
	for _, s := range slots {
		if s.Number < 1 || s.Number > NumSlots {
			return nil, fmt.Errorf("slot %d out of range 1..%d", s.Number, NumSlots)
		}
		if _, dup := b.slots[s.Number]; dup {
			return nil, fmt.Errorf("slot %d assigned twice", s.Number)
		}
		switch s.Role {
		case RoleFilter:
		case RoleShutterTop:
			if b.shutterTop != 0 {
				return nil, fmt.Errorf("slots %d and %d both assigned shutter_top", b.shutterTop, s.Number)
			}
			b.shutterTop = s.Number
		case RoleShutterBottom:
			if b.shutterBottom != 0 {
				return nil, fmt.Errorf("slots %d and %d both assigned shutter_bottom", b.shutterBottom, s.Number)
			}
			b.shutterBottom = s.Number
		default:
			return nil, fmt.Errorf("slot %d has unknown role %q", s.Number, s.Role)
		}
		b.slots[s.Number] = s
	}
	if (b.shutterTop == 0) != (b.shutterBottom == 0) {
		return nil, fmt.Errorf("shutter requires both a top and a bottom slot")
	}
	return b, nil
}

// HasShutter reports whether a pair of slots is configured as a shutter.
func (b *Bank) HasShutter() bool {
	return b.shutterTop != 0
}

// Slot returns the configuration of the given slot, if assigned.
func (b *Bank) Slot(number int) (Slot, bool) {
	s, ok := b.slots[number]
	return s, ok
}

// FilterSlots returns the slot numbers holding plain filters, in order.
func (b *Bank) FilterSlots() []int {
	var out []int
	for n := 1; n <= NumSlots; n++ {
		if s, ok := b.slots[n]; ok && s.Role == RoleFilter {
			out = append(out, n)
		}
	}
	return out
}

// OpenShutter returns the mask that opens the shutter.
func (b *Bank) OpenShutter(old Mask) (Mask, error) {
	if !b.HasShutter() {
		return old, fmt.Errorf("bank has no shutter")
	}
	return SetShutter(old, b.shutterTop, b.shutterBottom, ShutterOpen)
}

// CloseShutter returns the mask that closes the shutter.
func (b *Bank) CloseShutter(old Mask) (Mask, error) {
	if !b.HasShutter() {
		return old, fmt.Errorf("bank has no shutter")
	}
	return SetShutter(old, b.shutterTop, b.shutterBottom, ShutterClosed)
}

// ShutterState decodes the shutter position from the bank mask.
func (b *Bank) ShutterState(mask Mask) ShutterState {
	if !b.HasShutter() {
		return ShutterUnknown
	}
	return ShutterStateOf(mask, b.shutterTop, b.shutterBottom)
}

// InsertFilter returns the mask with the given filter slot in the beam.
// Shutter blades cannot be driven as individual filters.
func (b *Bank) InsertFilter(old Mask, slot int) (Mask, error) {
	if err := b.checkFilterSlot(slot); err != nil {
		return old, err
	}
	return old | SlotBit(slot), nil
}

// RemoveFilter returns the mask with the given filter slot out of the beam.
func (b *Bank) RemoveFilter(old Mask, slot int) (Mask, error) {
	if err := b.checkFilterSlot(slot); err != nil {
		return old, err
	}
	return old &^ SlotBit(slot), nil
}

func (b *Bank) checkFilterSlot(slot int) error {
	s, ok := b.slots[slot]
	if !ok {
		return fmt.Errorf("slot %d is not assigned", slot)
	}
	if s.Role != RoleFilter {
		return fmt.Errorf("slot %d is a shutter blade, not a filter", slot)
	}
	return nil
}
