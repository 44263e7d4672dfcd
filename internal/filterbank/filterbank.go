// Package filterbank models a four-slot beamline filter bank whose slots
// hold attenuation foils, and optionally a pair of slots acting together as
// a fast shutter. The bank's hardware state is a single four-bit mask, one
// bit per slot, so shutter moves are a single mask write that drives both
// blades at once.
package filterbank

import (
	"fmt"
)

// NumSlots is the number of filter positions in a bank.
const NumSlots = 4

// Mask is the bank's combined slot state. Bit SlotBit(i) is set when slot i
// is inserted into the beam.
type Mask uint8

// SlotBit returns the mask bit for slot (1-based, slot 1 is the highest bit).
func SlotBit(slot int) Mask {
	return 1 << (NumSlots - slot)
}

// Inserted reports whether the given slot is in the beam.
func (m Mask) Inserted(slot int) bool {
	return m&SlotBit(slot) != 0
}

// ShutterState describes the combined position of a shutter's two blades.
type ShutterState int

const (
	ShutterOpen ShutterState = iota
	ShutterClosed
	ShutterTopClosed
	ShutterBottomClosed
	ShutterUnknown
)

func (s ShutterState) String() string {
	switch s {
	case ShutterOpen:
		return "open"
	case ShutterClosed:
		return "closed"
	case ShutterTopClosed:
		return "top_closed"
	case ShutterBottomClosed:
		return "bottom_closed"
	default:
		return "unknown"
	}
}

// SetShutter computes the bank mask that puts the shutter formed by the top
// and bottom slots into the requested state, preserving all other slots.
// The top blade blocks the beam when inserted; the bottom blade opens it.
func SetShutter(old Mask, top, bottom int, state ShutterState) (Mask, error) {
	var openBits, closeBits Mask
	switch state {
	case ShutterOpen:
		openBits = SlotBit(bottom)
		closeBits = SlotBit(top)
	case ShutterClosed:
		openBits = SlotBit(top)
		closeBits = SlotBit(bottom)
	default:
		return old, fmt.Errorf("cannot set shutter to state %v", state)
	}
	return (old | openBits) &^ closeBits, nil
}

// ShutterStateOf decodes the shutter state from a bank mask.
func ShutterStateOf(mask Mask, top, bottom int) ShutterState {
	topIn := mask.Inserted(top)
	bottomIn := mask.Inserted(bottom)
	switch {
	case !topIn && bottomIn:
		return ShutterOpen
	case topIn && !bottomIn:
		return ShutterClosed
	case topIn && bottomIn:
		return ShutterTopClosed
	default:
		return ShutterBottomClosed
	}
}
