package filterbank

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, apply func(Mask) error) *Controller {
	t.Helper()
	bank, err := NewBank([]Slot{
		{Number: 1, Role: RoleFilter, Material: "Al", Thickness: 0.25},
		{Number: 2, Role: RoleFilter, Material: "Ti", Thickness: 0.5},
		{Number: 3, Role: RoleShutterTop},
		{Number: 4, Role: RoleShutterBottom},
	})
	require.NoError(t, err)
	return NewController(bank, apply)
}

func TestControllerInsertRemove(t *testing.T) {
	t.Parallel()
	c := newTestController(t, nil)

	require.NoError(t, c.InsertFilter(1))
	assert.Equal(t, SlotBit(1), c.Mask())

	require.NoError(t, c.InsertFilter(2))
	assert.Equal(t, SlotBit(1)|SlotBit(2), c.Mask())

	require.NoError(t, c.RemoveFilter(1))
	assert.Equal(t, SlotBit(2), c.Mask())

	// shutter blades are not individually drivable
	assert.Error(t, c.InsertFilter(3))
	assert.Equal(t, SlotBit(2), c.Mask())
}

func TestControllerShutter(t *testing.T) {
	t.Parallel()
	c := newTestController(t, nil)

	require.NoError(t, c.CloseShutter())
	assert.Equal(t, "closed", c.Status().ShutterState)

	require.NoError(t, c.InsertFilter(1))
	require.NoError(t, c.OpenShutter())
	assert.Equal(t, "open", c.Status().ShutterState)
	// filter survives the shutter transition
	assert.True(t, c.Mask().Inserted(1))
}

func TestControllerApplyFailureKeepsMask(t *testing.T) {
	t.Parallel()
	boom := errors.New("bank offline")
	c := newTestController(t, func(Mask) error { return boom })

	err := c.InsertFilter(1)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Mask(0), c.Mask())
}

func TestControllerStatus(t *testing.T) {
	t.Parallel()
	var applied []Mask
	c := newTestController(t, func(m Mask) error {
		applied = append(applied, m)
		return nil
	})

	require.NoError(t, c.InsertFilter(2))
	require.NoError(t, c.CloseShutter())

	st := c.Status()
	require.Len(t, st.Slots, 4)
	assert.Equal(t, "Ti", st.Slots[1].Material)
	assert.True(t, st.Slots[1].Inserted)
	assert.False(t, st.Slots[0].Inserted)
	assert.Equal(t, "closed", st.ShutterState)
	assert.Equal(t, []Mask{SlotBit(2), SlotBit(2) | SlotBit(3)}, applied)
}
