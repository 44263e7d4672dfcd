package pso

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerobeam/flyscan/internal/profile"
)

// recordingSender captures every command sent to the channel and can fail
// after a set number of sends.
type recordingSender struct {
	commands  []string
	failAfter int // fail the Nth send (1-based); 0 never fails
}

func (r *recordingSender) SendCommand(cmd string) error {
	if r.failAfter > 0 && len(r.commands)+1 == r.failAfter {
		return errors.New("write failed")
	}
	r.commands = append(r.commands, cmd)
	return nil
}

func intPtr(v int) *int { return &v }

func windowedWindow() profile.EncoderWindow {
	return profile.EncoderWindow{
		StepSizeCounts: 50,
		WindowStart:    intPtr(-5),
		WindowEnd:      intPtr(10000),
		UseWindow:      true,
	}
}

func TestEnablePSOWindowed(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@0", EncoderInput: 6}, sender)
	prof := &profile.Profile{Params: profile.ScanParameters{EncoderResolution: 0.001}, Direction: 1}

	require.NoError(t, ctl.EnablePSO(prof, windowedWindow()))

	want := []string{
		"PSOCONTROL @0 RESET",
		"PSOOUTPUT @0 CONTROL 1",
		"PSOPULSE @0 TIME 20, 10",
		"PSOOUTPUT @0 PULSE WINDOW MASK",
		"PSOTRACK @0 INPUT 6",
		"PSODISTANCE @0 FIXED 50",
		"PSOWINDOW @0 1 INPUT 6",
		"PSOWINDOW @0 1 RANGE -5,10000",
	}
	if diff := cmp.Diff(want, sender.commands); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestEnablePSONoWindow(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@0", EncoderInput: 6}, sender)
	prof := &profile.Profile{Params: profile.ScanParameters{EncoderResolution: 0.001}, Direction: 1}
	w := profile.EncoderWindow{StepSizeCounts: 50}

	require.NoError(t, ctl.EnablePSO(prof, w))

	want := []string{
		"PSOCONTROL @0 RESET",
		"PSOOUTPUT @0 CONTROL 1",
		"PSOPULSE @0 TIME 20, 10",
		"PSOOUTPUT @0 PULSE",
		"PSOTRACK @0 INPUT 6",
		"PSODISTANCE @0 FIXED 50",
	}
	if diff := cmp.Diff(want, sender.commands); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
}

// TestEnablePSOBadWindowForward checks that an unwindowed scan whose taxi
// overrun exceeds one pulse step fails before any command reaches the
// controller.
func TestEnablePSOBadWindowForward(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@0", EncoderInput: 6}, sender)
	prof := &profile.Profile{
		Params:    profile.ScanParameters{EncoderResolution: 1},
		Direction: 1,
		PSOEnd:    100,
		TaxiEnd:   110,
	}
	w := profile.EncoderWindow{StepSizeCounts: 5}

	err := ctl.EnablePSO(prof, w)
	require.Error(t, err)
	assert.True(t, errors.Is(err, profile.ErrInvalidScanParameters))
	assert.Empty(t, sender.commands, "no command may be sent for an infeasible window")
}

func TestEnablePSOBadWindowReverse(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@0", EncoderInput: 6}, sender)
	prof := &profile.Profile{
		Params:    profile.ScanParameters{EncoderResolution: 1},
		Direction: -1,
		PSOStart:  100,
		TaxiStart: 94,
	}
	w := profile.EncoderWindow{StepSizeCounts: 5}

	err := ctl.EnablePSO(prof, w)
	require.Error(t, err)
	assert.True(t, errors.Is(err, profile.ErrInvalidScanParameters))
	assert.Empty(t, sender.commands)
}

func TestEnablePSOStopsOnSendFailure(t *testing.T) {
	sender := &recordingSender{failAfter: 3}
	ctl := NewController(Config{Axis: "@0", EncoderInput: 6}, sender)
	prof := &profile.Profile{Params: profile.ScanParameters{EncoderResolution: 0.001}, Direction: 1}

	err := ctl.EnablePSO(prof, windowedWindow())
	require.Error(t, err)
	assert.Len(t, sender.commands, 2, "program must stop at the first failed command")
}

func TestArmPSO(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@0"}, sender)

	require.NoError(t, ctl.ArmPSO())
	require.Len(t, sender.commands, 1)
	assert.Equal(t, "PSOCONTROL @0 ARM", sender.commands[0])
}

func TestDisarmPSO(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@0"}, sender)

	require.NoError(t, ctl.DisarmPSO())
	require.Len(t, sender.commands, 1)
	assert.Equal(t, "PSOCONTROL @0 OFF", sender.commands[0])
}

func TestPulseTimingConfigurable(t *testing.T) {
	sender := &recordingSender{}
	ctl := NewController(Config{Axis: "@1", EncoderInput: 2, PulseOnMicros: 50, PulseOffMicros: 25}, sender)
	w := profile.EncoderWindow{StepSizeCounts: 100}

	cmds := ctl.EnableCommands(w)
	assert.Contains(t, cmds, "PSOPULSE @1 TIME 50, 25")
}
