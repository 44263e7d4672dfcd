// Package pso programs the controller's Position Synchronized Output: the
// pulse train fired as the stage encoder crosses evenly spaced positions.
// All hardware interaction is opaque text commands on the command channel.
package pso

import (
	"fmt"

	"github.com/aerobeam/flyscan/internal/profile"
)

// Default pulse timing, in microseconds. The detector latches on the rising
// edge, so the exact width only has to exceed its minimum trigger width.
const (
	DefaultPulseOnMicros  = 20
	DefaultPulseOffMicros = 10
)

// CommandSender is the controller command channel: one opaque text command
// at a time, each independently acknowledged.
type CommandSender interface {
	SendCommand(command string) error
}

// Config identifies the controller axis and encoder input the pulse
// generator tracks.
type Config struct {
	// Axis is the controller's axis designator, e.g. "@0".
	Axis string
	// EncoderInput is the controller input the PSO tracks.
	EncoderInput int
	// PulseOnMicros and PulseOffMicros set the pulse high/low times. Zero
	// selects the defaults.
	PulseOnMicros  int
	PulseOffMicros int
}

func (c Config) pulseTimes() (on, off int) {
	on, off = c.PulseOnMicros, c.PulseOffMicros
	if on == 0 {
		on = DefaultPulseOnMicros
	}
	if off == 0 {
		off = DefaultPulseOffMicros
	}
	return on, off
}

// Controller emits the ordered command sequences that configure, arm, and
// disarm the pulse generator.
type Controller struct {
	cfg Config
	ch  CommandSender
}

// NewController returns a Controller for the given axis configuration and
// command channel.
func NewController(cfg Config, ch CommandSender) *Controller {
	return &Controller{cfg: cfg, ch: ch}
}

// EnableCommands returns the ordered pulse program for the given window
// decision. With gating the program masks pulses outside the window range;
// without it the window directives are omitted entirely.
func (c *Controller) EnableCommands(w profile.EncoderWindow) []string {
	axis := c.cfg.Axis
	on, off := c.cfg.pulseTimes()

	cmds := []string{
		fmt.Sprintf("PSOCONTROL %s RESET", axis),
		fmt.Sprintf("PSOOUTPUT %s CONTROL 1", axis),
		fmt.Sprintf("PSOPULSE %s TIME %d, %d", axis, on, off),
	}
	if w.UseWindow {
		cmds = append(cmds, fmt.Sprintf("PSOOUTPUT %s PULSE WINDOW MASK", axis))
	} else {
		cmds = append(cmds, fmt.Sprintf("PSOOUTPUT %s PULSE", axis))
	}
	cmds = append(cmds,
		fmt.Sprintf("PSOTRACK %s INPUT %d", axis, c.cfg.EncoderInput),
		fmt.Sprintf("PSODISTANCE %s FIXED %d", axis, w.StepSizeCounts),
	)
	if w.UseWindow {
		cmds = append(cmds,
			fmt.Sprintf("PSOWINDOW %s 1 INPUT %d", axis, c.cfg.EncoderInput),
			fmt.Sprintf("PSOWINDOW %s 1 RANGE %d,%d", axis, *w.WindowStart, *w.WindowEnd),
		)
	}
	return cmds
}

// EnablePSO validates the window decision against the profile and sends the
// pulse program. Validation failures surface before any command goes out,
// so the controller is never left partially armed; a send failure aborts
// the remainder of the program.
func (c *Controller) EnablePSO(p *profile.Profile, w profile.EncoderWindow) error {
	if err := w.CheckBounds(p); err != nil {
		return err
	}
	for _, cmd := range c.EnableCommands(w) {
		if err := c.ch.SendCommand(cmd); err != nil {
			return fmt.Errorf("pso setup command %q failed: %w", cmd, err)
		}
	}
	return nil
}

// ArmPSO starts the pulse train tracking. Issued only after the pulse
// program has been sent and before the stage moves into the PSO region.
func (c *Controller) ArmPSO() error {
	cmd := fmt.Sprintf("PSOCONTROL %s ARM", c.cfg.Axis)
	if err := c.ch.SendCommand(cmd); err != nil {
		return fmt.Errorf("pso arm failed: %w", err)
	}
	return nil
}

// DisarmPSO turns the pulse generator off after a scan.
func (c *Controller) DisarmPSO() error {
	cmd := fmt.Sprintf("PSOCONTROL %s OFF", c.cfg.Axis)
	if err := c.ch.SendCommand(cmd); err != nil {
		return fmt.Errorf("pso disarm failed: %w", err)
	}
	return nil
}
