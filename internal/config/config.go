// Package config holds the fly-scan controller configuration. Fields are
// pointer-typed so a partial JSON file only overrides what it names; the
// Get* accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aerobeam/flyscan/internal/units"
)

// ScanConfig is the root configuration for the fly-scan controller. The
// schema matches the /api/config endpoint so the same JSON serves startup
// configuration and runtime inspection.
type ScanConfig struct {
	// Controller connection
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// Axis and encoder wiring
	Axis         *string `json:"axis,omitempty"`
	EncoderInput *int    `json:"encoder_input,omitempty"`
	MotorUnit    *string `json:"motor_unit,omitempty"`

	// Pulse generator params
	PulseOnMicros     *int `json:"pulse_on_micros,omitempty"`
	PulseOffMicros    *int `json:"pulse_off_micros,omitempty"`
	WindowGuardCounts *int `json:"window_guard_counts,omitempty"`
	WindowRangeLimit  *int `json:"window_range_limit,omitempty"`

	// Collection params
	ChannelName *string `json:"channel_name,omitempty"`
	// CollectMarginDivisor sets the timestamp margin to dwell/divisor. The
	// margin is an empirical encoder-to-optical latency calibration, not a
	// derived quantity.
	CollectMarginDivisor *float64 `json:"collect_margin_divisor,omitempty"`
	Precision            *int     `json:"precision,omitempty"`

	// Motion params
	MoveTimeout *string `json:"move_timeout,omitempty"` // duration string like "30s"

	// Filter bank slots, when the beamline has a PFCU-style bank on the
	// same controller.
	FilterSlots []FilterSlotConfig `json:"filter_slots,omitempty"`
}

// FilterSlotConfig describes one slot of the filter bank.
type FilterSlotConfig struct {
	Slot      int     `json:"slot"`
	Role      string  `json:"role"` // "filter", "shutter_top", or "shutter_bottom"
	Material  string  `json:"material,omitempty"`
	Thickness float64 `json:"thickness,omitempty"`
}

// EmptyScanConfig returns a ScanConfig with all fields unset.
func EmptyScanConfig() *ScanConfig {
	return &ScanConfig{}
}

// LoadScanConfig loads a ScanConfig from a JSON file. Fields omitted from
// the file retain their defaults, so partial configs are safe.
func LoadScanConfig(path string) (*ScanConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyScanConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *ScanConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.MotorUnit != nil && !units.IsValid(*c.MotorUnit) {
		return fmt.Errorf("unknown motor_unit %q (valid: %s)", *c.MotorUnit, units.GetValidUnitsString())
	}
	if c.CollectMarginDivisor != nil && *c.CollectMarginDivisor <= 0 {
		return fmt.Errorf("collect_margin_divisor must be positive, got %f", *c.CollectMarginDivisor)
	}
	if c.WindowGuardCounts != nil && *c.WindowGuardCounts < 0 {
		return fmt.Errorf("window_guard_counts must be non-negative, got %d", *c.WindowGuardCounts)
	}
	if c.MoveTimeout != nil && *c.MoveTimeout != "" {
		if _, err := time.ParseDuration(*c.MoveTimeout); err != nil {
			return fmt.Errorf("invalid move_timeout '%s': %w", *c.MoveTimeout, err)
		}
	}
	for _, slot := range c.FilterSlots {
		switch slot.Role {
		case "filter", "shutter_top", "shutter_bottom":
		default:
			return fmt.Errorf("filter slot %d has unknown role %q", slot.Slot, slot.Role)
		}
	}
	return nil
}

// Overlay returns a derived config in which any field set on other
// overrides the receiver. Neither input is mutated; the derived config is
// meant to be used for a scope and discarded.
func (c *ScanConfig) Overlay(other *ScanConfig) *ScanConfig {
	out := *c
	if other == nil {
		return &out
	}
	if other.SerialPort != nil {
		out.SerialPort = other.SerialPort
	}
	if other.BaudRate != nil {
		out.BaudRate = other.BaudRate
	}
	if other.Axis != nil {
		out.Axis = other.Axis
	}
	if other.EncoderInput != nil {
		out.EncoderInput = other.EncoderInput
	}
	if other.MotorUnit != nil {
		out.MotorUnit = other.MotorUnit
	}
	if other.PulseOnMicros != nil {
		out.PulseOnMicros = other.PulseOnMicros
	}
	if other.PulseOffMicros != nil {
		out.PulseOffMicros = other.PulseOffMicros
	}
	if other.WindowGuardCounts != nil {
		out.WindowGuardCounts = other.WindowGuardCounts
	}
	if other.WindowRangeLimit != nil {
		out.WindowRangeLimit = other.WindowRangeLimit
	}
	if other.ChannelName != nil {
		out.ChannelName = other.ChannelName
	}
	if other.CollectMarginDivisor != nil {
		out.CollectMarginDivisor = other.CollectMarginDivisor
	}
	if other.Precision != nil {
		out.Precision = other.Precision
	}
	if other.MoveTimeout != nil {
		out.MoveTimeout = other.MoveTimeout
	}
	if other.FilterSlots != nil {
		out.FilterSlots = other.FilterSlots
	}
	return &out
}

// GetSerialPort returns the serial_port value or the default.
func (c *ScanConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyS0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *ScanConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetAxis returns the axis designator or the default.
func (c *ScanConfig) GetAxis() string {
	if c.Axis == nil {
		return "@0"
	}
	return *c.Axis
}

// GetEncoderInput returns the encoder_input value or the default.
func (c *ScanConfig) GetEncoderInput() int {
	if c.EncoderInput == nil {
		return 6
	}
	return *c.EncoderInput
}

// GetMotorUnit returns the motor_unit value or the default.
func (c *ScanConfig) GetMotorUnit() string {
	if c.MotorUnit == nil {
		return units.Micron
	}
	return *c.MotorUnit
}

// GetPulseOnMicros returns the pulse_on_micros value or the default.
func (c *ScanConfig) GetPulseOnMicros() int {
	if c.PulseOnMicros == nil {
		return 20
	}
	return *c.PulseOnMicros
}

// GetPulseOffMicros returns the pulse_off_micros value or the default.
func (c *ScanConfig) GetPulseOffMicros() int {
	if c.PulseOffMicros == nil {
		return 10
	}
	return *c.PulseOffMicros
}

// GetWindowGuardCounts returns the window_guard_counts value or the default.
func (c *ScanConfig) GetWindowGuardCounts() int {
	if c.WindowGuardCounts == nil {
		return 5
	}
	return *c.WindowGuardCounts
}

// GetWindowRangeLimit returns the window_range_limit value or the default
// (the controller's 24-bit signed window register).
func (c *ScanConfig) GetWindowRangeLimit() int {
	if c.WindowRangeLimit == nil {
		return 1<<23 - 1
	}
	return *c.WindowRangeLimit
}

// GetChannelName returns the channel_name value or the default.
func (c *ScanConfig) GetChannelName() string {
	if c.ChannelName == nil {
		return "stage_horiz"
	}
	return *c.ChannelName
}

// GetCollectMarginDivisor returns the collect_margin_divisor value or the
// default.
func (c *ScanConfig) GetCollectMarginDivisor() float64 {
	if c.CollectMarginDivisor == nil {
		return 8
	}
	return *c.CollectMarginDivisor
}

// GetPrecision returns the precision value or the default.
func (c *ScanConfig) GetPrecision() int {
	if c.Precision == nil {
		return 3
	}
	return *c.Precision
}

// GetMoveTimeout parses and returns the move_timeout as a time.Duration.
func (c *ScanConfig) GetMoveTimeout() time.Duration {
	if c.MoveTimeout == nil || *c.MoveTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.MoveTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
