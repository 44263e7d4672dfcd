package profile

import (
	"fmt"
	"math"

	"github.com/aerobeam/flyscan/internal/units"
)

// Window policy defaults. The range limit is the controller's 24-bit signed
// PSO window register; a window whose bounds exceed it cannot be programmed
// and gating is skipped instead.
const (
	DefaultWindowGuardCounts = 5
	DefaultWindowRangeLimit  = 1<<23 - 1
)

// WindowConfig tunes the encoder window policy. Zero values select the
// defaults above.
type WindowConfig struct {
	// GuardCounts pads the window past each PSO boundary so pulses right at
	// the edge are not masked.
	GuardCounts int
	// RangeLimit is the largest window bound magnitude the controller
	// accepts.
	RangeLimit int
	// Disabled forces gating off regardless of feasibility, leaving the
	// window bounds unset.
	Disabled bool
}

func (c WindowConfig) guard() int {
	if c.GuardCounts == 0 {
		return DefaultWindowGuardCounts
	}
	return c.GuardCounts
}

func (c WindowConfig) limit() int {
	if c.RangeLimit == 0 {
		return DefaultWindowRangeLimit
	}
	return c.RangeLimit
}

// EncoderWindow is the encoder-count gating decision for one scan: the
// pulse spacing in counts and, when gating is in use, the count range
// outside which pulses are suppressed. Nil bounds mean no gating.
type EncoderWindow struct {
	StepSizeCounts int
	WindowStart    *int
	WindowEnd      *int
	UseWindow      bool
}

// ComputeWindow derives the encoder window for a profile. Window bounds are
// zero-based at PSOStart and signed by travel direction, padded outward by
// the guard band. Gating is used only when both bounds fit the controller's
// window range.
func ComputeWindow(p *Profile, cfg WindowConfig) EncoderWindow {
	conv := units.Converter{Resolution: p.Params.EncoderResolution}
	w := EncoderWindow{StepSizeCounts: p.EncoderStepSize}
	if cfg.Disabled {
		return w
	}

	spanCounts := conv.ToCounts(p.PSOEnd - p.PSOStart)
	guard := cfg.guard()
	start := -p.Direction * guard
	end := spanCounts + p.Direction*guard

	w.WindowStart = &start
	w.WindowEnd = &end
	limit := cfg.limit()
	w.UseWindow = abs(start) <= limit && abs(end) <= limit
	return w
}

// CheckBounds verifies that a scan without window gating cannot fire pulses
// outside the PSO region: the taxi overrun at each end must stay within a
// single pulse step, otherwise the first pulse after arming would land in
// the taxi region. It fails with ErrInvalidScanParameters, before any
// hardware command, when gating would be required but is not in use. The
// check covers both ends so forward and reverse scans are each validated.
func (w EncoderWindow) CheckBounds(p *Profile) error {
	if w.UseWindow {
		return nil
	}
	maxOverrun := float64(w.StepSizeCounts) * p.Params.EncoderResolution
	startOverrun, endOverrun := p.TaxiOverrun()
	for _, o := range []struct {
		name string
		dist float64
	}{
		{"start", startOverrun},
		{"end", endOverrun},
	} {
		if o.dist > maxOverrun {
			return fmt.Errorf("%w: taxi overrun at scan %s (%g) exceeds one pulse step (%g) and window gating is unavailable",
				ErrInvalidScanParameters, o.name, o.dist, maxOverrun)
		}
	}
	return nil
}

// Span reports the total window width in counts, or zero without bounds.
func (w EncoderWindow) Span() int {
	if w.WindowStart == nil || w.WindowEnd == nil {
		return 0
	}
	return int(math.Abs(float64(*w.WindowEnd - *w.WindowStart)))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
