// Package profile derives the fly-scan motion profile from user scan bounds:
// where pulse tracking is active, how fast the stage slews, how far it must
// taxi past the scan region to reach speed, and the encoder-count positions
// at which the PSO fires.
package profile

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/aerobeam/flyscan/internal/units"
)

// ErrInvalidScanParameters marks scan parameters that cannot produce a sane
// scan. It is always raised before any hardware command is sent.
var ErrInvalidScanParameters = errors.New("invalid scan parameters")

// ScanParameters are the user-supplied inputs for one fly scan. Start and
// end may be given in either order; the scan direction is derived.
type ScanParameters struct {
	StartPosition float64 // center of the first pixel, engineering units
	EndPosition   float64 // center of the last pixel, engineering units
	StepSize      float64 // distance between pixels, > 0
	DwellTime     float64 // seconds spent per pixel, > 0
	// AccelTime is the time the axis takes to reach slew speed, in seconds
	// (the motor record convention, not a units/s^2 rate).
	AccelTime         float64
	EncoderResolution float64 // engineering units per encoder count, > 0
	MotorUnit         string
}

// Validate checks the parameters that can be rejected without deriving the
// profile.
func (p ScanParameters) Validate() error {
	if p.StepSize <= 0 {
		return fmt.Errorf("%w: step size must be positive, got %g", ErrInvalidScanParameters, p.StepSize)
	}
	if p.DwellTime <= 0 {
		return fmt.Errorf("%w: dwell time must be positive, got %g", ErrInvalidScanParameters, p.DwellTime)
	}
	if p.AccelTime <= 0 {
		return fmt.Errorf("%w: acceleration time must be positive, got %g", ErrInvalidScanParameters, p.AccelTime)
	}
	if p.EncoderResolution <= 0 {
		return fmt.Errorf("%w: encoder resolution must be positive, got %g", ErrInvalidScanParameters, p.EncoderResolution)
	}
	if p.MotorUnit != "" && !units.IsValid(p.MotorUnit) {
		return fmt.Errorf("%w: unknown motor unit %q (valid: %s)", ErrInvalidScanParameters, p.MotorUnit, units.GetValidUnitsString())
	}
	return nil
}

// Profile is the derived motion profile for one scan. It is computed once
// per scan and immutable afterwards.
type Profile struct {
	Params ScanParameters

	// Direction of travel: +1 when end > start, -1 otherwise.
	Direction int
	// PSOStart and PSOEnd bound the region where pulse tracking is active,
	// half a step beyond the nominal scan bounds so the first and last
	// pixels are crossed at full speed.
	PSOStart float64
	PSOEnd   float64
	// SlewSpeed is the constant velocity through the pixel region.
	SlewSpeed float64
	// TaxiStart and TaxiEnd bracket the PSO region with enough travel for
	// the stage to reach and leave slew speed.
	TaxiStart float64
	TaxiEnd   float64
	// PixelPositions are the expected detector trigger positions, one per
	// pixel, starting at StartPosition.
	PixelPositions []float64
	// PSOPositions are the pulse positions, evenly spaced over
	// PSOStart..PSOEnd. Always one more than the pixel count.
	PSOPositions []float64
	// EncoderPSOPositions are the same pulse positions in encoder counts,
	// zero-based at PSOStart and signed by direction.
	EncoderPSOPositions []float64
	// EncoderStepSize is the pulse spacing in encoder counts.
	EncoderStepSize int
}

// Calculate derives the motion profile from the scan parameters. It fails
// with ErrInvalidScanParameters when the parameters cannot yield at least
// one pixel.
func Calculate(p ScanParameters) (*Profile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	direction := 1
	if p.EndPosition < p.StartPosition {
		direction = -1
	}
	dir := float64(direction)

	slewSpeed := p.StepSize / p.DwellTime
	halfStep := p.StepSize / 2
	psoStart := p.StartPosition - dir*halfStep
	psoEnd := p.EndPosition + dir*halfStep

	// The stage needs one full step of run-up before the PSO region so the
	// first pulse lands at speed, and 1.5x the deceleration distance after
	// it so the final pulse is not distorted by the stop.
	accelDist := slewSpeed * p.AccelTime / 2
	taxiStart := psoStart - dir*p.StepSize
	taxiEnd := psoEnd + dir*1.5*accelDist

	// Pixel centers from the start position, stepping toward the end
	// position, with a half-step tolerance so the final pixel survives
	// floating-point drift.
	var pixels []float64
	tol := halfStep * (1 + 1e-9)
	for i := 0; ; i++ {
		pos := p.StartPosition + dir*float64(i)*p.StepSize
		if dir*(pos-p.EndPosition) > tol {
			break
		}
		pixels = append(pixels, pos)
	}
	if len(pixels) == 0 {
		return nil, fmt.Errorf("%w: no pixels between %g and %g with step %g",
			ErrInvalidScanParameters, p.StartPosition, p.EndPosition, p.StepSize)
	}

	// One pulse per pixel boundary, so one more pulse than pixels.
	numPulses := len(pixels) + 1
	psoPositions := floats.Span(make([]float64, numPulses), psoStart, psoEnd)
	encoderSpan := (psoEnd - psoStart) / p.EncoderResolution
	encoderPSOPositions := floats.Span(make([]float64, numPulses), 0, encoderSpan)

	conv := units.Converter{Resolution: p.EncoderResolution}

	return &Profile{
		Params:              p,
		Direction:           direction,
		PSOStart:            psoStart,
		PSOEnd:              psoEnd,
		SlewSpeed:           slewSpeed,
		TaxiStart:           taxiStart,
		TaxiEnd:             taxiEnd,
		PixelPositions:      pixels,
		PSOPositions:        psoPositions,
		EncoderPSOPositions: encoderPSOPositions,
		EncoderStepSize:     conv.ToCounts(p.StepSize),
	}, nil
}

// TaxiOverrun reports the distance between each taxi point and its PSO
// boundary. These are the regions where the encoder has left the pulse
// range but the stage is still moving.
func (p *Profile) TaxiOverrun() (start, end float64) {
	return math.Abs(p.TaxiStart - p.PSOStart), math.Abs(p.TaxiEnd - p.PSOEnd)
}
