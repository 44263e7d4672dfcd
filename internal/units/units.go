// Package units provides shared constants for motor engineering units and
// conversion between engineering units and encoder counts.
package units

import (
	"fmt"
	"math"
)

// Engineering unit constants for the scan axis.
const (
	Micron      = "micron"
	Millimeter  = "mm"
	Degree      = "degree"
	Milliradian = "mrad"
)

// ValidUnits contains all valid motor engineering units.
var ValidUnits = []string{Micron, Millimeter, Degree, Milliradian}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages.
func GetValidUnitsString() string {
	return "micron, mm, degree, mrad"
}

// Converter translates positions between engineering units and encoder
// counts. Resolution is the size of one encoder count in engineering units.
type Converter struct {
	Resolution float64
}

// NewConverter returns a Converter for the given encoder resolution.
func NewConverter(resolution float64) (Converter, error) {
	if resolution <= 0 {
		return Converter{}, fmt.Errorf("encoder resolution must be positive, got %g", resolution)
	}
	return Converter{Resolution: resolution}, nil
}

// ToCounts converts an engineering-unit position to encoder counts using
// round-half-to-even. Sub-count residue is unavoidable quantization error.
func (c Converter) ToCounts(value float64) int {
	return int(math.RoundToEven(value / c.Resolution))
}

// ToEngineering converts encoder counts back to engineering units.
func (c Converter) ToEngineering(counts int) float64 {
	return float64(counts) * c.Resolution
}
