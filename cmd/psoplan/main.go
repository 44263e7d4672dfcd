// Command psoplan derives the motion profile and pulse program for a fly
// scan without touching hardware. Use it to sanity check scan bounds before
// sending them to the server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aerobeam/flyscan/internal/config"
	"github.com/aerobeam/flyscan/internal/profile"
	"github.com/aerobeam/flyscan/internal/pso"
)

var (
	start      = flag.Float64("start", 0, "Center of the first pixel, engineering units")
	end        = flag.Float64("end", 0, "Center of the last pixel, engineering units")
	step       = flag.Float64("step", 0, "Distance between pixels")
	dwell      = flag.Float64("dwell", 0, "Seconds per pixel")
	accel      = flag.Float64("accel", 0.5, "Seconds to reach slew speed")
	resolution = flag.Float64("resolution", 0, "Engineering units per encoder count")
	unit       = flag.String("unit", "", "Motor unit (default micron)")
	configPath = flag.String("config", "", "Path to scan configuration JSON")
	jsonOut    = flag.Bool("json", false, "Emit machine-readable JSON")
)

// Plan is the derived scan plan emitted by -json.
type Plan struct {
	Profile  *profile.Profile      `json:"profile"`
	Window   profile.EncoderWindow `json:"window"`
	Commands []string              `json:"commands"`
}

func main() {
	flag.Parse()

	cfg := config.EmptyScanConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadScanConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	params := profile.ScanParameters{
		StartPosition:     *start,
		EndPosition:       *end,
		StepSize:          *step,
		DwellTime:         *dwell,
		AccelTime:         *accel,
		EncoderResolution: *resolution,
		MotorUnit:         *unit,
	}

	prof, err := profile.Calculate(params)
	if err != nil {
		log.Fatalf("cannot plan scan: %v", err)
	}
	window := profile.ComputeWindow(prof, profile.WindowConfig{
		GuardCounts: cfg.GetWindowGuardCounts(),
		RangeLimit:  cfg.GetWindowRangeLimit(),
	})
	if err := window.CheckBounds(prof); err != nil {
		log.Fatalf("cannot plan scan: %v", err)
	}

	psoCtl := pso.NewController(pso.Config{
		Axis:           cfg.GetAxis(),
		EncoderInput:   cfg.GetEncoderInput(),
		PulseOnMicros:  cfg.GetPulseOnMicros(),
		PulseOffMicros: cfg.GetPulseOffMicros(),
	}, nil)
	commands := append(psoCtl.EnableCommands(window),
		fmt.Sprintf("PSOCONTROL %s ARM", cfg.GetAxis()))

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(Plan{Profile: prof, Window: window, Commands: commands}); err != nil {
			log.Fatalf("failed to encode plan: %v", err)
		}
		return
	}

	unitName := params.MotorUnit
	if unitName == "" {
		unitName = cfg.GetMotorUnit()
	}

	fmt.Printf("Scan: %g to %g %s, %d pixels of %g, %gs dwell\n",
		params.StartPosition, params.EndPosition, unitName,
		len(prof.PixelPositions), params.StepSize, params.DwellTime)
	fmt.Printf("Slew speed:  %g %s/s\n", prof.SlewSpeed, unitName)
	fmt.Printf("PSO region:  %g to %g\n", prof.PSOStart, prof.PSOEnd)
	fmt.Printf("Taxi range:  %g to %g\n", prof.TaxiStart, prof.TaxiEnd)
	fmt.Printf("Pulse step:  %d counts\n", window.StepSizeCounts)
	if window.UseWindow {
		fmt.Printf("Window:      %d to %d counts\n", *window.WindowStart, *window.WindowEnd)
	} else {
		fmt.Printf("Window:      disabled (range exceeds counter limit)\n")
	}
	fmt.Println("\nCommand sequence:")
	for _, cmd := range commands {
		fmt.Printf("  %s\n", cmd)
	}
}
