package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aerobeam/flyscan/internal/config"
	"github.com/aerobeam/flyscan/internal/flyer"
	"github.com/aerobeam/flyscan/internal/monitoring"
	"github.com/aerobeam/flyscan/internal/profile"
	"github.com/aerobeam/flyscan/internal/pso"
	"github.com/aerobeam/flyscan/internal/scandb"
	"github.com/aerobeam/flyscan/internal/serialmux"
	"github.com/aerobeam/flyscan/internal/signal"
	"github.com/aerobeam/flyscan/internal/triggercache"
)

// ErrAxisBusy is returned when a scan is requested while another scan still
// owns the axis.
var ErrAxisBusy = fmt.Errorf("axis busy with another scan")

// maxRetainedScans bounds how many finished scans keep an in-memory entry.
// The database holds the full history; LiveState only adds value while a
// scan is recent enough to still be watched.
const maxRetainedScans = 32

// Driver owns the controller command channel and runs scans one at a time
// per axis: kickoff, fly, complete, collect, persist.
type Driver struct {
	mux      serialmux.SerialMuxInterface
	db       *scandb.DB
	cfg      *config.ScanConfig
	triggers *triggercache.Cache

	// pollTimeout bounds a single position query round trip.
	pollTimeout time.Duration

	mu     sync.Mutex
	flyers map[string]*flyer.Flyer
}

func NewDriver(mux serialmux.SerialMuxInterface, db *scandb.DB, cfg *config.ScanConfig) *Driver {
	if cfg == nil {
		cfg = config.EmptyScanConfig()
	}
	return &Driver{
		mux:         mux,
		db:          db,
		cfg:         cfg,
		triggers:    triggercache.New(),
		pollTimeout: 2 * time.Second,
		flyers:      make(map[string]*flyer.Flyer),
	}
}

// pollPosition queries the controller for the axis feedback position. The
// reply arrives on the shared response stream, so the query subscribes
// first and picks out the next value response.
func (d *Driver) pollPosition(axis string) (float64, error) {
	id, c := d.mux.Subscribe()
	defer d.mux.Unsubscribe(id)

	if err := d.mux.SendCommand("PFBK " + axis); err != nil {
		return 0, err
	}

	deadline := time.NewTimer(d.pollTimeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-c:
			if !ok {
				return 0, fmt.Errorf("command channel closed while polling %s", axis)
			}
			if serialmux.ClassifyResponse(line) == serialmux.ResponseValue {
				return serialmux.ParseValue(line)
			}
		case <-deadline.C:
			return 0, fmt.Errorf("%w: no position reply for %s", signal.ErrTimeout, axis)
		}
	}
}

// StartScan validates the parameters, claims the axis, and runs the scan in
// the background. It returns the scan ID immediately; progress is visible
// through LiveState and the scan database.
func (d *Driver) StartScan(params profile.ScanParameters) (string, error) {
	prof, err := profile.Calculate(params)
	if err != nil {
		return "", err
	}

	axisName := d.cfg.GetAxis()
	channel := d.cfg.GetChannelName()

	axis := signal.NewControllerAxis(axisName, prof.SlewSpeed, d.mux.SendCommand,
		func() (float64, error) { return d.pollPosition(axisName) })
	psoCtl := pso.NewController(pso.Config{
		Axis:           axisName,
		EncoderInput:   d.cfg.GetEncoderInput(),
		PulseOnMicros:  d.cfg.GetPulseOnMicros(),
		PulseOffMicros: d.cfg.GetPulseOffMicros(),
	}, d.mux)
	ready := signal.NewValue(channel+"_ready", 0)
	f := flyer.New(channel, params, axis, psoCtl, ready, d.cfg)

	// The axis entry in the trigger cache is the exclusivity claim: a
	// second scan on the same axis gets the in-flight handle back instead
	// of firing, and is refused.
	fired := false
	d.triggers.Trigger("axis:"+axisName, func() *signal.Status {
		fired = true
		done := signal.NewStatus()
		go d.runScan(f, psoCtl, ready, done)
		return done
	})
	if !fired {
		return "", ErrAxisBusy
	}

	d.mu.Lock()
	d.flyers[f.ID().String()] = f
	d.pruneFlyersLocked()
	d.mu.Unlock()

	if err := d.recordScan(f, params); err != nil {
		monitoring.Logf("scan %s: failed to record: %v", f.ID().String()[:8], err)
	}
	return f.ID().String(), nil
}

// pruneFlyersLocked drops the oldest finished scans once more than
// maxRetainedScans of them have accumulated. Running scans are never
// evicted. Caller holds d.mu.
func (d *Driver) pruneFlyersLocked() {
	var finished []*flyer.Flyer
	for _, f := range d.flyers {
		if f.State().Terminal() {
			finished = append(finished, f)
		}
	}
	if len(finished) <= maxRetainedScans {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].EndTime() < finished[j].EndTime()
	})
	for _, f := range finished[:len(finished)-maxRetainedScans] {
		delete(d.flyers, f.ID().String())
	}
}

// LiveState reports the in-memory phase of a scan the driver has run.
func (d *Driver) LiveState(scanID string) (string, bool) {
	d.mu.Lock()
	f, ok := d.flyers[scanID]
	d.mu.Unlock()
	if !ok {
		return "", false
	}
	return f.State().String(), true
}

// AbortScan stops the axis and fails the named scan.
func (d *Driver) AbortScan(scanID string) error {
	d.mu.Lock()
	f, ok := d.flyers[scanID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown scan %s", scanID)
	}
	return f.Abort()
}

func (d *Driver) recordScan(f *flyer.Flyer, params profile.ScanParameters) error {
	unit := params.MotorUnit
	if unit == "" {
		unit = d.cfg.GetMotorUnit()
	}
	return d.db.RecordScan(scandb.ScanRecord{
		ScanID:        f.ID().String(),
		Axis:          d.cfg.GetAxis(),
		MotorUnit:     unit,
		StartPosition: params.StartPosition,
		EndPosition:   params.EndPosition,
		StepSize:      params.StepSize,
		DwellTime:     params.DwellTime,
		StartTime:     f.StartTime(),
		EndTime:       f.EndTime(),
		State:         f.State().String(),
	})
}

// runScan drives one scan through its phases. The done handle releases the
// axis claim when it resolves, success or not.
func (d *Driver) runScan(f *flyer.Flyer, psoCtl *pso.Controller, ready *signal.Value, done *signal.Status) {
	scanID := f.ID().String()
	timeout := d.cfg.GetMoveTimeout()

	finish := func(err error) {
		if err != nil {
			monitoring.Logf("scan %s: %v", scanID[:8], err)
			f.Abort()
		}
		if derr := d.recordScan(f, scanParams(f)); derr != nil {
			monitoring.Logf("scan %s: failed to record: %v", scanID[:8], derr)
		}
		if err := psoCtl.DisarmPSO(); err != nil {
			monitoring.Logf("scan %s: disarm: %v", scanID[:8], err)
		}
		done.Resolve(err)
	}

	kick := f.Kickoff()

	// Arm the detector while the stage taxis; the ready-to-fly condition
	// is observed once the detector trigger settles.
	det := d.triggers.Trigger("detector:"+d.cfg.GetChannelName(), func() *signal.Status {
		return signal.NewFinishedStatus(nil)
	})
	if err := det.Wait(timeout); err != nil {
		finish(fmt.Errorf("detector arm: %w", err))
		return
	}
	ready.Put(1)

	if err := kick.Wait(timeout); err != nil {
		finish(fmt.Errorf("kickoff: %w", err))
		return
	}
	if err := f.Fly(); err != nil {
		finish(fmt.Errorf("fly: %w", err))
		return
	}
	if err := f.Complete().Wait(timeout); err != nil {
		finish(fmt.Errorf("complete: %w", err))
		return
	}

	data, err := f.Collect()
	if err != nil {
		finish(fmt.Errorf("collect: %w", err))
		return
	}
	channel := d.cfg.GetChannelName()
	var points []scandb.Point
	i := 0
	for datum := range data {
		points = append(points, scandb.Point{
			Index:     i,
			Position:  datum.Data[channel],
			Setpoint:  datum.Data[channel+"_user_setpoint"],
			Timestamp: datum.Time,
		})
		i++
	}
	if err := d.db.RecordPoints(scanID, points); err != nil {
		finish(fmt.Errorf("record points: %w", err))
		return
	}
	finish(nil)
}

// scanParams recovers the parameters for a kicked-off flyer. A scan that
// failed validation has no profile; fall back to zero parameters so the
// failure still gets recorded.
func scanParams(f *flyer.Flyer) profile.ScanParameters {
	if prof := f.Profile(); prof != nil {
		return prof.Params
	}
	return profile.ScanParameters{}
}
