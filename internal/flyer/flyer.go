// Package flyer drives one fly scan through its phases: taxi to the run-up
// position, arm the pulse generator, traverse the scan region at slew
// speed, and reconstruct the per-pixel records afterwards. All hardware
// operations are non-blocking; callers hold completion handles and bound
// every wait with a timeout.
package flyer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aerobeam/flyscan/internal/config"
	"github.com/aerobeam/flyscan/internal/monitoring"
	"github.com/aerobeam/flyscan/internal/profile"
	"github.com/aerobeam/flyscan/internal/pso"
	"github.com/aerobeam/flyscan/internal/signal"
)

// Flyer owns one axis for the duration of one scan. It is built per scan;
// a finished or failed Flyer is not reused.
type Flyer struct {
	id     uuid.UUID
	name   string
	params profile.ScanParameters
	axis   signal.Axis
	pso    *pso.Controller
	ready  *signal.Value
	cfg    *config.ScanConfig

	// now is the wall clock, injectable for tests.
	now func() time.Time

	mu        sync.Mutex
	state     State
	prof      *profile.Profile
	window    profile.EncoderWindow
	startTime float64 // unix seconds at kickoff
	endTime   float64 // unix seconds at completion
	pending   *signal.Status
}

// New returns an idle Flyer for one scan of the given axis. The ready
// signal is the external ready-to-fly condition kickoff resolves on.
func New(name string, params profile.ScanParameters, axis signal.Axis, psoCtl *pso.Controller, ready *signal.Value, cfg *config.ScanConfig) *Flyer {
	if cfg == nil {
		cfg = config.EmptyScanConfig()
	}
	return &Flyer{
		id:     uuid.New(),
		name:   name,
		params: params,
		axis:   axis,
		pso:    psoCtl,
		ready:  ready,
		cfg:    cfg,
		now:    time.Now,
	}
}

// ID returns the scan identifier.
func (f *Flyer) ID() uuid.UUID { return f.id }

// State returns the current scan phase.
func (f *Flyer) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Profile returns the derived motion profile, nil before kickoff.
func (f *Flyer) Profile() *profile.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prof
}

// Window returns the encoder window decision for this scan.
func (f *Flyer) Window() profile.EncoderWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window
}

// StartTime returns the unix-seconds wall-clock time recorded at kickoff.
func (f *Flyer) StartTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startTime
}

// EndTime returns the unix-seconds time recorded when completion resolved.
func (f *Flyer) EndTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endTime
}

func (f *Flyer) setState(to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	monitoring.Phase(f.id.String()[:8], from.String(), to.String())
}

// fail drives the scan to Failed from any non-terminal state.
func (f *Flyer) fail(err error) {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	from := f.state
	f.state = Failed
	f.mu.Unlock()
	monitoring.Phase(f.id.String()[:8], from.String(), Failed.String())
	monitoring.Logf("scan %s failed: %v", f.id.String()[:8], err)
}

// Kickoff validates the scan, records the start time, and begins taxiing
// and arming in the background. The returned handle resolves only once the
// external ready-to-fly condition is observed, meaning the stage is
// physically positioned and the pulse generator armed; it is decoupled
// from command acknowledgment. Validation failures resolve the handle
// immediately, before any hardware command is sent.
func (f *Flyer) Kickoff() *signal.Status {
	f.mu.Lock()
	if f.state != Idle {
		state := f.state
		f.mu.Unlock()
		return signal.NewFinishedStatus(fmt.Errorf("%w: kickoff from state %s", signal.ErrHardwareFault, state))
	}

	prof, err := profile.Calculate(f.params)
	if err != nil {
		f.state = Failed
		f.mu.Unlock()
		return signal.NewFinishedStatus(err)
	}
	window := profile.ComputeWindow(prof, profile.WindowConfig{
		GuardCounts: f.cfg.GetWindowGuardCounts(),
		RangeLimit:  f.cfg.GetWindowRangeLimit(),
	})
	if err := window.CheckBounds(prof); err != nil {
		f.state = Failed
		f.mu.Unlock()
		return signal.NewFinishedStatus(err)
	}

	f.prof = prof
	f.window = window
	f.startTime = unixSeconds(f.now())
	f.state = Taxiing
	st := signal.NewStatus()
	f.pending = st
	f.mu.Unlock()
	monitoring.Phase(f.id.String()[:8], Idle.String(), Taxiing.String())

	go f.taxi(st)
	return st
}

// taxi sends the pulse program, pre-positions the stage at the taxi start,
// arms the PSO, and then watches for the ready-to-fly condition.
func (f *Flyer) taxi(st *signal.Status) {
	timeout := f.cfg.GetMoveTimeout()

	if err := f.pso.EnablePSO(f.prof, f.window); err != nil {
		f.fail(err)
		st.Resolve(err)
		return
	}
	if err := f.axis.Move(f.prof.TaxiStart).Wait(timeout); err != nil {
		err = fmt.Errorf("taxi move to %g: %w", f.prof.TaxiStart, err)
		f.fail(err)
		st.Resolve(err)
		return
	}
	if err := f.pso.ArmPSO(); err != nil {
		f.fail(err)
		st.Resolve(err)
		return
	}
	f.setState(Armed)

	if err := f.ready.WaitFor(1).Wait(timeout); err != nil {
		err = fmt.Errorf("ready-to-fly condition: %w", err)
		f.fail(err)
		st.Resolve(err)
		return
	}
	st.Resolve(nil)
}

// Fly performs the traversal: a move to the PSO boundary that starts pulse
// tracking, a pre-positioning move to the taxi start, and the full
// traversal to the taxi end. The moves are strictly sequential because
// issuing them out of order corrupts the pulse window state on the
// controller.
func (f *Flyer) Fly() error {
	f.mu.Lock()
	if f.state != Armed {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: fly from state %s", signal.ErrHardwareFault, state)
	}
	prof := f.prof
	f.state = Flying
	f.mu.Unlock()
	monitoring.Phase(f.id.String()[:8], Armed.String(), Flying.String())

	timeout := f.cfg.GetMoveTimeout()
	for _, target := range []float64{prof.PSOStart, prof.TaxiStart, prof.TaxiEnd} {
		if err := f.axis.Move(target).Wait(timeout); err != nil {
			err = fmt.Errorf("fly move to %g: %w", target, err)
			f.fail(err)
			return err
		}
	}
	return nil
}

// Complete lets the traversal finish and returns a handle that resolves
// when the position readback reaches the taxi end. The end time is
// recorded at resolution.
func (f *Flyer) Complete() *signal.Status {
	f.mu.Lock()
	if f.state != Flying {
		state := f.state
		f.mu.Unlock()
		return signal.NewFinishedStatus(fmt.Errorf("%w: complete from state %s", signal.ErrHardwareFault, state))
	}
	prof := f.prof
	f.state = Completing
	st := signal.NewStatus()
	f.pending = st
	f.mu.Unlock()
	monitoring.Phase(f.id.String()[:8], Flying.String(), Completing.String())

	go func() {
		err := f.axis.Move(prof.TaxiEnd).Wait(f.cfg.GetMoveTimeout())
		f.mu.Lock()
		f.endTime = unixSeconds(f.now())
		f.mu.Unlock()
		if err != nil {
			err = fmt.Errorf("completion move to %g: %w", prof.TaxiEnd, err)
			f.fail(err)
			st.Resolve(err)
			return
		}
		f.setState(Collecting)
		st.Resolve(nil)
	}()
	return st
}

// Abort stops the axis and fails the scan. Any pending completion handle
// resolves with a cancellation error rather than hanging.
func (f *Flyer) Abort() error {
	f.mu.Lock()
	pending := f.pending
	f.mu.Unlock()

	err := f.axis.Stop()
	if pending != nil {
		pending.Resolve(signal.ErrAborted)
	}
	f.fail(signal.ErrAborted)
	return err
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
