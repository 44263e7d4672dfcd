package flyer

import (
	"fmt"

	"github.com/aerobeam/flyscan/internal/signal"
)

// CollectedDatum is one per-pixel record in the shape the downstream
// acquisition pipeline consumes: per-channel values, per-channel
// timestamps, and a single representative time.
type CollectedDatum struct {
	Data       map[string]float64 `json:"data"`
	Timestamps map[string]float64 `json:"timestamps"`
	Time       float64            `json:"time"`
}

// ChannelMetadata is the static description of one collected channel.
type ChannelMetadata struct {
	Source    string `json:"source"`
	Dtype     string `json:"dtype"`
	Shape     []int  `json:"shape"`
	Precision int    `json:"precision"`
}

// setpointChannel names the echo channel carrying the commanded position.
func (f *Flyer) setpointChannel() string {
	return f.name + "_user_setpoint"
}

// Collect returns a closed, fully buffered sequence of per-pixel records.
// Timestamps are reconstructed from the recorded start time: the i-th pixel
// is stamped startTime + dwell*(i+1) plus the configured margin (dwell
// divided by the collect margin divisor), which calibrates out
// encoder-to-optical latency. The channel holds every record up front, so
// the scan reaches Done even if the consumer stops reading. The sequence
// can be drained once; a fresh scan is needed to collect again, and a scan
// that failed in flight refuses to collect at all.
func (f *Flyer) Collect() (<-chan CollectedDatum, error) {
	f.mu.Lock()
	if f.state != Collecting {
		state := f.state
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: collect from state %s", signal.ErrHardwareFault, state)
	}
	prof := f.prof
	start := f.startTime
	f.mu.Unlock()

	dwell := prof.Params.DwellTime
	margin := dwell / f.cfg.GetCollectMarginDivisor()

	ch := make(chan CollectedDatum, len(prof.PixelPositions))
	for i, pos := range prof.PixelPositions {
		ts := start + dwell*float64(i+1) + margin
		ch <- CollectedDatum{
			Data: map[string]float64{
				f.name:             pos,
				f.setpointChannel(): pos,
			},
			Timestamps: map[string]float64{
				f.name:             ts,
				f.setpointChannel(): ts,
			},
			Time: ts,
		}
	}
	close(ch)
	f.setState(Done)
	return ch, nil
}

// DescribeCollect returns the static metadata for each collected channel.
// It is purely descriptive and safe to call repeatedly.
func (f *Flyer) DescribeCollect() map[string]ChannelMetadata {
	meta := ChannelMetadata{
		Dtype:     "number",
		Shape:     []int{},
		Precision: f.cfg.GetPrecision(),
	}

	readback := meta
	readback.Source = fmt.Sprintf("axis://%s/%s", f.cfg.GetAxis(), f.name)
	setpoint := meta
	setpoint.Source = fmt.Sprintf("axis://%s/%s", f.cfg.GetAxis(), f.setpointChannel())

	return map[string]ChannelMetadata{
		f.name:             readback,
		f.setpointChannel(): setpoint,
	}
}
