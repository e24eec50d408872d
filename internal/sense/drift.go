package sense

import (
	"fmt"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// driftFloorRecency is how recently a floor reading must have been seen to
// veto the drift override. A live floor signal means the oscillation is a
// genuine boundary crossing, not jitter.
const driftFloorRecency = 2 * time.Minute

// driftBufferCapacity bounds the drift buffer; the detector only needs the
// configured minimum plus a little slack.
const driftBufferCapacity = 10

type driftSample struct {
	mode Mode
	lat  float64
	lon  float64
}

// DriftFilter neutralizes the Inside/Outside flapping a stationary subject
// near a building edge produces from GPS noise. While the subject is
// stationary it buffers raw classifications; once the buffer shows repeated
// mode oscillation combined with apparent movement, the position is drifting
// and the output is overridden to the buffer majority at reduced confidence.
type DriftFilter struct {
	cfg     *config.TuningConfig
	clock   timeutil.Clock
	history *History

	buf []driftSample
}

// NewDriftFilter returns a filter reading stationary and floor state from
// the shared history.
func NewDriftFilter(cfg *config.TuningConfig, clock timeutil.Clock, history *History) *DriftFilter {
	return &DriftFilter{cfg: cfg, clock: clock, history: history}
}

// Apply observes the raw classification for a fix and either passes it
// through or replaces it with the drift override. Movement resets the buffer:
// drift is only meaningful while physically stationary.
func (d *DriftFilter) Apply(raw Classification, lat, lon float64) Classification {
	if d.history.StationaryFor() == 0 {
		d.buf = d.buf[:0]
		return raw
	}
	if raw.Mode == ModeUnknown || raw.Mode == ModeVehicle {
		return raw
	}

	d.buf = append(d.buf, driftSample{mode: raw.Mode, lat: lat, lon: lon})
	if len(d.buf) > driftBufferCapacity {
		d.buf = d.buf[1:]
	}
	if len(d.buf) < d.cfg.GetDriftMinSamples() {
		return raw
	}

	oscillations := 0
	var movement float64
	for i := 1; i < len(d.buf); i++ {
		if d.buf[i].mode != d.buf[i-1].mode {
			oscillations++
		}
		movement += DistanceM(d.buf[i-1].lat, d.buf[i-1].lon, d.buf[i].lat, d.buf[i].lon)
	}
	avgMovement := movement / float64(len(d.buf)-1)

	if oscillations < d.cfg.GetDriftMinOscillations() || avgMovement <= d.cfg.GetDriftMinMovementM() {
		return raw
	}
	if _, age, ok := d.history.LastFloorSeen(); ok && age <= driftFloorRecency {
		// Floor evidence explains the flapping; not GPS drift.
		return raw
	}

	majority, ok := d.majority()
	if !ok {
		return Classification{
			Mode:       ModeUnknown,
			Confidence: 0,
			Source:     SourceDrift,
			Reason:     "position drifting with no majority mode",
			Context:    raw.Context,
		}
	}
	return Classification{
		Mode:       majority,
		Confidence: d.cfg.GetDriftConfidence(),
		Source:     SourceDrift,
		Reason: fmt.Sprintf("drift suppressed: %d oscillations, %.1fm avg movement",
			oscillations, avgMovement),
		Context: raw.Context,
	}
}

// majority returns the most frequent mode in the buffer, or false on a tie.
func (d *DriftFilter) majority() (Mode, bool) {
	counts := make(map[Mode]int)
	for _, s := range d.buf {
		counts[s.mode]++
	}
	var best Mode
	bestCount, tied := 0, false
	for mode, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = mode, n, false
		case n == bestCount:
			tied = true
		}
	}
	return best, !tied
}

// Reset clears the drift buffer.
func (d *DriftFilter) Reset() {
	d.buf = d.buf[:0]
}
