package sense

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// Speed bands for the sustained-speed tier (m/s). Each band maps to a fixed
// confidence; the bands overlap nothing a cyclist sustains except the lowest,
// which is why every band is additionally gated by the cyclist exclusion.
const (
	HighwaySpeedMPS  = 25.0 // ~90 km/h
	FastCitySpeedMPS = 17.0 // ~60 km/h
	CitySpeedMPS     = 11.0 // ~40 km/h
	SlowCitySpeedMPS = 8.0  // ~29 km/h

	HighwayConfidence  = 0.98
	FastCityConfidence = 0.92
	CityConfidence     = 0.88
	SlowCityConfidence = 0.82

	AutomotiveRatioConfidence = 0.95
	StopAndGoConfidence       = 0.85

	// cyclistSpeedVarianceMax is the speed stddev below which a steady pace
	// with no automotive samples looks like a cyclist, not a car.
	cyclistSpeedVarianceMax = 1.5

	// stopAndGoPeakMPS is the minimum single high-speed peak required by the
	// stop-and-go tier.
	stopAndGoPeakMPS = 10.0
)

// VehicleVerdict is the motion analyzer's output.
type VehicleVerdict struct {
	IsVehicle   bool    `json:"is_vehicle"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
	IsPersisted bool    `json:"is_persisted"`

	// ParkingConfirmed is set on the single verdict that clears vehicle
	// persistence; the vehicle tracking lock releases on it.
	ParkingConfirmed bool `json:"parking_confirmed,omitempty"`
}

// VehicleAnalyzer converts motion samples and GPS speed into a vehicle
// confidence. Detection persists across brief stops (red lights) and clears
// only when parking is confirmed.
type VehicleAnalyzer struct {
	cfg     *config.TuningConfig
	clock   timeutil.Clock
	history *History

	// Persistence state: last confident detection and its confidence.
	lastDetectedAt time.Time
	lastConfidence float64
}

// NewVehicleAnalyzer returns an analyzer reading from the shared history.
func NewVehicleAnalyzer(cfg *config.TuningConfig, clock timeutil.Clock, history *History) *VehicleAnalyzer {
	return &VehicleAnalyzer{cfg: cfg, clock: clock, history: history}
}

// Analyze evaluates the tiers in order, stopping at the first verdict above
// threshold. gpsSpeed is the current fix speed; pass ok=false when the fix
// carried none.
func (a *VehicleAnalyzer) Analyze(gpsSpeed float64, gpsSpeedOK bool) VehicleVerdict {
	motion := a.history.RecentMotion(a.cfg.GetMotionBufferWindow())
	speeds := collectSpeeds(motion, gpsSpeed, gpsSpeedOK)

	// Tier 1: persistence carry-over surviving brief stops.
	if v, ok := a.persisted(motion, speeds); ok {
		return v
	}

	threshold := a.cfg.GetVehicleConfidenceThreshold()

	// Tiers 2-4, each consulted only while no earlier tier produced a
	// verdict at or above threshold. A sub-threshold candidate is still
	// reported (the classifier's vehicle preempt kicks in below the lock
	// threshold) but does not arm persistence.
	var best VehicleVerdict
	tiers := []func() (VehicleVerdict, bool){
		func() (VehicleVerdict, bool) { return a.byActivityRatio(motion, speeds) },
		func() (VehicleVerdict, bool) { return a.bySpeedBand(motion, speeds) },
		func() (VehicleVerdict, bool) { return a.byStopAndGo(speeds) },
	}
	for _, tier := range tiers {
		v, ok := tier()
		if !ok {
			continue
		}
		if v.Confidence >= threshold {
			return a.record(v)
		}
		if v.Confidence > best.Confidence {
			best = v
		}
	}
	if best.Confidence > 0 {
		return best
	}
	return VehicleVerdict{Reason: "no vehicle evidence"}
}

// record stores a confident detection for persistence carry-over.
func (a *VehicleAnalyzer) record(v VehicleVerdict) VehicleVerdict {
	v.IsVehicle = v.Confidence >= a.cfg.GetVehicleConfidenceThreshold()
	if v.IsVehicle {
		a.lastDetectedAt = a.clock.Now()
		a.lastConfidence = v.Confidence
	}
	return v
}

// persisted implements tier 1. A confident detection within the persistence
// window keeps the vehicle verdict alive with an exponentially decayed
// confidence floored above the lock threshold, so a red light does not end a
// drive. Parking clears it.
//
// The detection anchor survives past the window even when parking is not yet
// confirmed: the vehicle tracking lock releases only on the confirmation, so
// the parking conditions must keep being evaluated until they hold (walking
// away from the car keeps the average speed up for a while) or a new drive
// re-arms the anchor.
func (a *VehicleAnalyzer) persisted(motion []MotionSample, speeds []float64) (VehicleVerdict, bool) {
	if a.lastDetectedAt.IsZero() {
		return VehicleVerdict{}, false
	}
	since := a.clock.Since(a.lastDetectedAt)
	if a.parked(motion, speeds, since) {
		a.clearPersistence()
		return VehicleVerdict{Reason: "parking confirmed", ParkingConfirmed: true}, true
	}
	if since > a.cfg.GetVehiclePersistWindow() {
		// Window elapsed but parking unconfirmed (no recent samples, or the
		// subject is still moving): stop carrying the verdict and let the
		// live tiers decide, keeping the anchor for the parking check above.
		return VehicleVerdict{}, false
	}

	halfLife := a.cfg.GetVehiclePersistHalfLife()
	decayed := a.lastConfidence * math.Exp2(-since.Seconds()/halfLife.Seconds())
	floor := a.cfg.GetVehiclePersistFloor()
	if decayed < floor {
		decayed = floor
	}
	return VehicleVerdict{
		IsVehicle:   true,
		Confidence:  decayed,
		Reason:      fmt.Sprintf("vehicle persisted %.0fs ago", since.Seconds()),
		IsPersisted: true,
	}, true
}

// parked reports confirmed parking: the full persistence window elapsed since
// vehicle evidence, average speed is walking-or-less, and no automotive
// samples remain in the motion window.
func (a *VehicleAnalyzer) parked(motion []MotionSample, speeds []float64, since time.Duration) bool {
	if since < a.cfg.GetVehiclePersistWindow() {
		return false
	}
	if len(speeds) == 0 {
		return false
	}
	if stat.Mean(speeds, nil) >= a.cfg.GetParkingSpeedMPS() {
		return false
	}
	for _, m := range motion {
		if m.Activity == ActivityAutomotive {
			return false
		}
	}
	return true
}

func (a *VehicleAnalyzer) clearPersistence() {
	a.lastDetectedAt = time.Time{}
	a.lastConfidence = 0
}

// byActivityRatio implements tier 2 on the automotive fraction of recent
// motion samples.
func (a *VehicleAnalyzer) byActivityRatio(motion []MotionSample, speeds []float64) (VehicleVerdict, bool) {
	if len(motion) == 0 {
		return VehicleVerdict{}, false
	}
	automotive := 0
	for _, m := range motion {
		if m.Activity == ActivityAutomotive {
			automotive++
		}
	}
	ratio := float64(automotive) / float64(len(motion))

	if ratio >= a.cfg.GetAutomotiveRatioStrong() {
		return VehicleVerdict{
			Confidence: AutomotiveRatioConfidence,
			Reason:     fmt.Sprintf("%.0f%% automotive activity", ratio*100),
		}, true
	}
	if ratio >= a.cfg.GetAutomotiveRatioWeak() && len(speeds) > 0 {
		mean := stat.Mean(speeds, nil)
		if mean >= SlowCitySpeedMPS {
			conf := 0.85
			if mean >= CitySpeedMPS {
				conf = 0.90
			}
			return VehicleVerdict{
				Confidence: conf,
				Reason:     fmt.Sprintf("%.0f%% automotive at %.1f m/s", ratio*100, mean),
			}, true
		}
	}
	return VehicleVerdict{}, false
}

// bySpeedBand implements tier 3: sustained speed maps to a fixed confidence
// unless the pattern looks like a cyclist.
func (a *VehicleAnalyzer) bySpeedBand(motion []MotionSample, speeds []float64) (VehicleVerdict, bool) {
	if len(speeds) < 3 {
		return VehicleVerdict{}, false
	}
	mean, std := stat.MeanStdDev(speeds, nil)

	if a.looksLikeCyclist(motion, mean, std) {
		return VehicleVerdict{}, false
	}

	var conf float64
	switch {
	case mean >= HighwaySpeedMPS:
		conf = HighwayConfidence
	case mean >= FastCitySpeedMPS:
		conf = FastCityConfidence
	case mean >= CitySpeedMPS:
		conf = CityConfidence
	case mean >= SlowCitySpeedMPS:
		conf = SlowCityConfidence
	default:
		return VehicleVerdict{}, false
	}
	return VehicleVerdict{
		Confidence: conf,
		Reason:     fmt.Sprintf("sustained %.1f m/s", mean),
	}, true
}

// looksLikeCyclist is the exclusion test applied to every speed band. A
// steady pace with zero automotive samples, or an explicit cycling (or fast
// running) tag, suppresses the vehicle verdict. A car in traffic never holds
// speed that evenly.
func (a *VehicleAnalyzer) looksLikeCyclist(motion []MotionSample, meanSpeed, stdDev float64) bool {
	automotive := false
	for _, m := range motion {
		switch m.Activity {
		case ActivityAutomotive:
			automotive = true
		case ActivityCycling:
			return true
		case ActivityRunning:
			if m.SpeedMPS >= SlowCitySpeedMPS {
				return true
			}
		}
	}
	// Cyclists rarely exceed fast-city speeds; above that the variance test
	// no longer applies.
	return !automotive && stdDev < cyclistSpeedVarianceMax && meanSpeed < FastCitySpeedMPS
}

// byStopAndGo implements tier 4: high speed variance around a moderate mean
// with at least one high peak is city traffic even without a sustained band.
func (a *VehicleAnalyzer) byStopAndGo(speeds []float64) (VehicleVerdict, bool) {
	if len(speeds) < 5 {
		return VehicleVerdict{}, false
	}
	mean, std := stat.MeanStdDev(speeds, nil)
	if std < a.cfg.GetStopAndGoSpeedStdDev() {
		return VehicleVerdict{}, false
	}
	if mean < 3.0 || mean >= FastCitySpeedMPS {
		return VehicleVerdict{}, false
	}
	peak := 0.0
	for _, s := range speeds {
		if s > peak {
			peak = s
		}
	}
	if peak < stopAndGoPeakMPS {
		return VehicleVerdict{}, false
	}
	return VehicleVerdict{
		Confidence: StopAndGoConfidence,
		Reason:     fmt.Sprintf("stop-and-go: mean %.1f, stddev %.1f, peak %.1f m/s", mean, std, peak),
	}, true
}

// Reset clears persistence state, used after a long feed gap.
func (a *VehicleAnalyzer) Reset() {
	a.clearPersistence()
}

// collectSpeeds merges motion speeds with the current GPS speed reading.
func collectSpeeds(motion []MotionSample, gpsSpeed float64, gpsSpeedOK bool) []float64 {
	speeds := make([]float64, 0, len(motion)+1)
	for _, m := range motion {
		speeds = append(speeds, m.SpeedMPS)
	}
	if gpsSpeedOK {
		speeds = append(speeds, gpsSpeed)
	}
	return speeds
}
