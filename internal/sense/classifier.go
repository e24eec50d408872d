package sense

import (
	"fmt"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/footprint"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// Accuracy signature bands (meters). Open sky produces tight, steady
// accuracy; concrete and glass produce large, erratic accuracy. The bands in
// between carry little information on their own and are differentiated by
// motion.
const (
	accuracyOutdoorMeanM   = 15.0
	accuracyOutdoorStdM    = 5.0
	accuracyIndoorMeanM    = 35.0
	accuracyIndoorStdM     = 15.0
	accuracySignatureConf  = 0.85
	accuracyMinSamples     = 3
	accuracyPenaltySlopeM  = 200.0 // confidence factor hits its floor this far past the threshold
	accuracyPenaltyFloor   = 0.5
)

// Building zone distance bands (meters).
const (
	zoneTouchingM  = 2.0
	zoneAmbiguousM = 10.0
	zoneWeakM      = 40.0
	zoneClearM     = 50.0
)

// pressureWindow is the lookback for the underground-descent tier; a
// stairwell or escalator descent completes well inside it.
const pressureWindow = 2 * time.Minute

// floorFadeMin/Max bound the window in which a disappeared floor reading is
// itself weak evidence of having stepped outside.
const (
	floorFadeMin = 30 * time.Second
	floorFadeMax = 3 * time.Minute
)

// ManualOverride is the externally persisted user-set indoor flag. The
// classifier only reads it; the API layer owns setting, clearing and
// checkpointing.
type ManualOverride struct {
	Active  bool      `json:"active"`
	Expires time.Time `json:"expires,omitempty"`
}

// InEffect reports whether the override applies at the given instant.
func (o ManualOverride) InEffect(now time.Time) bool {
	return o.Active && (o.Expires.IsZero() || now.Before(o.Expires))
}

// Classifier is the ordered decision tree producing one raw classification
// per GPS fix. Earlier tiers represent stronger evidence; the first tier
// with a verdict wins.
type Classifier struct {
	cfg     *config.TuningConfig
	clock   timeutil.Clock
	history *History
}

// NewClassifier returns a classifier reading derived statistics from the
// shared history.
func NewClassifier(cfg *config.TuningConfig, clock timeutil.Clock, history *History) *Classifier {
	return &Classifier{cfg: cfg, clock: clock, history: history}
}

// Classify runs the decision tree for one fix. prox is the oracle's answer;
// pass oracleOK=false when building data was unavailable, which degrades the
// zone tier to a low-confidence fallback.
func (c *Classifier) Classify(fix GPSSample, prox footprint.Proximity, oracleOK bool,
	vehicle VehicleVerdict, override ManualOverride) Classification {

	result := c.classify(fix, prox, oracleOK, vehicle, override)
	result.Context = c.buildContext(prox, oracleOK)
	result = c.applyAccuracyPenalty(result, fix)
	result = c.applyPressureAgreement(result)
	result.Confidence = clampConfidence(result.Confidence, 0, 1)
	return result
}

func (c *Classifier) classify(fix GPSSample, prox footprint.Proximity, oracleOK bool,
	vehicle VehicleVerdict, override ManualOverride) Classification {

	// Tier 1: explicit user override.
	if override.InEffect(c.clock.Now()) {
		return Classification{
			Mode:       ModeInside,
			Confidence: 1.0,
			Source:     SourceManual,
			Reason:     "manual indoor override active",
		}
	}

	// Tier 2: a resolved floor level only exists inside multi-story
	// structures. Nothing outranks it except the user saying so.
	if fix.Floor != nil {
		return Classification{
			Mode:       ModeInside,
			Confidence: 0.98,
			Source:     SourceFloor,
			Reason:     fmt.Sprintf("floor %d resolved", *fix.Floor),
		}
	}

	// Vehicle evidence pre-empts the remaining tiers: indoors-vs-outdoors
	// is moot inside a moving vehicle.
	if vehicle.Confidence >= c.cfg.GetVehiclePreemptThreshold() {
		return Classification{
			Mode:       ModeVehicle,
			Confidence: vehicle.Confidence,
			Source:     SourceMotion,
			Reason:     vehicle.Reason,
		}
	}

	// Tier 3: sustained barometric descent with little walking means an
	// underground transition, unless excellent GPS outside any polygon
	// explains the fix perfectly well.
	if result, ok := c.byPressureDescent(prox, oracleOK); ok {
		return result
	}

	// Tier 4: GPS accuracy signature.
	if result, ok := c.byAccuracySignature(fix, prox, oracleOK); ok {
		return result
	}

	// Tier 5: building-zone classification, or its fallback when the oracle
	// is unavailable.
	if !oracleOK {
		return c.fallback()
	}
	return c.byBuildingZone(fix, prox)
}

func (c *Classifier) byPressureDescent(prox footprint.Proximity, oracleOK bool) (Classification, bool) {
	delta, ok := c.history.RecentPressureDelta(pressureWindow)
	if !ok || delta > -c.cfg.GetPressureDescentM() {
		return Classification{}, false
	}
	if c.walkingRatio() > 0.5 {
		// Heavy walking with a falling baro reads as a downhill sidewalk.
		return Classification{}, false
	}
	gps := c.history.SustainedExcellentGPS()
	if gps.Sustained && oracleOK && prox.InsideBuilding == "" {
		// Open sky and outside every polygon; the descent is topography.
		return Classification{}, false
	}
	return Classification{
		Mode:       ModeInside,
		Confidence: 0.90,
		Source:     SourcePressure,
		Reason:     fmt.Sprintf("descended %.1fm with low walking activity", -delta),
	}, true
}

func (c *Classifier) byAccuracySignature(fix GPSSample, prox footprint.Proximity, oracleOK bool) (Classification, bool) {
	stats := c.history.AccuracyStats()
	if stats.Count < accuracyMinSamples {
		return Classification{}, false
	}

	walking := c.walkingRatio() > 0.5
	stationaryFor := c.history.StationaryFor()

	switch {
	case stats.MeanM < accuracyOutdoorMeanM && stats.StdDevM < accuracyOutdoorStdM:
		// Open-sky signature — unless the subject has been parked next to a
		// building for minutes. A desk by a window sees the sky too.
		if oracleOK && stationaryFor > c.cfg.GetNearWindowVetoAfter() &&
			prox.NearestDistanceM >= 0 && prox.NearestDistanceM <= c.cfg.GetNearWindowVetoDistanceM() {
			return Classification{
				Mode:       ModeInside,
				Confidence: accuracySignatureConf,
				Source:     SourceAccuracy,
				Reason:     "clean GPS but long stationary at a building edge",
			}, true
		}
		return Classification{
			Mode:       ModeOutside,
			Confidence: accuracySignatureConf,
			Source:     SourceAccuracy,
			Reason:     fmt.Sprintf("open-sky accuracy signature (mean %.0fm)", stats.MeanM),
		}, true

	case stats.MeanM > accuracyIndoorMeanM && stats.StdDevM > accuracyIndoorStdM:
		return Classification{
			Mode:       ModeInside,
			Confidence: accuracySignatureConf,
			Source:     SourceAccuracy,
			Reason:     fmt.Sprintf("degraded erratic accuracy (mean %.0fm, std %.0fm)", stats.MeanM, stats.StdDevM),
		}, true

	case walking && stats.MeanM < accuracyIndoorMeanM:
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.70,
			Source:     SourceAccuracy,
			Reason:     "moderate accuracy while walking",
		}, true

	case stationaryFor > c.cfg.GetNearWindowVetoAfter() && stats.StdDevM > accuracyOutdoorStdM:
		return Classification{
			Mode:       ModeInside,
			Confidence: 0.65,
			Source:     SourceAccuracy,
			Reason:     "stationary with unsteady accuracy",
		}, true
	}

	// Intermediate band with no motion differentiation: let the zone tier
	// decide.
	return Classification{}, false
}

func (c *Classifier) byBuildingZone(fix GPSSample, prox footprint.Proximity) Classification {
	// Geofence hits outrank distance bands; the user drew the zone.
	if prox.GeofenceID != "" {
		mode := ModeInside
		if prox.GeofenceHint == footprint.HintOutside {
			mode = ModeOutside
		}
		return Classification{
			Mode:       mode,
			Confidence: 0.92,
			Source:     SourceGeofence,
			Reason:     fmt.Sprintf("inside geofence %s", prox.GeofenceID),
		}
	}

	if prox.InsideBuilding != "" {
		conf := 0.90
		_, occupiedFor := c.history.InsideBuilding()
		if occupiedFor > c.cfg.GetOccupancyBoostAfter() {
			conf = 0.98
		}
		return Classification{
			Mode:       ModeInside,
			Confidence: conf,
			Source:     SourcePolygon,
			Reason:     fmt.Sprintf("inside footprint %s for %.0fs", prox.InsideBuilding, occupiedFor.Seconds()),
		}
	}

	d := prox.NearestDistanceM
	if d < 0 {
		// No footprints known near here at all; open country.
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.70,
			Source:     SourceZone,
			Reason:     "no buildings in range",
		}
	}

	walking := c.walkingRatio() > 0.5
	switch {
	case d < zoneTouchingM:
		return Classification{
			Mode:       ModeInside,
			Confidence: 0.90,
			Source:     SourceZone,
			Reason:     fmt.Sprintf("%.1fm from footprint edge", d),
		}

	case d <= zoneAmbiguousM:
		return c.resolveAmbiguousZone(d, walking)

	case d <= zoneWeakM:
		if walking {
			return Classification{
				Mode:       ModeOutside,
				Confidence: 0.65,
				Source:     SourceZone,
				Reason:     fmt.Sprintf("walking %.0fm from nearest building", d),
			}
		}
		return Classification{
			Mode:       ModeInside,
			Confidence: 0.60,
			Source:     SourceZone,
			Reason:     fmt.Sprintf("stationary %.0fm from nearest building", d),
		}

	case d <= zoneClearM:
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.75,
			Source:     SourceZone,
			Reason:     fmt.Sprintf("%.0fm from nearest building", d),
		}

	default:
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.90,
			Source:     SourceZone,
			Reason:     fmt.Sprintf("%.0fm clear of all buildings", d),
		}
	}
}

// resolveAmbiguousZone handles the 2-10m band where GPS cannot distinguish a
// doorway from a sidewalk table. Motion and recent polygon history break the
// tie; default leans Inside because most time spent at a building edge is
// spent inside it.
func (c *Classifier) resolveAmbiguousZone(d float64, walking bool) Classification {
	if c.history.RecentValidatedExit(c.cfg.GetVoteWindow()) {
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.80,
			Source:     SourceZone,
			Reason:     "recent validated footprint exit",
		}
	}
	if walking && c.history.SustainedExcellentGPS().Sustained {
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.80,
			Source:     SourceZone,
			Reason:     "walking a sidewalk with clean GPS",
		}
	}
	// A floor reading that vanished in the last few minutes suggests the
	// subject just left the structure.
	if _, age, ok := c.history.LastFloorSeen(); ok && age >= floorFadeMin && age <= floorFadeMax {
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.70,
			Source:     SourceZone,
			Reason:     "floor signal recently faded",
		}
	}
	if !walking {
		return Classification{
			Mode:       ModeInside,
			Confidence: 0.75,
			Source:     SourceZone,
			Reason:     fmt.Sprintf("stationary %.1fm from a building", d),
		}
	}
	return Classification{
		Mode:       ModeInside,
		Confidence: 0.60,
		Source:     SourceZone,
		Reason:     fmt.Sprintf("%.1fm from a building, signals ambiguous", d),
	}
}

// fallback is the distance-unknown classification used when building data is
// unavailable. Accuracy alone picks a weak lean; otherwise Unknown.
func (c *Classifier) fallback() Classification {
	stats := c.history.AccuracyStats()
	switch {
	case stats.Count >= accuracyMinSamples && stats.MeanM < accuracyOutdoorMeanM+5:
		return Classification{
			Mode:       ModeOutside,
			Confidence: 0.50,
			Source:     SourceFallback,
			Reason:     "building data unavailable; clean GPS leans outside",
		}
	case stats.Count >= accuracyMinSamples && stats.MeanM > accuracyIndoorMeanM:
		return Classification{
			Mode:       ModeInside,
			Confidence: 0.45,
			Source:     SourceFallback,
			Reason:     "building data unavailable; degraded GPS leans inside",
		}
	default:
		return Classification{
			Mode:       ModeUnknown,
			Confidence: 0,
			Source:     SourceFallback,
			Reason:     "building data unavailable",
		}
	}
}

// applyAccuracyPenalty scales confidence down linearly once the fix accuracy
// passes the penalty threshold, bottoming out at half.
func (c *Classifier) applyAccuracyPenalty(result Classification, fix GPSSample) Classification {
	if result.Source == SourceManual || result.Source == SourceFloor {
		return result
	}
	start := c.cfg.GetAccuracyPenaltyStartM()
	if fix.AccuracyM <= start {
		return result
	}
	factor := 1 - (fix.AccuracyM-start)/accuracyPenaltySlopeM
	if factor < accuracyPenaltyFloor {
		factor = accuracyPenaltyFloor
	}
	result.Confidence *= factor
	return result
}

// applyPressureAgreement nudges confidence up when the pressure trend agrees
// with the proposed mode: descent agrees with Inside, ascent with Outside.
func (c *Classifier) applyPressureAgreement(result Classification) Classification {
	if result.Source == SourcePressure || result.Mode == ModeUnknown || result.Mode == ModeVehicle {
		return result
	}
	delta, ok := c.history.RecentPressureDelta(pressureWindow)
	if !ok {
		return result
	}
	bonus := c.cfg.GetPressureAgreeBonus()
	switch {
	case result.Mode == ModeInside && delta < -0.5:
		result.Confidence += bonus
	case result.Mode == ModeOutside && delta > 0.5:
		result.Confidence += bonus
	}
	return result
}

func (c *Classifier) buildContext(prox footprint.Proximity, oracleOK bool) Context {
	ctx := Context{NearestBuildingM: -1, StationaryFor: c.history.StationaryFor()}
	if oracleOK {
		ctx.NearestBuildingM = prox.NearestDistanceM
	}
	ctx.InsideBuilding, ctx.OccupiedFor = c.history.InsideBuilding()
	return ctx
}

// walkingRatio is the on-foot fraction of the last minute of motion samples.
func (c *Classifier) walkingRatio() float64 {
	motion := c.history.RecentMotion(time.Minute)
	if len(motion) == 0 {
		return 0
	}
	onFoot := 0
	for _, m := range motion {
		if m.Activity.OnFoot() {
			onFoot++
		}
	}
	return float64(onFoot) / float64(len(motion))
}
