package sense

import (
	"context"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/footprint"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// Sample is one event from the serialized sensor feed. Exactly one field is
// set.
type Sample struct {
	GPS      *GPSSample
	Motion   *MotionSample
	Pressure *PressureSample
}

// Pipeline chains the classification stages in order: history update,
// vehicle analysis, oracle lookup, decision tree, anomaly suppression,
// temporal voting, mode lock. It owns all mutable classifier state and is
// not safe for concurrent use; the Engine serializes access to it.
type Pipeline struct {
	cfg    *config.TuningConfig
	clock  timeutil.Clock
	oracle footprint.Oracle

	history    *History
	vehicle    *VehicleAnalyzer
	classifier *Classifier
	drift      *DriftFilter
	tunnel     *TunnelGuard
	voter      *Voter
	lock       *ModeLock

	override ManualOverride

	// currentMode is the last stabilized mode, fed back into the tunnel
	// guard (entry only triggers from Vehicle).
	currentMode  Mode
	lastSampleAt time.Time
	stale        bool
}

// NewPipeline wires the stages together around a shared history store.
func NewPipeline(cfg *config.TuningConfig, clock timeutil.Clock, oracle footprint.Oracle) *Pipeline {
	history := NewHistory(cfg, clock)
	voter := NewVoter(cfg, clock)
	return &Pipeline{
		cfg:         cfg,
		clock:       clock,
		oracle:      oracle,
		history:     history,
		vehicle:     NewVehicleAnalyzer(cfg, clock, history),
		classifier:  NewClassifier(cfg, clock, history),
		drift:       NewDriftFilter(cfg, clock, history),
		tunnel:      NewTunnelGuard(cfg, clock),
		voter:       voter,
		lock:        NewModeLock(cfg, clock, voter),
		currentMode: ModeUnknown,
	}
}

// Handle processes one feed event. Motion and pressure samples only update
// history; a full classification cycle runs per GPS fix, so the returned
// Result is non-nil only for GPS samples (and nil otherwise).
func (p *Pipeline) Handle(ctx context.Context, s Sample) *Result {
	switch {
	case s.GPS != nil:
		r := p.classifyFix(ctx, *s.GPS)
		return &r
	case s.Motion != nil:
		p.history.RecordMotion(*s.Motion)
		p.lastSampleAt = p.clock.Now()
		p.stale = false
	case s.Pressure != nil:
		p.history.RecordPressure(*s.Pressure)
	}
	return nil
}

// SetOverride installs the manual indoor override read by tier 1.
func (p *Pipeline) SetOverride(o ManualOverride) {
	p.override = o
}

// Override returns the current manual override.
func (p *Pipeline) Override() ManualOverride {
	return p.override
}

// LockState exposes the mode lock snapshot.
func (p *Pipeline) LockState() LockState { return p.lock.State() }

// TunnelState exposes the tunnel guard snapshot.
func (p *Pipeline) TunnelState() TunnelState { return p.tunnel.State() }

// History exposes the sample store for read-only queries.
func (p *Pipeline) History() *History { return p.history }

// VoteHistory returns the recent classification history.
func (p *Pipeline) VoteHistory() []HistoryEntry { return p.voter.History() }

func (p *Pipeline) classifyFix(ctx context.Context, fix GPSSample) Result {
	now := p.clock.Now()
	p.lastSampleAt = now
	p.stale = false

	p.history.RecordGPS(fix)

	speed := 0.0
	if fix.HasSpeed {
		speed = fix.SpeedMPS
	}
	vehicle := p.vehicle.Analyze(speed, fix.HasSpeed)

	// The oracle query is the pipeline's only suspension point; it is
	// bounded so a dead footprint service degrades to the fallback tier
	// instead of stalling classification.
	lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.GetOracleTimeout())
	prox, err := p.oracle.Lookup(lookupCtx, fix.Lat, fix.Lon)
	cancel()
	oracleOK := err == nil
	if !oracleOK {
		monitoring.Debugf("sense: oracle lookup failed: %v", err)
	} else {
		p.history.ObservePolygon(prox.InsideBuilding, fix)
	}

	raw := p.classifier.Classify(fix, prox, oracleOK, vehicle, p.override)
	raw = p.tunnel.Apply(raw, fix, p.currentMode)
	raw = p.drift.Apply(raw, fix.Lat, fix.Lon)

	p.voter.Record(now, raw)

	stable := raw
	if outcome := p.voter.Vote(); outcome.Decisive {
		stable = outcome.Result
	}

	nearest := -1.0
	if oracleOK {
		nearest = prox.NearestDistanceM
	}
	stable = p.lock.Apply(stable, nearest)
	stable.Context = raw.Context
	p.currentMode = stable.Mode

	gps := p.history.SustainedExcellentGPS()
	return Result{
		Time:                  now,
		Stable:                stable,
		Raw:                   raw,
		Lat:                   fix.Lat,
		Lon:                   fix.Lon,
		Vehicle:               vehicle,
		SustainedExcellentGPS: gps.Sustained,
		ExcellentGPSFor:       gps.Duration,
		RecentPolygonExit:     p.history.RecentValidatedExit(p.cfg.GetVoteWindow()),
		Walking:               p.classifier.walkingRatio() > 0.5,
		SpeedMPS:              speed,
		HasSpeed:              fix.HasSpeed,
	}
}

// CheckStale synthesizes an Unknown result once the feed has been silent
// past the staleness timeout. Continuity is gone at that point, so all
// derived state resets; returning nil means the feed is still live (or
// staleness was already reported).
func (p *Pipeline) CheckStale() *Result {
	if p.stale || p.lastSampleAt.IsZero() {
		return nil
	}
	now := p.clock.Now()
	if now.Sub(p.lastSampleAt) < p.cfg.GetSampleStaleAfter() {
		return nil
	}

	p.stale = true
	p.history.Reset()
	p.vehicle.Reset()
	p.drift.Reset()
	p.tunnel.Reset()
	p.voter.Reset()
	p.lock.Reset()
	p.currentMode = ModeUnknown

	result := Classification{
		Mode:       ModeUnknown,
		Confidence: 0,
		Source:     SourceStale,
		Reason:     "sensor feed silent past staleness timeout",
		Context:    Context{NearestBuildingM: -1},
	}
	return &Result{Time: now, Stable: result, Raw: result}
}
