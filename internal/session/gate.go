package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/solar"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// recentIndoorBlock is how long after a confident indoor classification the
// outdoor lock refuses to start. Stepping out a door does not mean the walk
// has begun.
const recentIndoorBlock = 30 * time.Second

// OutdoorLock is the on/off state of outdoor dose tracking.
type OutdoorLock struct {
	Active          bool      `json:"active"`
	Since           time.Time `json:"since,omitempty"`
	LastDetectionAt time.Time `json:"last_detection_at,omitempty"`
}

// VehicleLock is the on/off state of vehicle suppression.
type VehicleLock struct {
	Active          bool      `json:"active"`
	Since           time.Time `json:"since,omitempty"`
	LastDetectionAt time.Time `json:"last_detection_at,omitempty"`
}

// Snapshot is the published view of gate state.
type Snapshot struct {
	Lock    LockKind    `json:"lock"`
	Outdoor OutdoorLock `json:"outdoor"`
	Vehicle VehicleLock `json:"vehicle"`
	Paused  bool        `json:"paused"`
	Current *Session    `json:"current_session,omitempty"`
}

// Gate is the tracking lock state machine. It consumes stabilized
// classification results inside the engine loop and decides when dose
// accumulation starts, pauses, and stops. The outdoor and vehicle locks are
// mutually exclusive by construction: activating one forces the other off.
type Gate struct {
	cfg         *config.TuningConfig
	clock       timeutil.Clock
	recorder    Recorder
	checkpoints CheckpointStore

	startedAt time.Time // gate construction, anchors the startup grace period

	// mu guards the lock state below. Writes all happen on the engine
	// loop; the mutex exists for API reads.
	mu sync.Mutex

	outdoor OutdoorLock
	vehicle VehicleLock
	integ   *integrator

	paused      bool
	pausedSince time.Time

	lastIndoorAt time.Time
}

// NewGate restores coarse lock flags from the checkpoint store and returns
// a gate ready to consume results. recorder and checkpoints may be nil.
func NewGate(cfg *config.TuningConfig, clock timeutil.Clock, recorder Recorder, checkpoints CheckpointStore) *Gate {
	g := &Gate{
		cfg:         cfg,
		clock:       clock,
		recorder:    recorder,
		checkpoints: checkpoints,
		startedAt:   clock.Now(),
	}

	if checkpoints != nil {
		if v, ok, err := checkpoints.Load(CheckpointTrackingLock); err != nil {
			monitoring.Logf("session: failed to load lock checkpoint: %v", err)
		} else if ok {
			switch LockKind(v) {
			case LockVehicle:
				// A vehicle lock survives a restart: suppression is safe to
				// resume and parking will release it as usual.
				g.vehicle = VehicleLock{Active: true, Since: g.startedAt, LastDetectionAt: g.startedAt}
				monitoring.Logf("session: restored vehicle lock from checkpoint")
			case LockOutdoor:
				// An outdoor lock does not restore: its session is gone and
				// dose must never accumulate on stale evidence. Start fresh.
				monitoring.Logf("session: prior outdoor lock found at startup; requiring a fresh start")
			}
		}
	}
	return g
}

// HandleResult implements sense.Handler.
func (g *Gate) HandleResult(r sense.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	g.observeVehicle(r, now)
	if g.vehicle.Active {
		return
	}

	if g.outdoor.Active {
		g.maintainOutdoor(r, now)
		return
	}

	if r.Stable.Mode == sense.ModeInside && r.Stable.Confidence >= g.cfg.GetOutdoorStopConfidence() {
		g.lastIndoorAt = now
	}

	g.tryStartOutdoor(r, now)
}

// observeVehicle runs the vehicle lock rules. Activation revokes any active
// outdoor lock immediately: no dose accumulates through a windshield.
func (g *Gate) observeVehicle(r sense.Result, now time.Time) {
	threshold := g.cfg.GetVehicleConfidenceThreshold()

	if !g.vehicle.Active {
		if r.Vehicle.Confidence >= threshold {
			if g.outdoor.Active {
				g.releaseOutdoor(r, now, "vehicle detected")
			}
			g.vehicle = VehicleLock{Active: true, Since: now, LastDetectionAt: now}
			g.transition(r, now, LockVehicle, true, r.Vehicle.Reason)
		}
		return
	}

	if r.Vehicle.IsVehicle {
		g.vehicle.LastDetectionAt = now
	}

	switch {
	case r.Vehicle.ParkingConfirmed:
		g.vehicle = VehicleLock{}
		g.transition(r, now, LockVehicle, false, "parking confirmed")

	case now.Sub(g.vehicle.Since) <= g.cfg.GetWalkAwayWindow() &&
		r.Walking && r.Stable.Mode == sense.ModeOutside:
		// Lock formed on the tail of a drive that had already ended; the
		// subject walked away from a parked vehicle.
		g.vehicle = VehicleLock{}
		g.transition(r, now, LockVehicle, false, "outdoor movement right after lock formation")
	}
}

// maintainOutdoor runs the locked-state rules: tick dose on Outside, pause
// on Unknown, stop only on strong indoor evidence.
func (g *Gate) maintainOutdoor(r sense.Result, now time.Time) {
	switch r.Stable.Mode {
	case sense.ModeOutside:
		if g.paused {
			g.paused = false
			monitoring.Debugf("session: resumed after %s unknown-hold", now.Sub(g.pausedSince))
		}
		g.outdoor.LastDetectionAt = now
		g.integ.tick(r.Lat, r.Lon, now)

	case sense.ModeUnknown:
		if !g.paused {
			g.paused = true
			g.pausedSince = now
		}
		g.integ.pause(now)
		if now.Sub(g.pausedSince) > g.cfg.GetUnknownHoldDebounce() {
			g.releaseOutdoor(r, now, "signal lost past debounce")
		}

	case sense.ModeInside:
		if reason, strong := g.strongIndoorSignal(r); strong {
			g.releaseOutdoor(r, now, reason)
			g.lastIndoorAt = now
			return
		}
		// Weak indoor evidence while locked is exactly the oscillation the
		// lock exists to ignore.
		g.integ.tick(r.Lat, r.Lon, now)

	default: // weak vehicle evidence, below the lock threshold
		g.integ.tick(r.Lat, r.Lon, now)
	}
}

// strongIndoorSignal reports whether the result carries indoor evidence
// strong enough to stop a locked session.
func (g *Gate) strongIndoorSignal(r sense.Result) (string, bool) {
	if r.Stable.Source == sense.SourceFloor || r.Raw.Source == sense.SourceFloor {
		return "floor reading", true
	}
	if r.Stable.Source == sense.SourceManual {
		return "manual override", true
	}
	if r.Stable.Context.InsideBuilding != "" &&
		r.Stable.Context.OccupiedFor > g.cfg.GetOccupancyBoostAfter() {
		return fmt.Sprintf("inside %s for %.0fs",
			r.Stable.Context.InsideBuilding, r.Stable.Context.OccupiedFor.Seconds()), true
	}
	if r.Stable.Context.StationaryFor > g.cfg.GetStationaryStopAfter() &&
		r.Stable.Context.NearestBuildingM >= 0 &&
		r.Stable.Context.NearestBuildingM <= g.cfg.GetLockNearBuildingM() {
		return "long stationary near a building", true
	}
	return "", false
}

// tryStartOutdoor runs the start rules for the outdoor lock.
func (g *Gate) tryStartOutdoor(r sense.Result, now time.Time) {
	if r.Stable.Mode != sense.ModeOutside {
		return
	}

	required := g.cfg.GetOutdoorStartConfidence()
	if now.Sub(g.startedAt) < g.cfg.GetStartupGracePeriod() {
		// Stricter during startup: the voter history is thin and a false
		// start pollutes the day's record.
		required = g.cfg.GetOutdoorGraceConfidence()
	}
	if r.Stable.Confidence < required {
		return
	}
	if r.Stable.Context.InsideBuilding != "" {
		return
	}
	if !g.lastIndoorAt.IsZero() && now.Sub(g.lastIndoorAt) < recentIndoorBlock {
		return
	}

	// Daytime only; erythemal dose at night is zero and a nighttime lock is
	// pure noise.
	if !solar.IsDaylight(r.Lat, r.Lon, now, solar.MinTrackingElevationDeg) {
		return
	}

	clear := r.Stable.Context.NearestBuildingM > g.cfg.GetBuildingClearM()
	fastPath := r.SustainedExcellentGPS &&
		r.ExcellentGPSFor >= g.cfg.GetFastPathGPSDuration() &&
		r.Walking
	if !clear && !r.RecentPolygonExit && !fastPath {
		return
	}

	g.outdoor = OutdoorLock{Active: true, Since: now, LastDetectionAt: now}
	g.paused = false
	g.integ = newIntegrator(now)
	g.transition(r, now, LockOutdoor, true, r.Stable.Reason)

	if g.recorder != nil {
		if err := g.recorder.SessionStarted(*g.integ.session); err != nil {
			monitoring.Logf("session: failed to record session start: %v", err)
		}
	}
}

// releaseOutdoor closes the current session and drops the outdoor lock.
func (g *Gate) releaseOutdoor(r sense.Result, now time.Time, reason string) {
	if !g.outdoor.Active {
		return
	}
	// The stop signal marks the end of outdoor time, not the start: credit
	// the interval since the last tick before closing. Capped by maxTickGap
	// as usual, and a no-op on the unknown-hold path where pause already
	// advanced the anchor.
	g.integ.tick(r.Lat, r.Lon, now)
	closed := g.integ.close(now, reason)
	g.outdoor = OutdoorLock{}
	g.integ = nil
	g.paused = false
	g.transition(r, now, LockOutdoor, false, reason)

	if g.recorder != nil {
		if err := g.recorder.SessionClosed(*closed); err != nil {
			monitoring.Logf("session: failed to record session close: %v", err)
		}
	}
	monitoring.Logf("session: closed %s after %s, %.2f SED (%s)",
		closed.ID, closed.EndedAt.Sub(closed.StartedAt), closed.SED(), reason)
}

func (g *Gate) transition(r sense.Result, now time.Time, lock LockKind, active bool, reason string) {
	t := Transition{
		Time:       now,
		Lock:       lock,
		Active:     active,
		Mode:       r.Stable.Mode,
		Confidence: r.Stable.Confidence,
		Source:     r.Stable.Source,
		Reason:     reason,
	}
	if g.recorder != nil {
		if err := g.recorder.LockTransition(t); err != nil {
			monitoring.Logf("session: failed to record lock transition: %v", err)
		}
	}
	if g.checkpoints != nil {
		if err := g.checkpoints.Store(CheckpointTrackingLock, string(g.activeLock())); err != nil {
			monitoring.Logf("session: failed to checkpoint lock state: %v", err)
		}
	}
	monitoring.Logf("session: %s lock %s: %s", lock, onOff(active), reason)
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}

// ActiveLock returns which lock is currently active.
func (g *Gate) ActiveLock() LockKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeLock()
}

func (g *Gate) activeLock() LockKind {
	switch {
	case g.vehicle.Active:
		return LockVehicle
	case g.outdoor.Active:
		return LockOutdoor
	default:
		return LockNone
	}
}

// Snapshot returns a copy of the gate state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		Lock:    g.activeLock(),
		Outdoor: g.outdoor,
		Vehicle: g.vehicle,
		Paused:  g.paused,
	}
	if g.integ != nil {
		cur := *g.integ.session
		s.Current = &cur
	}
	return s
}
