package sense

import (
	"fmt"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// LockState is a snapshot of the current mode lock, if any.
type LockState struct {
	Locked     bool      `json:"locked"`
	Mode       Mode      `json:"mode,omitempty"`
	Since      time.Time `json:"since,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// ModeLock is the hysteresis stage. Once a mode is confidently established
// across enough samples and sources, weaker contradicting evidence is simply
// ignored: a subject walking a sidewalk past five buildings stays Outside
// through every doorway-zone blip. The lock yields only to genuinely strong
// opposing evidence or its own age limit.
type ModeLock struct {
	cfg   *config.TuningConfig
	clock timeutil.Clock
	voter *Voter

	state LockState
}

// NewModeLock returns an unlocked lock consulting the voter's history for
// formation evidence.
func NewModeLock(cfg *config.TuningConfig, clock timeutil.Clock, voter *Voter) *ModeLock {
	return &ModeLock{cfg: cfg, clock: clock, voter: voter}
}

// State returns the current lock snapshot.
func (l *ModeLock) State() LockState {
	return l.state
}

// Apply decides whether the stabilized classification passes through, forms
// a new lock, or is held back by an existing one. nearestBuildingM gates the
// strong-source formation requirement; pass -1 when unknown.
func (l *ModeLock) Apply(result Classification, nearestBuildingM float64) Classification {
	now := l.clock.Now()

	if l.state.Locked {
		// Hard expiry: re-evaluate from scratch after the max age.
		if now.Sub(l.state.Since) > l.cfg.GetLockMaxAge() {
			monitoring.Debugf("modelock: %s lock expired after %s", l.state.Mode, now.Sub(l.state.Since))
			l.state = LockState{}
			l.tryForm(result, nearestBuildingM, now)
			return result
		}

		if result.Mode == l.state.Mode {
			// Agreement refreshes the lock confidence but not its age.
			if result.Confidence > l.state.Confidence {
				l.state.Confidence = result.Confidence
			}
			return result
		}

		// Opposing evidence must clear the release threshold; Unknown never
		// releases a lock.
		if result.Mode != ModeUnknown && result.Confidence >= l.cfg.GetLockReleaseConfidence() {
			monitoring.Debugf("modelock: %s lock released by %s at %.2f",
				l.state.Mode, result.Mode, result.Confidence)
			l.state = LockState{}
			l.tryForm(result, nearestBuildingM, now)
			return result
		}

		// Held: report the locked mode at the lock's confidence.
		held := result
		held.Mode = l.state.Mode
		held.Confidence = l.state.Confidence
		held.Reason = fmt.Sprintf("holding %s lock against %s (%.2f)",
			l.state.Mode, result.Mode, result.Confidence)
		return held
	}

	l.tryForm(result, nearestBuildingM, now)
	return result
}

// tryForm checks the formation conditions: a non-Unknown mode at sufficient
// confidence, a long unanimous agreement run, sufficient average confidence,
// and evidence from at least two distinct sources. Near a building one of
// them must be strong, because near a building the weak sources all flap.
func (l *ModeLock) tryForm(result Classification, nearestBuildingM float64, now time.Time) {
	if result.Mode == ModeUnknown || result.Confidence < l.cfg.GetLockMinConfidence() {
		return
	}

	window := l.cfg.GetLockWindow()
	count, avgConf := l.voter.AgreementRun(window, result.Mode)
	if count < l.cfg.GetLockMinSamples() || avgConf < l.cfg.GetLockMinConfidence() {
		return
	}

	sources := l.voter.DistinctSources(window, result.Mode)
	if len(sources) < l.cfg.GetLockMinSources() {
		return
	}

	if nearestBuildingM >= 0 && nearestBuildingM <= l.cfg.GetLockNearBuildingM() {
		strong := false
		for _, s := range sources {
			if s.IsStrong() {
				strong = true
				break
			}
		}
		if !strong {
			return
		}
	}

	l.state = LockState{
		Locked:     true,
		Mode:       result.Mode,
		Since:      now,
		Confidence: result.Confidence,
	}
	monitoring.Debugf("modelock: formed %s lock (%d samples, %d sources, avg %.2f)",
		result.Mode, count, len(sources), avgConf)
}

// Reset drops any lock.
func (l *ModeLock) Reset() {
	l.state = LockState{}
}
