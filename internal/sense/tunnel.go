package sense

import (
	"fmt"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// TunnelState describes an active accuracy-degradation freeze.
type TunnelState struct {
	Active    bool      `json:"active"`
	EnteredAt time.Time `json:"entered_at,omitempty"`
	PriorMode Mode      `json:"prior_mode,omitempty"`
}

// TunnelGuard freezes classification when a vehicle drives into sustained
// GPS degradation. Accuracy collapsing from good to poor while moving at
// speed is a tunnel or parking structure, not a context change; without the
// freeze the classifier would emit garbage until the sky returns.
type TunnelGuard struct {
	cfg   *config.TuningConfig
	clock timeutil.Clock

	state        TunnelState
	lastAccuracy float64
	recoveryRun  int
}

// NewTunnelGuard returns an inactive guard.
func NewTunnelGuard(cfg *config.TuningConfig, clock timeutil.Clock) *TunnelGuard {
	return &TunnelGuard{cfg: cfg, clock: clock}
}

// State returns the current tunnel state.
func (g *TunnelGuard) State() TunnelState {
	return g.state
}

// Apply inspects the fix and either passes the raw classification through or
// returns the frozen pre-tunnel mode. currentMode is the stabilized mode in
// effect before this sample; entry only triggers from Vehicle.
func (g *TunnelGuard) Apply(raw Classification, fix GPSSample, currentMode Mode) Classification {
	if g.state.Active {
		return g.whileFrozen(raw, fix)
	}

	speed := 0.0
	if fix.HasSpeed {
		speed = fix.SpeedMPS
	}

	entered := currentMode == ModeVehicle &&
		g.lastAccuracy > 0 && g.lastAccuracy < g.cfg.GetTunnelGoodAccuracyM() &&
		fix.AccuracyM > g.cfg.GetTunnelPoorAccuracyM() &&
		speed > g.cfg.GetTunnelMinSpeedMPS()

	g.lastAccuracy = fix.AccuracyM

	if !entered {
		return raw
	}

	g.state = TunnelState{Active: true, EnteredAt: g.clock.Now(), PriorMode: currentMode}
	g.recoveryRun = 0
	return g.frozen(raw)
}

func (g *TunnelGuard) whileFrozen(raw Classification, fix GPSSample) Classification {
	g.lastAccuracy = fix.AccuracyM

	if g.clock.Since(g.state.EnteredAt) > g.cfg.GetTunnelTimeout() {
		// Hard timeout: whatever this is, it is no longer a tunnel. Exit and
		// let classification restart from the raw signal.
		g.exit()
		return raw
	}

	if fix.AccuracyM < g.cfg.GetTunnelRecoveryM() {
		g.recoveryRun++
		if g.recoveryRun >= g.cfg.GetTunnelRecoverySamples() {
			g.exit()
			return raw
		}
	} else {
		g.recoveryRun = 0
	}

	return g.frozen(raw)
}

func (g *TunnelGuard) frozen(raw Classification) Classification {
	return Classification{
		Mode:       g.state.PriorMode,
		Confidence: 0.80,
		Source:     SourceTunnel,
		Reason: fmt.Sprintf("accuracy degraded in transit; holding %s since tunnel entry",
			g.state.PriorMode),
		Context: raw.Context,
	}
}

func (g *TunnelGuard) exit() {
	g.state = TunnelState{}
	g.recoveryRun = 0
}

// Reset clears tunnel state and accuracy memory.
func (g *TunnelGuard) Reset() {
	g.exit()
	g.lastAccuracy = 0
}
