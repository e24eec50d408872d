// Package session gates exposure-dose accumulation on the stabilized
// classification stream. Two mutually exclusive tracking locks (outdoor,
// vehicle) decide when a dose session is open; the dose itself is a simple
// closed-form integral of clear-sky erythemal irradiance over locked time.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/daylight-data/exposure.report/internal/solar"
	"github.com/daylight-data/exposure.report/internal/units"
)

// maxTickGap caps the interval credited to a single tick. A feed gap longer
// than this contributes one capped tick rather than back-filling exposure
// that may not have happened.
const maxTickGap = 60 * time.Second

// Session is one contiguous run of outdoor dose accumulation.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// DoseJoules is the accumulated erythemal dose in J/m².
	DoseJoules float64 `json:"dose_joules"`

	// PausedFor is total time spent in the Unknown-hold debounce.
	PausedFor time.Duration `json:"paused_for,omitempty"`

	// Ticks is the number of accumulation ticks credited.
	Ticks int `json:"ticks"`

	// PeakUVI is the highest clear-sky UV index seen during the session.
	PeakUVI float64 `json:"peak_uvi"`

	// EndReason describes why the session closed.
	EndReason string `json:"end_reason,omitempty"`
}

// SED returns the accumulated dose in standard erythemal doses.
func (s *Session) SED() float64 { return units.SED(s.DoseJoules) }

// integrator accumulates dose into the current session, one tick per
// classified fix.
type integrator struct {
	session  *Session
	lastTick time.Time
}

func newIntegrator(startedAt time.Time) *integrator {
	return &integrator{
		session: &Session{
			ID:        uuid.NewString(),
			StartedAt: startedAt,
		},
		lastTick: startedAt,
	}
}

// tick credits the elapsed interval at the clear-sky UV index for the
// position and instant. Returns the dose added in J/m².
func (n *integrator) tick(lat, lon float64, now time.Time) float64 {
	dt := now.Sub(n.lastTick)
	n.lastTick = now
	if dt <= 0 {
		return 0
	}
	if dt > maxTickGap {
		dt = maxTickGap
	}

	uvi := solar.ClearSkyUVI(solar.ElevationDeg(lat, lon, now))
	if uvi > n.session.PeakUVI {
		n.session.PeakUVI = uvi
	}

	added := units.DoseFromUVI(uvi, dt)
	n.session.DoseJoules += added
	n.session.Ticks++
	return added
}

// pause advances the tick anchor without crediting dose, accounting the
// interval as paused time.
func (n *integrator) pause(now time.Time) {
	dt := now.Sub(n.lastTick)
	n.lastTick = now
	if dt > 0 {
		n.session.PausedFor += dt
	}
}

// close finalizes the session.
func (n *integrator) close(now time.Time, reason string) *Session {
	n.session.EndedAt = now
	n.session.EndReason = reason
	return n.session
}
