package session

import (
	"time"

	"github.com/daylight-data/exposure.report/internal/sense"
)

// LockKind identifies which tracking lock a transition concerns.
type LockKind string

const (
	LockNone    LockKind = "none"
	LockOutdoor LockKind = "outdoor"
	LockVehicle LockKind = "vehicle"
)

// Transition is one tracking-lock state change, emitted for persistence and
// downstream notification.
type Transition struct {
	Time       time.Time    `json:"time"`
	Lock       LockKind     `json:"lock"`
	Active     bool         `json:"active"`
	Mode       sense.Mode   `json:"mode"`
	Confidence float64      `json:"confidence"`
	Source     sense.Source `json:"source"`
	Reason     string       `json:"reason"`
}

// Recorder receives session lifecycle events and lock transitions. The db
// layer implements it; tests use a slice-backed fake. Recorder errors are
// logged and otherwise ignored: persistence failures must not stall the
// classification pipeline.
type Recorder interface {
	SessionStarted(s Session) error
	SessionClosed(s Session) error
	LockTransition(t Transition) error
}

// CheckpointStore is the externally owned key-value state that survives
// process restarts. The gate reads its coarse lock flags at construction
// and writes them on change; everything else in this subsystem is
// deliberately volatile.
type CheckpointStore interface {
	Load(key string) (value string, ok bool, err error)
	Store(key, value string) error
}

// Checkpoint keys.
const (
	CheckpointTrackingLock   = "tracking_lock"   // "none", "outdoor" or "vehicle"
	CheckpointManualOverride = "manual_override" // RFC3339 expiry, or "off"
)
