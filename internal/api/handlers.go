package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/daylight-data/exposure.report/internal/httputil"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/session"
	"github.com/daylight-data/exposure.report/internal/units"
)

// Status is the combined live view: the classification engine's state plus
// the tracking gate's.
type Status struct {
	sense.Snapshot
	Gate session.Snapshot `json:"gate"`

	// Speed is the latest fix's ground speed converted to the requested
	// display units; omitted when the fix carried no speed.
	Speed      *float64 `json:"speed,omitempty"`
	SpeedUnits string   `json:"speed_units,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.MPS
	}
	if !units.IsValidSpeedUnit(unit) {
		httputil.BadRequest(w, fmt.Sprintf("invalid 'units' parameter, valid values: %s", units.ValidSpeedUnitsString()))
		return
	}
	snap, err := s.engine.SnapshotNow(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read engine state: %v", err))
		return
	}
	status := Status{Snapshot: snap, Gate: s.gate.Snapshot()}
	if snap.Latest != nil && snap.Latest.HasSpeed {
		speed := units.ConvertSpeed(snap.Latest.SpeedMPS, unit)
		status.Speed = &speed
		status.SpeedUnits = unit
	}
	httputil.WriteJSONOK(w, status)
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	history, err := s.engine.VoteHistoryNow(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read history: %v", err))
		return
	}
	if history == nil {
		history = []sense.HistoryEntry{}
	}
	httputil.WriteJSONOK(w, history)
}

// overrideRequest sets or clears the manual indoor override. A zero
// duration means no expiry.
type overrideRequest struct {
	Active   bool   `json:"active"`
	Duration string `json:"duration,omitempty"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := s.engine.SnapshotNow(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to read engine state: %v", err))
			return
		}
		httputil.WriteJSONOK(w, snap.Override)

	case http.MethodPost:
		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		o := sense.ManualOverride{Active: req.Active}
		if req.Active && req.Duration != "" {
			d, err := time.ParseDuration(req.Duration)
			if err != nil || d <= 0 {
				httputil.BadRequest(w, fmt.Sprintf("invalid duration %q", req.Duration))
				return
			}
			o.Expires = s.clock.Now().Add(d)
		}
		s.engine.SetOverride(o)
		s.checkpointOverride(o)
		httputil.WriteJSONOK(w, o)

	case http.MethodDelete:
		o := sense.ManualOverride{}
		s.engine.SetOverride(o)
		s.checkpointOverride(o)
		httputil.WriteJSONOK(w, o)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// checkpointOverride persists the override so a daemon restart keeps the
// user's explicit indoor flag.
func (s *Server) checkpointOverride(o sense.ManualOverride) {
	if s.store == nil {
		return
	}
	value := "off"
	if o.Active {
		value = "on"
		if !o.Expires.IsZero() {
			value = o.Expires.UTC().Format(time.RFC3339)
		}
	}
	if err := s.store.Store(session.CheckpointManualOverride, value); err != nil {
		monitoring.Logf("api: failed to checkpoint override: %v", err)
	}
}

// RestoreOverride reads the override checkpoint back into the engine.
// Called once at daemon startup.
func RestoreOverride(store session.CheckpointStore, engine *sense.Engine, now time.Time) {
	value, ok, err := store.Load(session.CheckpointManualOverride)
	if err != nil {
		monitoring.Logf("api: failed to load override checkpoint: %v", err)
		return
	}
	if !ok || value == "off" {
		return
	}
	o := sense.ManualOverride{Active: true}
	if value != "on" {
		expires, err := time.Parse(time.RFC3339, value)
		if err != nil {
			monitoring.Logf("api: malformed override checkpoint %q", value)
			return
		}
		if !expires.After(now) {
			return // expired while the daemon was down
		}
		o.Expires = expires
	}
	engine.SetOverride(o)
	monitoring.Logf("api: restored manual override from checkpoint")
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	days, ok := daysParam(r)
	if !ok {
		httputil.BadRequest(w, "invalid 'days' parameter")
		return
	}
	now := s.clock.Now()
	sessions, err := s.store.ListSessions(now.AddDate(0, 0, -days), now.Add(time.Minute))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	days, ok := daysParam(r)
	if !ok {
		httputil.BadRequest(w, "invalid 'days' parameter")
		return
	}
	now := s.clock.Now()
	summary, err := s.store.SummarizeDays(now.AddDate(0, 0, -days), now.Add(time.Minute))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarize sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, summary)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	days, ok := daysParam(r)
	if !ok {
		httputil.BadRequest(w, "invalid 'days' parameter")
		return
	}
	now := s.clock.Now()
	transitions, err := s.store.ListTransitions(now.AddDate(0, 0, -days), now.Add(time.Minute))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list transitions: %v", err))
		return
	}
	if transitions == nil {
		transitions = []session.Transition{}
	}
	httputil.WriteJSONOK(w, transitions)
}

// streamResults serves classification results over SSE, one event per
// stabilized result, prefixed with the current state so clients render
// immediately.
func (s *Server) streamResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	results, cancel := s.engine.Subscribe()
	defer cancel()

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	if latest, ok := s.engine.Latest(); ok {
		if !s.writeEvent(w, flusher, latest) {
			return
		}
	}

	for {
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			if !s.writeEvent(w, flusher, result) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// streamEvent pairs each result with the gate state at emit time.
type streamEvent struct {
	Result sense.Result     `json:"result"`
	Gate   session.Snapshot `json:"gate"`
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, result sense.Result) bool {
	payload, err := json.Marshal(streamEvent{Result: result, Gate: s.gate.Snapshot()})
	if err != nil {
		monitoring.Logf("api: failed to encode stream event: %v", err)
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
