package api

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/db"
	"github.com/daylight-data/exposure.report/internal/footprint"
	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/session"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

var apiEpoch = time.Date(2026, time.June, 15, 16, 30, 0, 0, time.UTC)

// downOracle simulates an unreachable footprint service; the pipeline falls
// back to GPS-quality classification.
type downOracle struct{}

func (downOracle) Lookup(ctx context.Context, lat, lon float64) (footprint.Proximity, error) {
	return footprint.Proximity{}, footprint.ErrUnavailable
}

type testEnv struct {
	server *Server
	engine *sense.Engine
	clock  *timeutil.ManualClock
	store  *db.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := timeutil.NewManualClock(apiEpoch)
	cfg := &config.TuningConfig{}

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	gate := session.NewGate(cfg, clock, store, store)
	pipeline := sense.NewPipeline(cfg, clock, downOracle{})
	engine := sense.NewEngine(cfg, clock, pipeline, gate)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)

	return &testEnv{
		server: NewServer(engine, gate, store, clock),
		engine: engine,
		clock:  clock,
		store:  store,
	}
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.server.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Gate.Lock != session.LockNone {
		t.Errorf("gate lock = %v, want none", status.Gate.Lock)
	}
	if status.Latest != nil {
		t.Errorf("latest set before any sample: %+v", status.Latest)
	}
}

func TestStatusSpeedUnits(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.get(t, "/api/status?units=furlongs"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad units param = %d, want 400", rec.Code)
	}

	env.engine.Samples() <- sense.Sample{GPS: &sense.GPSSample{
		Time:      apiEpoch,
		Lat:       40.7128,
		Lon:       -74.0060,
		AccuracyM: 8,
		SpeedMPS:  10,
		HasSpeed:  true,
	}}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := env.engine.Latest(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine never published a result")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := env.get(t, "/api/status?units=kph")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Speed == nil || math.Abs(*status.Speed-36) > 1e-9 {
		t.Fatalf("speed = %v, want 36 kph", status.Speed)
	}
	if status.SpeedUnits != "kph" {
		t.Errorf("speed units = %q", status.SpeedUnits)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	env := newTestEnv(t)
	mux := env.server.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/override",
		strings.NewReader(`{"active":true,"duration":"2h"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("set override = %d: %s", rec.Code, rec.Body)
	}

	rec = env.get(t, "/api/override")
	var o sense.ManualOverride
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if !o.Active || !o.Expires.Equal(apiEpoch.Add(2*time.Hour)) {
		t.Errorf("override = %+v", o)
	}

	// The override survives in the checkpoint table.
	value, ok, err := env.store.Load(session.CheckpointManualOverride)
	if err != nil || !ok {
		t.Fatalf("checkpoint load: ok=%v err=%v", ok, err)
	}
	if value != apiEpoch.Add(2*time.Hour).Format(time.RFC3339) {
		t.Errorf("checkpoint value = %q", value)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/override", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear override = %d", rec.Code)
	}
	if value, _, _ := env.store.Load(session.CheckpointManualOverride); value != "off" {
		t.Errorf("checkpoint after clear = %q, want off", value)
	}
}

func TestOverrideRejectsBadDuration(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/override",
		strings.NewReader(`{"active":true,"duration":"soon"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRestoreOverride(t *testing.T) {
	env := newTestEnv(t)

	expires := apiEpoch.Add(time.Hour)
	if err := env.store.Store(session.CheckpointManualOverride, expires.Format(time.RFC3339)); err != nil {
		t.Fatal(err)
	}
	RestoreOverride(env.store, env.engine, apiEpoch)

	rec := env.get(t, "/api/override")
	var o sense.ManualOverride
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if !o.Active {
		t.Fatal("override not restored")
	}

	// An expired checkpoint must not restore.
	env2 := newTestEnv(t)
	if err := env2.store.Store(session.CheckpointManualOverride, apiEpoch.Add(-time.Hour).Format(time.RFC3339)); err != nil {
		t.Fatal(err)
	}
	RestoreOverride(env2.store, env2.engine, apiEpoch)
	rec = env2.get(t, "/api/override")
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.Active {
		t.Fatal("expired override restored")
	}
}

func TestSessionsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty store returned %s, want []", body)
	}

	if rec := env.get(t, "/api/sessions?days=zero"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad days param = %d, want 400", rec.Code)
	}

	s := session.Session{ID: "s-1", StartedAt: apiEpoch.Add(-time.Hour), EndedAt: apiEpoch, DoseJoules: 50}
	if err := env.store.SessionClosed(s); err != nil {
		t.Fatal(err)
	}
	rec = env.get(t, "/api/sessions?days=2")
	var sessions []session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s-1" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestStreamDeliversResults(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	env.engine.Samples() <- sense.Sample{GPS: &sense.GPSSample{
		Time:      apiEpoch,
		Lat:       40.7128,
		Lon:       -74.0060,
		AccuracyM: 8,
	}}

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 8)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before delivering a result")
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Result.Stable.Mode == "" {
				t.Errorf("stream event carries no mode: %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("no stream event within 5s")
		}
	}
}
