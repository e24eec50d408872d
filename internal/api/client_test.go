package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/daylight-data/exposure.report/internal/httputil"
)

func TestClientSummary(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `[
		{"day":"2026-08-24","sessions":2,"dose_joules":312.5,"peak_uvi":6.1},
		{"day":"2026-08-25","sessions":1,"dose_joules":80.0,"peak_uvi":4.2}
	]`)

	c := NewClient("http://localhost:2839/", mock)
	summary, err := c.Summary(7)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 2 || summary[0].Day != "2026-08-24" || summary[1].DoseJoules != 80.0 {
		t.Errorf("summary = %+v", summary)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("no request recorded")
	}
	if got := req.URL.String(); got != "http://localhost:2839/api/summary?days=7" {
		t.Errorf("request URL = %q", got)
	}
}

func TestClientSessions(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `[
		{"id":"s-1","started_at":"2026-08-25T14:00:00Z","ended_at":"2026-08-25T14:40:00Z",
		 "dose_joules":120.0,"ticks":480,"peak_uvi":5.5,"end_reason":"indoor lock"}
	]`)

	c := NewClient("http://localhost:2839", mock)
	sessions, err := c.Sessions(1)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s-1" || sessions[0].EndReason != "indoor lock" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestClientTransitions(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `[
		{"time":"2026-08-25T14:00:00Z","lock":"outdoor","active":true,
		 "mode":"outside","confidence":0.91,"source":"zone","reason":"clear of buildings"}
	]`)

	transitions, err := NewClient("http://localhost:2839", mock).Transitions(1)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(transitions) != 1 || !transitions[0].Active || transitions[0].Lock != "outdoor" {
		t.Errorf("transitions = %+v", transitions)
	}
}

func TestClientAPIError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusBadRequest, `{"error":"invalid days parameter"}`)

	_, err := NewClient("http://localhost:2839", mock).Summary(0)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "GET /api/summary?days=0: invalid days parameter (HTTP 400)"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestClientTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DefaultError = errors.New("connection refused")

	if _, err := NewClient("http://localhost:2839", mock).Sessions(1); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientNonJSONErrorBody(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusBadGateway, "upstream down")

	_, err := NewClient("http://localhost:2839", mock).Summary(1)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "GET /api/summary?days=1: HTTP 502"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}
