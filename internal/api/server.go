// Package api is the daemon's HTTP surface: live classification state,
// manual override control, recorded sessions, and a server-sent event
// stream of results.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/daylight-data/exposure.report/internal/db"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/session"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	engine *sense.Engine
	gate   *session.Gate
	store  *db.DB
	clock  timeutil.Clock
}

func NewServer(engine *sense.Engine, gate *session.Gate, store *db.DB, clock timeutil.Clock) *Server {
	return &Server{
		engine: engine,
		gate:   gate,
		store:  store,
		clock:  clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/override", s.handleOverride)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/stream", s.streamResults)
	return mux
}

// daysParam parses the ?days= query parameter, defaulting to 1.
func daysParam(r *http.Request) (int, bool) {
	days := 1
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			return 0, false
		}
		days = parsed
	}
	return days, true
}
