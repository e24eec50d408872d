package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daylight-data/exposure.report/internal/session"
)

// SessionStarted inserts a freshly opened session row. Part of the
// session.Recorder implementation.
func (db *DB) SessionStarted(s session.Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, started_at, dose_joules, paused_ms, ticks, peak_uvi)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, encodeTime(s.StartedAt), s.DoseJoules, s.PausedFor.Milliseconds(), s.Ticks, s.PeakUVI)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}
	return nil
}

// SessionClosed finalizes a session row with its accumulated totals.
func (db *DB) SessionClosed(s session.Session) error {
	res, err := db.Exec(`
		UPDATE sessions
		SET ended_at = ?, dose_joules = ?, paused_ms = ?, ticks = ?, peak_uvi = ?, end_reason = ?
		WHERE id = ?
	`, encodeTime(s.EndedAt), s.DoseJoules, s.PausedFor.Milliseconds(), s.Ticks, s.PeakUVI, s.EndReason, s.ID)
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Session row missing, likely a restart between start and close.
		// Insert the complete row instead of losing the dose.
		_, err := db.Exec(`
			INSERT INTO sessions (id, started_at, ended_at, dose_joules, paused_ms, ticks, peak_uvi, end_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, encodeTime(s.StartedAt), encodeTime(s.EndedAt), s.DoseJoules,
			s.PausedFor.Milliseconds(), s.Ticks, s.PeakUVI, s.EndReason)
		if err != nil {
			return fmt.Errorf("failed to backfill session %s: %w", s.ID, err)
		}
	}
	return nil
}

// ListSessions returns sessions that started in [since, until), most recent
// first.
func (db *DB) ListSessions(since, until time.Time) ([]session.Session, error) {
	rows, err := db.Query(`
		SELECT id, started_at, ended_at, dose_joules, paused_ms, ticks, peak_uvi, end_reason
		FROM sessions
		WHERE started_at >= ? AND started_at < ?
		ORDER BY started_at DESC
	`, encodeTime(since), encodeTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(rows *sql.Rows) (session.Session, error) {
	var (
		s                  session.Session
		startedAt, endedAt sql.NullString
		pausedMS           int64
		endReason          sql.NullString
	)
	if err := rows.Scan(&s.ID, &startedAt, &endedAt, &s.DoseJoules, &pausedMS, &s.Ticks, &s.PeakUVI, &endReason); err != nil {
		return s, err
	}
	var err error
	if s.StartedAt, err = decodeTime(startedAt); err != nil {
		return s, fmt.Errorf("session %s started_at: %w", s.ID, err)
	}
	if s.EndedAt, err = decodeTime(endedAt); err != nil {
		return s, fmt.Errorf("session %s ended_at: %w", s.ID, err)
	}
	s.PausedFor = time.Duration(pausedMS) * time.Millisecond
	s.EndReason = endReason.String
	return s, nil
}

// DaySummary aggregates one day's closed sessions.
type DaySummary struct {
	Day        string  `json:"day"` // YYYY-MM-DD, UTC
	Sessions   int     `json:"sessions"`
	DoseJoules float64 `json:"dose_joules"`
	PeakUVI    float64 `json:"peak_uvi"`
}

// SummarizeDays aggregates closed sessions per UTC day over [since, until).
func (db *DB) SummarizeDays(since, until time.Time) ([]DaySummary, error) {
	rows, err := db.Query(`
		SELECT substr(started_at, 1, 10) AS day,
		       COUNT(*),
		       SUM(dose_joules),
		       MAX(peak_uvi)
		FROM sessions
		WHERE started_at >= ? AND started_at < ? AND ended_at IS NOT NULL
		GROUP BY day
		ORDER BY day
	`, encodeTime(since), encodeTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DaySummary
	for rows.Next() {
		var d DaySummary
		if err := rows.Scan(&d.Day, &d.Sessions, &d.DoseJoules, &d.PeakUVI); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
