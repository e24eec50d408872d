package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/session"
)

// LockTransition appends one tracking-lock state change. Part of the
// session.Recorder implementation.
func (db *DB) LockTransition(t session.Transition) error {
	_, err := db.Exec(`
		INSERT INTO mode_transitions (time, lock, active, mode, confidence, source, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, encodeTime(t.Time), string(t.Lock), boolInt(t.Active), string(t.Mode), t.Confidence, string(t.Source), t.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns lock transitions in [since, until), oldest first.
func (db *DB) ListTransitions(since, until time.Time) ([]session.Transition, error) {
	rows, err := db.Query(`
		SELECT time, lock, active, mode, confidence, source, reason
		FROM mode_transitions
		WHERE time >= ? AND time < ?
		ORDER BY time
	`, encodeTime(since), encodeTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Transition
	for rows.Next() {
		var (
			t          session.Transition
			at         sql.NullString
			lock, mode string
			source     string
			active     int
			reason     sql.NullString
		)
		if err := rows.Scan(&at, &lock, &active, &mode, &t.Confidence, &source, &reason); err != nil {
			return nil, err
		}
		if t.Time, err = decodeTime(at); err != nil {
			return nil, fmt.Errorf("transition time: %w", err)
		}
		t.Lock = session.LockKind(lock)
		t.Active = active != 0
		t.Mode = sense.Mode(mode)
		t.Source = sense.Source(source)
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
