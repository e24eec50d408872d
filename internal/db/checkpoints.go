package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Load reads one checkpoint value. Part of the session.CheckpointStore
// implementation.
func (db *DB) Load(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM checkpoints WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load checkpoint %q: %w", key, err)
	}
	return value, true, nil
}

// Store upserts one checkpoint value.
func (db *DB) Store(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO checkpoints (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to store checkpoint %q: %w", key, err)
	}
	return nil
}
