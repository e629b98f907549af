package duckdb

import (
	"database/sql"
	"errors"
	"fmt"
)

// Get returns the value stored under key in scheduler_state.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM scheduler_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scheduler_state get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key in scheduler_state, replacing any previous
// value.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("scheduler_state set %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present in scheduler_state.
func (s *Store) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM scheduler_state WHERE key = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scheduler_state exists %q: %w", key, err)
	}
	return true, nil
}
