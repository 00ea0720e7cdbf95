// Package favorites keeps the device-local list of saved recipe IDs so
// the saved tab renders instantly while offline. The list is a mirror of
// server state, refreshed after every successful save or unsave, never a
// source of truth for the saved-recipes limit.
package favorites

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a local saved-recipe list backed by SQLite.
type Store struct {
	sql *sql.DB
}

// Open opens (or creates) the favorites database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open favorites db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}

	s := &Store{sql: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS favorites (
			user_id   TEXT NOT NULL,
			recipe_id TEXT NOT NULL,
			saved_at  INTEGER NOT NULL,
			PRIMARY KEY (user_id, recipe_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create favorites: %w", err)
	}
	return nil
}

// Add records a saved recipe. Adding an already-saved recipe refreshes
// its timestamp.
func (s *Store) Add(userID, recipeID string) error {
	_, err := s.sql.Exec(
		"INSERT OR REPLACE INTO favorites (user_id, recipe_id, saved_at) VALUES (?,?,?)",
		userID, recipeID, time.Now().UnixMilli(),
	)
	return err
}

// Remove drops a saved recipe. Removing an unknown recipe is a no-op.
func (s *Store) Remove(userID, recipeID string) error {
	_, err := s.sql.Exec(
		"DELETE FROM favorites WHERE user_id = ? AND recipe_id = ?",
		userID, recipeID,
	)
	return err
}

// List returns the user's saved recipe IDs, most recent first.
func (s *Store) List(userID string) ([]string, error) {
	rows, err := s.sql.Query(
		"SELECT recipe_id FROM favorites WHERE user_id = ? ORDER BY saved_at DESC, recipe_id",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Contains reports whether the recipe is in the user's saved list.
func (s *Store) Contains(userID, recipeID string) (bool, error) {
	var one int
	err := s.sql.QueryRow(
		"SELECT 1 FROM favorites WHERE user_id = ? AND recipe_id = ?",
		userID, recipeID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Count returns how many recipes the user has saved locally.
func (s *Store) Count(userID string) (int, error) {
	var count int
	err := s.sql.QueryRow(
		"SELECT COUNT(*) FROM favorites WHERE user_id = ?",
		userID,
	).Scan(&count)
	return count, err
}

// Replace swaps the user's local list for the server's, used after a
// full sync.
func (s *Store) Replace(userID string, recipeIDs []string) error {
	tx, err := s.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM favorites WHERE user_id = ?", userID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i, id := range recipeIDs {
		// Preserve server ordering via descending timestamps.
		if _, err := tx.Exec(
			"INSERT INTO favorites (user_id, recipe_id, saved_at) VALUES (?,?,?)",
			userID, id, now-int64(i),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
