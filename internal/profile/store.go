package profile

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no cgo

	"jitcore/internal/ir"
)

// Store persists per-function call counters and tier residency across
// process restarts, a warm-start enrichment on top of Data's
// in-memory-only counters.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) a SQLite-backed counter store at
// path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("profile: failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: failed to ping store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer discipline
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS function_counters (
			function_id INTEGER PRIMARY KEY,
			call_count  INTEGER NOT NULL,
			tier        INTEGER NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts one function's counter and tier.
func (s *Store) Save(id ir.FunctionId, count uint64, tier int) error {
	_, err := s.db.Exec(`
		INSERT INTO function_counters (function_id, call_count, tier, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(function_id) DO UPDATE SET call_count=excluded.call_count, tier=excluded.tier, updated_at=excluded.updated_at
	`, uint32(id), count, tier, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("profile: failed to save counter: %w", err)
	}
	return nil
}

// LoadAll returns every persisted (FunctionId -> count, tier) pair, used
// to warm-start a controller after a restart.
func (s *Store) LoadAll() (map[ir.FunctionId]uint64, map[ir.FunctionId]int, error) {
	rows, err := s.db.Query(`SELECT function_id, call_count, tier FROM function_counters`)
	if err != nil {
		return nil, nil, fmt.Errorf("profile: failed to query counters: %w", err)
	}
	defer rows.Close()

	counts := make(map[ir.FunctionId]uint64)
	tiers := make(map[ir.FunctionId]int)
	for rows.Next() {
		var id uint32
		var count uint64
		var tier int
		if err := rows.Scan(&id, &count, &tier); err != nil {
			return nil, nil, fmt.Errorf("profile: failed to scan counter row: %w", err)
		}
		counts[ir.FunctionId(id)] = count
		tiers[ir.FunctionId(id)] = tier
	}
	return counts, tiers, rows.Err()
}
