package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yadokani389/taiyaq/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the snapshots table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			state JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure snapshots table: %w", err)
	}
	return nil
}

// SaveSnapshot persists one snapshot of the aggregate. Older snapshots are
// pruned so the table holds only the latest row; durability is best-effort
// and the in-memory aggregate stays authoritative either way.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (state) VALUES ($1)", state); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshots WHERE id < (SELECT MAX(id) FROM snapshots)"); err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return tx.Commit()
}

// LoadLatestSnapshot returns the most recent snapshot, or nil if none has
// been saved yet.
func (s *Store) LoadLatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var state []byte
	err := s.db.GetContext(ctx, &state,
		"SELECT state FROM snapshots ORDER BY id DESC LIMIT 1")
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
