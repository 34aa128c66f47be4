// Package postgres persists the policy state as one JSONB row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/warden/internal/policy"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS bot_state (
	id         TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	loadSQL = `SELECT state FROM bot_state WHERE id = $1`
	saveSQL = `INSERT INTO bot_state (id, state, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`

	stateID = "policy"
)

// DBTX is the subset of pgx used by Store; *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes the state row.
type Store struct {
	db     DBTX
	logger *slog.Logger
}

// Connect opens a pool for dsn and ensures the schema exists.
func Connect(ctx context.Context, log *slog.Logger, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	s := New(log, pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// New wraps an existing connection.
func New(log *slog.Logger, db DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("component", "storage.postgres")),
	}
}

// Migrate creates the state table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create bot_state: %w", err)
	}
	return nil
}

// Load returns the stored state, or an empty state when the row is absent.
func (s *Store) Load(ctx context.Context) (policy.State, error) {
	var raw []byte
	if err := s.db.QueryRow(ctx, loadSQL, stateID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return policy.State{}, nil
		}
		return policy.State{}, fmt.Errorf("select state: %w", err)
	}
	var state policy.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return policy.State{}, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

// Save upserts the state row.
func (s *Store) Save(ctx context.Context, state policy.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := s.db.Exec(ctx, saveSQL, stateID, raw); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}
