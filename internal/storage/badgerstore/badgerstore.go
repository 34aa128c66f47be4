// Package badgerstore persists the policy state in an embedded BadgerDB.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/memohai/warden/internal/policy"
)

var stateKey = []byte("policy:state")

// Store keeps the whole state under a single key.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) a Badger database in dir. An empty dir opens an
// in-memory database.
func Open(log *slog.Logger, dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(log, db), nil
}

// New wraps an already opened database.
func New(log *slog.Logger, db *badger.DB) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("component", "storage.badger")),
	}
}

// Load returns the stored state, or an empty state when nothing was saved.
func (s *Store) Load(ctx context.Context) (policy.State, error) {
	if err := ctx.Err(); err != nil {
		return policy.State{}, err
	}
	var state policy.State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return policy.State{}, nil
	}
	if err != nil {
		return policy.State{}, fmt.Errorf("read state: %w", err)
	}
	return state, nil
}

// Save overwrites the stored state.
func (s *Store) Save(ctx context.Context, state policy.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, data)
	})
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
