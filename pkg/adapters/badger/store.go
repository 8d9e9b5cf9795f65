package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/aretw0/pergola/pkg/domain"
)

const runPrefix = "run/"

// Store implements ports.RunStore on BadgerDB.
type Store struct {
	db *badger.DB
}

// NewStore wraps an open database. The caller owns db.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, run *domain.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(runPrefix+run.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(runPrefix + runID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// List returns run ids in key order, which is sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(runPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}
