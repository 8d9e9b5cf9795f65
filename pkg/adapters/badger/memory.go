package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/aretw0/pergola/internal/recall"
	"github.com/aretw0/pergola/pkg/domain"
)

// Memory implements ports.MemoryStore on BadgerDB.
//
// Layout: "mem/<session>/seq" holds a big-endian counter and
// "mem/<session>/e/<seq>" holds one JSON entry; big-endian seq keys keep
// prefix iteration in recording order.
type Memory struct {
	db *badger.DB
}

// NewMemory wraps an open database. The caller owns db.
func NewMemory(db *badger.DB) *Memory {
	return &Memory{db: db}
}

func sessionPrefix(sessionID string) string {
	return "mem/" + sessionID + "/"
}

func (m *Memory) Record(ctx context.Context, sessionID, role, text string) error {
	prefix := sessionPrefix(sessionID)
	seqKey := []byte(prefix + "seq")

	for {
		err := m.db.Update(func(txn *badger.Txn) error {
			var seq uint64
			item, err := txn.Get(seqKey)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					seq = binary.BigEndian.Uint64(val)
					return nil
				}); err != nil {
					return err
				}
			}
			seq++

			data, err := json.Marshal(recall.Entry{
				Key:  fmt.Sprintf("%s:%d", sessionID, seq),
				Role: role,
				Text: text,
			})
			if err != nil {
				return err
			}

			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, seq)
			if err := txn.Set(seqKey, buf); err != nil {
				return err
			}
			return txn.Set(append([]byte(prefix+"e/"), buf...), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to record memory: %w", err)
		}
		return nil
	}
}

func (m *Memory) Search(ctx context.Context, sessionID, query string, maxResults int) ([]domain.MemoryRef, error) {
	var entries []recall.Entry
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix(sessionID) + "e/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e recall.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read memory: %w", err)
	}
	return recall.Rank(entries, query, maxResults), nil
}
