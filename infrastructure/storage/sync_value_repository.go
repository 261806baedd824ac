package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/synchronization"
)

func syncValueKey(conferenceID string, id synchronization.ObjectID) []byte {
	return []byte(fmt.Sprintf("syncval:%s:%s", conferenceID, id))
}

func syncValuePrefix(conferenceID string) []byte {
	return []byte(fmt.Sprintf("syncval:%s:", conferenceID))
}

// SyncValueRepository stores the last materialized value of each
// synchronized object as its JSON form. Previous values therefore come
// back as generic JSON shapes, which is exactly what the diff consumes.
type SyncValueRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSyncValueRepository(db *badger.DB, log *slog.Logger) *SyncValueRepository {
	return &SyncValueRepository{db: db, log: log}
}

func (r *SyncValueRepository) Swap(_ context.Context, conferenceID string,
	id synchronization.ObjectID, next any) (any, error) {
	var prev any
	data, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(syncValueKey(conferenceID, id))
		if err == nil {
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &prev)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(syncValueKey(conferenceID, id), data)
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (r *SyncValueRepository) Fetch(_ context.Context, conferenceID string, id synchronization.ObjectID) (any, error) {
	var value any
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(syncValueKey(conferenceID, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &value)
		})
	})
	return value, err
}

func (r *SyncValueRepository) DeleteAll(_ context.Context, conferenceID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		err := iteratePrefix(txn, syncValuePrefix(conferenceID), func(key []byte, _ []byte) error {
			keys = append(keys, append([]byte(nil), key...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
