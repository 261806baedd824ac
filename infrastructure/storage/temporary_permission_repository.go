package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/domain"
)

func temporaryPermissionKey(p domain.Participant, permissionKey string) []byte {
	return []byte(fmt.Sprintf("tmpperm:%s:%s:%s", p.ConferenceID, p.ID, permissionKey))
}

func temporaryPermissionPrefix(p domain.Participant) []byte {
	return []byte(fmt.Sprintf("tmpperm:%s:%s:", p.ConferenceID, p.ID))
}

type temporaryPermissionRecord struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// TemporaryPermissionRepository stores per-participant permission
// overrides granted at runtime.
type TemporaryPermissionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewTemporaryPermissionRepository(db *badger.DB, log *slog.Logger) *TemporaryPermissionRepository {
	return &TemporaryPermissionRepository{db: db, log: log}
}

func (r *TemporaryPermissionRepository) Set(_ context.Context, p domain.Participant, key string, value any) error {
	data, err := json.Marshal(temporaryPermissionRecord{Key: key, Value: value})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(temporaryPermissionKey(p, key), data)
	})
}

func (r *TemporaryPermissionRepository) Remove(_ context.Context, p domain.Participant, key string) (bool, error) {
	removed := false
	err := r.db.Update(func(txn *badger.Txn) error {
		removed = false
		_, err := txn.Get(temporaryPermissionKey(p, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(temporaryPermissionKey(p, key))
	})
	return removed, err
}

func (r *TemporaryPermissionRepository) RemoveAll(_ context.Context, p domain.Participant) error {
	return r.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		err := iteratePrefix(txn, temporaryPermissionPrefix(p), func(key []byte, _ []byte) error {
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

func (r *TemporaryPermissionRepository) FetchAll(_ context.Context, p domain.Participant) (map[string]any, error) {
	values := make(map[string]any)
	err := r.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, temporaryPermissionPrefix(p), func(_ []byte, value []byte) error {
			var record temporaryPermissionRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			values[record.Key] = record.Value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
