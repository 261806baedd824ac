// Package storage implements the core's repository contracts on
// BadgerDB. Compare-and-swap writes run inside single badger
// transactions; a transaction-level conflict surfaces as the same
// concurrency failure as a failed precondition.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/domain"
	"conference-lab/errors"
)

func conferenceKey(conferenceID string) []byte {
	return []byte(fmt.Sprintf("conference:%s", conferenceID))
}

type ConferenceRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConferenceRepository(db *badger.DB, log *slog.Logger) *ConferenceRepository {
	return &ConferenceRepository{db: db, log: log}
}

func (r *ConferenceRepository) Find(_ context.Context, conferenceID string) (domain.Conference, error) {
	var conf domain.Conference
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conferenceKey(conferenceID))
		if err == badger.ErrKeyNotFound {
			return errors.NewNotFound("conference", conferenceID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &conf)
		})
	})
	return conf, err
}

func (r *ConferenceRepository) Create(_ context.Context, c domain.Conference) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(conferenceKey(c.ID), data)
	})
}

// Update replaces the conference only if the stored state matches
// expectedState, returning the prior value.
func (r *ConferenceRepository) Update(_ context.Context, next domain.Conference,
	expectedState domain.ConferenceState) (domain.Conference, error) {
	var prior domain.Conference
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(conferenceKey(next.ID))
		if err == badger.ErrKeyNotFound {
			return errors.NewNotFound("conference", next.ID)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(value []byte) error {
			return json.Unmarshal(value, &prior)
		}); err != nil {
			return err
		}
		if prior.State != expectedState {
			return errors.NewConcurrency("conference %s is %s, expected %s", next.ID, prior.State, expectedState)
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set(conferenceKey(next.ID), data)
	})
	if err == badger.ErrConflict {
		return domain.Conference{}, errors.NewConcurrency("conference %s was updated concurrently", next.ID)
	}
	return prior, err
}
