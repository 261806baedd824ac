package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/domain"
	"conference-lab/synchronization"
)

func subscriptionKey(p domain.Participant, id synchronization.ObjectID) []byte {
	return []byte(fmt.Sprintf("sub:%s:%s:%s", p.ConferenceID, p.ID, id))
}

func subscriptionParticipantPrefix(p domain.Participant) []byte {
	return []byte(fmt.Sprintf("sub:%s:%s:", p.ConferenceID, p.ID))
}

func subscriptionConferencePrefix(conferenceID string) []byte {
	return []byte(fmt.Sprintf("sub:%s:", conferenceID))
}

// subscriptionRecord is stored per (participant, object). The ids are
// kept in the value so lookups never parse keys.
type subscriptionRecord struct {
	ParticipantID string `json:"participantId"`
	ObjectID      string `json:"objectId"`
	Synced        bool   `json:"synced"`
}

type SubscriptionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSubscriptionRepository(db *badger.DB, log *slog.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, log: log}
}

func (r *SubscriptionRepository) Add(_ context.Context, p domain.Participant, id synchronization.ObjectID) (bool, error) {
	added := false
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(subscriptionKey(p, id))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		added = true
		return r.write(txn, p, subscriptionRecord{ParticipantID: p.ID, ObjectID: id.String(), Synced: false})
	})
	return added, err
}

func (r *SubscriptionRepository) MarkSynced(_ context.Context, p domain.Participant, id synchronization.ObjectID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return r.write(txn, p, subscriptionRecord{ParticipantID: p.ID, ObjectID: id.String(), Synced: true})
	})
}

func (r *SubscriptionRepository) Remove(_ context.Context, p domain.Participant, id synchronization.ObjectID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(subscriptionKey(p, id))
	})
}

// RemoveAll drops every subscription of the participant in one
// transaction and returns exactly the removed object ids.
func (r *SubscriptionRepository) RemoveAll(_ context.Context, p domain.Participant) ([]synchronization.ObjectID, error) {
	var removed []synchronization.ObjectID
	err := r.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		err := iteratePrefix(txn, subscriptionParticipantPrefix(p), func(key []byte, value []byte) error {
			var record subscriptionRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			id, err := synchronization.ParseObjectID(record.ObjectID)
			if err != nil {
				return err
			}
			removed = append(removed, id)
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
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *SubscriptionRepository) SubscribersOf(_ context.Context, conferenceID string,
	id synchronization.ObjectID) ([]synchronization.Subscriber, error) {
	var subscribers []synchronization.Subscriber
	err := r.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, subscriptionConferencePrefix(conferenceID), func(_ []byte, value []byte) error {
			var record subscriptionRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			if record.ObjectID != id.String() {
				return nil
			}
			subscribers = append(subscribers, synchronization.Subscriber{
				Participant: domain.Participant{ConferenceID: conferenceID, ID: record.ParticipantID},
				Synced:      record.Synced,
			})
			return nil
		})
	})
	return subscribers, err
}

func (r *SubscriptionRepository) write(txn *badger.Txn, p domain.Participant, record subscriptionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	id, err := synchronization.ParseObjectID(record.ObjectID)
	if err != nil {
		return err
	}
	return txn.Set(subscriptionKey(p, id), data)
}
