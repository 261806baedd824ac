package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/domain"
)

func typingKey(p domain.Participant, channel string) []byte {
	return []byte(fmt.Sprintf("typing:%s:%s:%s", p.ConferenceID, channel, p.ID))
}

func typingPrefix(conferenceID, channel string) []byte {
	return []byte(fmt.Sprintf("typing:%s:%s:", conferenceID, channel))
}

type typingRecord struct {
	ParticipantID string `json:"participantId"`
}

// TypingRepository stores the currently-typing participant set per
// channel.
type TypingRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewTypingRepository(db *badger.DB, log *slog.Logger) *TypingRepository {
	return &TypingRepository{db: db, log: log}
}

func (r *TypingRepository) Add(_ context.Context, p domain.Participant, channel string) (bool, error) {
	added := false
	err := r.db.Update(func(txn *badger.Txn) error {
		added = false
		_, err := txn.Get(typingKey(p, channel))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(typingRecord{ParticipantID: p.ID})
		if err != nil {
			return err
		}
		added = true
		return txn.Set(typingKey(p, channel), data)
	})
	return added, err
}

func (r *TypingRepository) Remove(_ context.Context, p domain.Participant, channel string) (bool, error) {
	removed := false
	err := r.db.Update(func(txn *badger.Txn) error {
		removed = false
		_, err := txn.Get(typingKey(p, channel))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(typingKey(p, channel))
	})
	return removed, err
}

// FetchTyping returns the typing participant ids of a channel in a
// stable order, so equal sets produce equal synchronized values.
func (r *TypingRepository) FetchTyping(_ context.Context, conferenceID, channel string) ([]string, error) {
	var participants []string
	err := r.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, typingPrefix(conferenceID, channel), func(_ []byte, value []byte) error {
			var record typingRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			participants = append(participants, record.ParticipantID)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(participants)
	return participants, nil
}
