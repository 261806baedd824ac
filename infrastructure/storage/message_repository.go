package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/chat"
)

// MessageRepository persists chat messages.
//
// The key is formatted as "msg:{conference}:{channel}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using the message UUID as a collision
//     discriminator if two messages arrive at the same nanosecond.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

func messageKey(m chat.StoredMessage) []byte {
	return []byte(fmt.Sprintf("msg:%s:%s:%019d:%s",
		m.ConferenceID, m.Channel, m.SentAt.UnixNano(), m.ID))
}

func messagePrefix(conferenceID, channel string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%s:", conferenceID, channel))
}

func (r *MessageRepository) StoreMessage(_ context.Context, m chat.StoredMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(m), data)
	})
}

// FetchMessages pages backwards through a channel, newest first. Thanks
// to the padded timestamp in the key, reverse iteration yields reverse
// chronological order. The returned cursor points at the last message of
// the page.
func (r *MessageRepository) FetchMessages(_ context.Context, conferenceID, channel string,
	cursor *string, limit int) ([]chat.StoredMessage, *string, error) {
	var messages []chat.StoredMessage
	var lastKey string

	prefix := messagePrefix(conferenceID, channel)
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// seek past the newest possible key, then walk backwards
			seekKey = append(append([]byte(nil), prefix...), []byte("9999999999999999999")...)
		} else {
			seekKey = append(append([]byte(nil), prefix...), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			err := item.Value(func(value []byte) error {
				var m chat.StoredMessage
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				messages = append(messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(messages) == 0 {
		return nil, nil, nil
	}
	return messages, &lastKey, nil
}
