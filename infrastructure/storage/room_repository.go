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

func roomKey(conferenceID, roomID string) []byte {
	return []byte(fmt.Sprintf("room:%s:%s", conferenceID, roomID))
}

func roomPrefix(conferenceID string) []byte {
	return []byte(fmt.Sprintf("room:%s:", conferenceID))
}

func roomMappingKey(p domain.Participant) []byte {
	return []byte(fmt.Sprintf("roommap:%s:%s", p.ConferenceID, p.ID))
}

func roomMappingPrefix(conferenceID string) []byte {
	return []byte(fmt.Sprintf("roommap:%s:", conferenceID))
}

// roomMapping is the stored participant -> room assignment.
type roomMapping struct {
	ParticipantID string `json:"participantId"`
	RoomID        string `json:"roomId"`
}

type RoomRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) *RoomRepository {
	return &RoomRepository{db: db, log: log}
}

func (r *RoomRepository) FetchRooms(_ context.Context, conferenceID string) ([]domain.Room, error) {
	var result []domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, roomPrefix(conferenceID), func(_ []byte, value []byte) error {
			var room domain.Room
			if err := json.Unmarshal(value, &room); err != nil {
				return err
			}
			result = append(result, room)
			return nil
		})
	})
	return result, err
}

func (r *RoomRepository) CreateRooms(_ context.Context, conferenceID string, roomsToCreate []domain.Room) error {
	return r.db.Update(func(txn *badger.Txn) error {
		for _, room := range roomsToCreate {
			data, err := json.Marshal(room)
			if err != nil {
				return err
			}
			if err := txn.Set(roomKey(conferenceID, room.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RoomRepository) RemoveRooms(_ context.Context, conferenceID string, roomIDs []string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		for _, roomID := range roomIDs {
			if err := txn.Delete(roomKey(conferenceID, roomID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RoomRepository) FetchParticipantRoom(_ context.Context, p domain.Participant) (string, error) {
	var roomID string
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		roomID, err = readParticipantRoom(txn, p)
		return err
	})
	return roomID, err
}

func (r *RoomRepository) FetchParticipantRooms(_ context.Context, conferenceID string) (map[string]string, error) {
	result := make(map[string]string)
	err := r.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, roomMappingPrefix(conferenceID), func(_ []byte, value []byte) error {
			var mapping roomMapping
			if err := json.Unmarshal(value, &mapping); err != nil {
				return err
			}
			result[mapping.ParticipantID] = mapping.RoomID
			return nil
		})
	})
	return result, err
}

// SetParticipantRoom commits the membership write only if the stored
// room still equals expectedRoom. Exactly one of two racing writers
// succeeds; the loser gets a concurrency failure.
func (r *RoomRepository) SetParticipantRoom(_ context.Context, p domain.Participant, expectedRoom, newRoom string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		current, err := readParticipantRoom(txn, p)
		if err != nil {
			return err
		}
		if current != expectedRoom {
			return errors.NewConcurrency("participant %s is in room %q, expected %q", p.ID, current, expectedRoom)
		}

		if newRoom == "" {
			return txn.Delete(roomMappingKey(p))
		}
		data, err := json.Marshal(roomMapping{ParticipantID: p.ID, RoomID: newRoom})
		if err != nil {
			return err
		}
		return txn.Set(roomMappingKey(p), data)
	})
	if err == badger.ErrConflict {
		return errors.NewConcurrency("room assignment of participant %s was updated concurrently", p.ID)
	}
	return err
}

// RemoveAllOfConference deletes all rooms and all participant mappings
// of the conference in one transaction, so no per-participant
// reassignment can partially succeed afterwards.
func (r *RoomRepository) RemoveAllOfConference(_ context.Context, conferenceID string) ([]domain.Room, map[string]string, error) {
	var removedRooms []domain.Room
	removedMappings := make(map[string]string)

	err := r.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		err := iteratePrefix(txn, roomPrefix(conferenceID), func(key []byte, value []byte) error {
			var room domain.Room
			if err := json.Unmarshal(value, &room); err != nil {
				return err
			}
			removedRooms = append(removedRooms, room)
			keys = append(keys, append([]byte(nil), key...))
			return nil
		})
		if err != nil {
			return err
		}
		err = iteratePrefix(txn, roomMappingPrefix(conferenceID), func(key []byte, value []byte) error {
			var mapping roomMapping
			if err := json.Unmarshal(value, &mapping); err != nil {
				return err
			}
			removedMappings[mapping.ParticipantID] = mapping.RoomID
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
		return nil, nil, err
	}
	r.log.Debug("conference rooms removed", "conferenceId", conferenceID,
		"rooms", len(removedRooms), "mappings", len(removedMappings))
	return removedRooms, removedMappings, nil
}

func readParticipantRoom(txn *badger.Txn, p domain.Participant) (string, error) {
	item, err := txn.Get(roomMappingKey(p))
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var mapping roomMapping
	if err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &mapping)
	}); err != nil {
		return "", err
	}
	return mapping.RoomID, nil
}

// iteratePrefix walks all keys with the prefix, invoking fn with the key
// and its value.
func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(key, value []byte) error) error {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = true
	it := txn.NewIterator(options)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.Key()
		if err := item.Value(func(value []byte) error {
			return fn(key, value)
		}); err != nil {
			return err
		}
	}
	return nil
}
