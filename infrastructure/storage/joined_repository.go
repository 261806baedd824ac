package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"conference-lab/conference"
	"conference-lab/domain"
)

func joinedKey(p domain.Participant) []byte {
	return []byte(fmt.Sprintf("joined:%s:%s", p.ConferenceID, p.ID))
}

func joinedPrefix(conferenceID string) []byte {
	return []byte(fmt.Sprintf("joined:%s:", conferenceID))
}

// JoinedParticipantsRepository tracks the active connection per joined
// participant and provides the scoped join lock closing the double-join
// race window.
type JoinedParticipantsRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*joinLock
}

type joinLock struct {
	ch   chan struct{}
	refs int
}

func NewJoinedParticipantsRepository(db *badger.DB, log *slog.Logger) *JoinedParticipantsRepository {
	return &JoinedParticipantsRepository{db: db, log: log, locks: make(map[string]*joinLock)}
}

func (r *JoinedParticipantsRepository) AddParticipant(_ context.Context, p domain.Participant,
	connectionID string) (*conference.ParticipantSession, error) {
	var previous *conference.ParticipantSession
	err := r.db.Update(func(txn *badger.Txn) error {
		previous = nil
		item, err := txn.Get(joinedKey(p))
		if err == nil {
			var session conference.ParticipantSession
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &session)
			}); err != nil {
				return err
			}
			if session.ConnectionID != connectionID {
				previous = &session
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := json.Marshal(conference.ParticipantSession{
			ConferenceID:  p.ConferenceID,
			ParticipantID: p.ID,
			ConnectionID:  connectionID,
		})
		if err != nil {
			return err
		}
		return txn.Set(joinedKey(p), data)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (r *JoinedParticipantsRepository) RemoveParticipant(_ context.Context, p domain.Participant,
	connectionID string) (bool, error) {
	removed := false
	err := r.db.Update(func(txn *badger.Txn) error {
		removed = false
		item, err := txn.Get(joinedKey(p))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var session conference.ParticipantSession
		if err := item.Value(func(value []byte) error {
			return json.Unmarshal(value, &session)
		}); err != nil {
			return err
		}
		if session.ConnectionID != connectionID {
			return nil
		}
		removed = true
		return txn.Delete(joinedKey(p))
	})
	return removed, err
}

func (r *JoinedParticipantsRepository) IsParticipantJoined(_ context.Context, p domain.Participant,
	connectionID string) (bool, error) {
	joined := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(joinedKey(p))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var session conference.ParticipantSession
		if err := item.Value(func(value []byte) error {
			return json.Unmarshal(value, &session)
		}); err != nil {
			return err
		}
		joined = session.ConnectionID == connectionID
		return nil
	})
	return joined, err
}

// LockParticipantJoin acquires the in-process lock for the participant.
// The lock is held only while verifying the active connection; the
// release function is safe on every exit path.
func (r *JoinedParticipantsRepository) LockParticipantJoin(ctx context.Context,
	p domain.Participant) (func(), error) {
	key := fmt.Sprintf("%s/%s", p.ConferenceID, p.ID)

	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &joinLock{ch: make(chan struct{}, 1)}
		r.locks[key] = lock
	}
	lock.refs++
	r.mu.Unlock()

	release := func() {
		<-lock.ch
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}

	select {
	case lock.ch <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (r *JoinedParticipantsRepository) RemoveAllOfConference(_ context.Context,
	conferenceID string) ([]conference.ParticipantSession, error) {
	var sessions []conference.ParticipantSession
	err := r.db.Update(func(txn *badger.Txn) error {
		sessions = nil
		var keys [][]byte
		err := iteratePrefix(txn, joinedPrefix(conferenceID), func(key []byte, value []byte) error {
			var session conference.ParticipantSession
			if err := json.Unmarshal(value, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
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
	return sessions, err
}
