// Package chat handles chat messages and typing indicators. Typing state
// is the ephemeral timed fact of the core: created or refreshed on
// activity, destroyed when its timer fires or when the participant sends
// a message, changes room, or disconnects.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"conference-lab/domain"
)

// StoredMessage is a persisted chat message. Channel is the room id the
// message was sent to.
type StoredMessage struct {
	ID           uuid.UUID `json:"id"`
	ConferenceID string    `json:"conferenceId"`
	Channel      string    `json:"channel"`
	SenderID     string    `json:"senderId"`
	Content      string    `json:"content"`
	SentAt       time.Time `json:"sentAt"`
}

type MessageRepository interface {
	StoreMessage(ctx context.Context, m StoredMessage) error
	// FetchMessages pages backwards through a channel's history, newest
	// first. A nil cursor starts at the newest message.
	FetchMessages(ctx context.Context, conferenceID, channel string, cursor *string, limit int) ([]StoredMessage, *string, error)
}

// TypingRepository stores which participants are currently typing in
// which channel.
type TypingRepository interface {
	// Add reports whether the participant was newly added.
	Add(ctx context.Context, p domain.Participant, channel string) (bool, error)
	// Remove reports whether the participant was present.
	Remove(ctx context.Context, p domain.Participant, channel string) (bool, error)
	FetchTyping(ctx context.Context, conferenceID, channel string) ([]string, error)
}
