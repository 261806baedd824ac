// Package conference owns the conference lifecycle: creation, opening and
// closing, and the join/leave flow that binds a participant to exactly
// one active connection.
package conference

import (
	"context"

	"conference-lab/domain"
)

// Repository is the conference store contract. Updates are optimistic:
// the caller supplies the state it believes the conference is in.
type Repository interface {
	Find(ctx context.Context, conferenceID string) (domain.Conference, error)
	Create(ctx context.Context, c domain.Conference) error
	// Update replaces the stored conference only if its state matches
	// expectedState, returning the prior value. A mismatch yields a
	// concurrency failure.
	Update(ctx context.Context, next domain.Conference, expectedState domain.ConferenceState) (domain.Conference, error)
}

// ParticipantSession is one participant's active connection.
type ParticipantSession struct {
	ConferenceID  string `json:"conferenceId"`
	ParticipantID string `json:"participantId"`
	ConnectionID  string `json:"connectionId"`
}

// JoinedParticipantsRepository tracks which connection is the active one
// for each joined participant.
type JoinedParticipantsRepository interface {
	// AddParticipant registers the connection as the active one and
	// returns the session it replaced, if any.
	AddParticipant(ctx context.Context, p domain.Participant, connectionID string) (*ParticipantSession, error)
	// RemoveParticipant removes the participant only if connectionID is
	// still the active connection, reporting whether it did.
	RemoveParticipant(ctx context.Context, p domain.Participant, connectionID string) (bool, error)
	IsParticipantJoined(ctx context.Context, p domain.Participant, connectionID string) (bool, error)
	// LockParticipantJoin acquires the scoped join lock for
	// (conference, participant). The returned release function must be
	// called on every exit path.
	LockParticipantJoin(ctx context.Context, p domain.Participant) (release func(), err error)
	RemoveAllOfConference(ctx context.Context, conferenceID string) ([]ParticipantSession, error)
}

// MessagingGateway enables the transport's send path for a connection.
// Called between the initialized and joined notifications; handlers of
// the joined notification may already send messages to the participant.
type MessagingGateway interface {
	EnableMessaging(ctx context.Context, p domain.Participant, connectionID string) error
}

// TokenFactory issues ephemeral equipment/session tokens. Token contents
// are opaque to the core.
type TokenFactory interface {
	IssueEquipmentToken(p domain.Participant) (string, error)
}

// PermissionGuard answers whether a participant currently holds a
// boolean permission.
type PermissionGuard interface {
	Can(ctx context.Context, p domain.Participant, permissionKey string) (bool, error)
}
