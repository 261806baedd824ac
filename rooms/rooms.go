// Package rooms coordinates room membership: which rooms exist in a
// conference and which single room each participant is assigned to. All
// membership writes go through an optimistic-concurrency repository
// contract; the coordinator never retries a lost race on its own.
package rooms

import (
	"context"

	"conference-lab/domain"
)

// Repository is the room and membership store contract. The participant
// room mapping is the single source of truth for who sees whom.
type Repository interface {
	FetchRooms(ctx context.Context, conferenceID string) ([]domain.Room, error)
	CreateRooms(ctx context.Context, conferenceID string, rooms []domain.Room) error
	RemoveRooms(ctx context.Context, conferenceID string, roomIDs []string) error

	// FetchParticipantRoom returns the assigned room id, empty when
	// unassigned.
	FetchParticipantRoom(ctx context.Context, p domain.Participant) (string, error)
	// FetchParticipantRooms returns the full participant -> room mapping
	// of a conference.
	FetchParticipantRooms(ctx context.Context, conferenceID string) (map[string]string, error)

	// SetParticipantRoom commits a membership transition under optimistic
	// concurrency: the write succeeds only if the stored room still
	// equals expectedRoom (empty = unassigned), otherwise it returns a
	// concurrency failure. newRoom empty unassigns the participant.
	SetParticipantRoom(ctx context.Context, p domain.Participant, expectedRoom, newRoom string) error

	// RemoveAllOfConference deletes all rooms and all participant
	// mappings of the conference atomically, returning both removals.
	RemoveAllOfConference(ctx context.Context, conferenceID string) ([]domain.Room, map[string]string, error)
}

// PermissionGuard answers boolean permission checks against a
// participant's effective stack.
type PermissionGuard interface {
	Can(ctx context.Context, p domain.Participant, permissionKey string) (bool, error)
}

// RoomChangeType tags a membership transition.
type RoomChangeType string

const (
	RoomChangeJoined   RoomChangeType = "joined"
	RoomChangeSwitched RoomChangeType = "switched"
	RoomChangeLeft     RoomChangeType = "left"
)

// RoomChange describes one participant's transition relative to their
// prior room.
type RoomChange struct {
	Type           RoomChangeType
	PreviousRoomID string
	NewRoomID      string
}

func Joined(roomID string) RoomChange {
	return RoomChange{Type: RoomChangeJoined, NewRoomID: roomID}
}

func Switched(previousRoomID, roomID string) RoomChange {
	return RoomChange{Type: RoomChangeSwitched, PreviousRoomID: previousRoomID, NewRoomID: roomID}
}

func Left(previousRoomID string) RoomChange {
	return RoomChange{Type: RoomChangeLeft, PreviousRoomID: previousRoomID}
}
