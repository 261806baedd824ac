// Package domain contains core concepts of the conference system.
// This file defines identities and entities shared by every service.
// No runtime, network, or UI logic should be added here.
package domain

// Participant identifies one end-point identity within a conference.
// The pair is the canonical identity everywhere in the core; a participant
// is bound to at most one active connection at a time.
type Participant struct {
	ConferenceID string
	ID           string
}

// ConferenceState is the lifecycle state of a conference.
type ConferenceState string

const (
	ConferenceOpen   ConferenceState = "open"
	ConferenceClosed ConferenceState = "closed"
)

// ConferenceConfiguration holds the options a conference is created with.
type ConferenceConfiguration struct {
	Moderators      []string `json:"moderators"`
	DefaultRoomName string   `json:"defaultRoomName"`

	// Permission layer contents keyed by layer name: "conferenceDefault",
	// "moderator", and "room/<roomId>" for per-room overrides. Values are
	// validated against their descriptors before entering a layer.
	Permissions map[string]map[string]any `json:"permissions"`
}

// Conference is one session instance with its own participants, rooms and
// permissions.
type Conference struct {
	ID            string                  `json:"id"`
	State         ConferenceState         `json:"state"`
	Configuration ConferenceConfiguration `json:"configuration"`
}

func (c Conference) IsOpen() bool { return c.State == ConferenceOpen }

// Room is a sub-partition of a conference. Participants in the same room
// see each other's room-scoped synchronized objects.
type Room struct {
	ConferenceID string `json:"conferenceId"`
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
}

// DefaultRoomID names the distinguished room that always exists while a
// conference is open.
const DefaultRoomID = "default"

// ParticipantMetadata is display information supplied when joining.
type ParticipantMetadata struct {
	DisplayName string `json:"displayName" validate:"required,max=64"`
}
