package rooms

import "conference-lab/domain"

// RoomCreationInfo describes a room to be created.
type RoomCreationInfo struct {
	DisplayName string `validate:"required,max=64"`
}

type CreateRoomsRequest struct {
	ConferenceID string
	Rooms        []RoomCreationInfo

	// RequestedBy gates the request on the requester's permissions; the
	// zero value marks a system-initiated request, which is not gated.
	RequestedBy domain.Participant
}

func (CreateRoomsRequest) RequestType() string { return "rooms/create" }

type RemoveRoomsRequest struct {
	ConferenceID string
	RoomIDs      []string
	RequestedBy  domain.Participant
}

func (RemoveRoomsRequest) RequestType() string { return "rooms/remove" }

// RoomAssignment targets one participant at a room; an empty RoomID
// unassigns.
type RoomAssignment struct {
	ParticipantID string
	RoomID        string
}

// SetParticipantRoomRequest applies each assignment independently: a
// concurrency failure on one participant does not abort the others.
type SetParticipantRoomRequest struct {
	ConferenceID string
	Assignments  []RoomAssignment
	RequestedBy  domain.Participant
}

func (SetParticipantRoomRequest) RequestType() string { return "rooms/setParticipantRoom" }

// MoveParticipant builds a single-participant assignment request.
func MoveParticipant(p domain.Participant, roomID string) SetParticipantRoomRequest {
	return SetParticipantRoomRequest{
		ConferenceID: p.ConferenceID,
		Assignments:  []RoomAssignment{{ParticipantID: p.ID, RoomID: roomID}},
	}
}

type RoomsCreatedNotification struct {
	ConferenceID string
	Rooms        []domain.Room
}

func (RoomsCreatedNotification) NotificationType() string { return "rooms/created" }

type RoomsRemovedNotification struct {
	ConferenceID string
	RoomIDs      []string
}

func (RoomsRemovedNotification) NotificationType() string { return "rooms/removed" }

// ParticipantsRoomChangedNotification aggregates the transitions that
// succeeded, keyed by participant id.
type ParticipantsRoomChangedNotification struct {
	ConferenceID string
	Participants map[string]RoomChange
}

func (ParticipantsRoomChangedNotification) NotificationType() string {
	return "rooms/participantsRoomChanged"
}
