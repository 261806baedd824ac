package conference

import "conference-lab/domain"

// Requests

type CreateConferenceRequest struct {
	Configuration domain.ConferenceConfiguration
}

func (CreateConferenceRequest) RequestType() string { return "conference/create" }

type OpenConferenceRequest struct {
	ConferenceID string
}

func (OpenConferenceRequest) RequestType() string { return "conference/open" }

type CloseConferenceRequest struct {
	ConferenceID string
	// ClosedBy is the requesting participant; zero value skips the
	// permission check (system-initiated close).
	ClosedBy domain.Participant
}

func (CloseConferenceRequest) RequestType() string { return "conference/close" }

type JoinConferenceRequest struct {
	Participant  domain.Participant
	ConnectionID string
	Meta         domain.ParticipantMetadata
}

func (JoinConferenceRequest) RequestType() string { return "conference/join" }

type LeaveConferenceRequest struct {
	Participant  domain.Participant
	ConnectionID string
}

func (LeaveConferenceRequest) RequestType() string { return "conference/leave" }

type FetchEquipmentTokenRequest struct {
	Participant domain.Participant
}

func (FetchEquipmentTokenRequest) RequestType() string { return "conference/fetchEquipmentToken" }

// Notifications

type ConferenceOpenedNotification struct {
	ConferenceID string
}

func (ConferenceOpenedNotification) NotificationType() string { return "conference/opened" }

type ConferenceClosedNotification struct {
	ConferenceID string
}

func (ConferenceClosedNotification) NotificationType() string { return "conference/closed" }

type ParticipantInitializedNotification struct {
	Participant domain.Participant
}

func (ParticipantInitializedNotification) NotificationType() string {
	return "conference/participantInitialized"
}

type ParticipantJoinedNotification struct {
	Participant domain.Participant
	Meta        domain.ParticipantMetadata
}

func (ParticipantJoinedNotification) NotificationType() string {
	return "conference/participantJoined"
}

type ParticipantLeftNotification struct {
	Participant  domain.Participant
	ConnectionID string
}

func (ParticipantLeftNotification) NotificationType() string {
	return "conference/participantLeft"
}

// KickedReason explains why a connection was kicked.
type KickedReason string

const KickedNewSessionConnected KickedReason = "newSessionConnected"

type ParticipantKickedNotification struct {
	Participant  domain.Participant
	ConnectionID string
	Reason       KickedReason
}

func (ParticipantKickedNotification) NotificationType() string {
	return "conference/participantKicked"
}
