package rooms

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"conference-lab/conference"
	"conference-lab/domain"
	"conference-lab/errors"
	"conference-lab/mediator"
	"conference-lab/permissions"
	"conference-lab/synchronization"
)

var validate = validator.New()

// SyncObjKindRooms is the conference-scoped synchronized object carrying
// the room list and the participant -> room mapping.
const SyncObjKindRooms = "rooms"

type SynchronizedRoomInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type SynchronizedRooms struct {
	Rooms         []SynchronizedRoomInfo `json:"rooms"`
	DefaultRoomID string                 `json:"defaultRoomId"`
	Participants  map[string]string      `json:"participants"`
}

// Service holds the room coordination handlers.
type Service struct {
	bus         *mediator.Mediator
	repo        Repository
	conferences conference.Repository
	guard       PermissionGuard
	updater     *synchronization.Updater
	log         *slog.Logger
}

func NewService(bus *mediator.Mediator, repo Repository, conferences conference.Repository,
	guard PermissionGuard, updater *synchronization.Updater, log *slog.Logger) *Service {
	return &Service{bus: bus, repo: repo, conferences: conferences, guard: guard, updater: updater, log: log}
}

func (s *Service) Register() {
	s.updater.RegisterProvider(roomsProvider{repo: s.repo})

	mediator.HandleRequest(s.bus, s.handleCreateRooms)
	mediator.HandleRequest(s.bus, s.handleRemoveRooms)
	mediator.HandleRequest(s.bus, s.handleSetParticipantRoom)

	mediator.HandleNotification(s.bus, s.onConferenceOpened)
	mediator.HandleNotification(s.bus, s.onConferenceClosed)
	mediator.HandleNotification(s.bus, s.onParticipantJoined)
	mediator.HandleNotification(s.bus, s.onParticipantLeft)
}

func (s *Service) handleCreateRooms(ctx context.Context, req CreateRoomsRequest) ([]domain.Room, error) {
	if err := s.requirePermission(ctx, req.RequestedBy, permissions.CanCreateAndRemoveRooms.Key,
		"creating rooms is not permitted"); err != nil {
		return nil, err
	}
	if err := s.requireOpen(ctx, req.ConferenceID); err != nil {
		return nil, err
	}
	for _, info := range req.Rooms {
		if err := validate.Struct(info); err != nil {
			return nil, errors.NewValidation("displayName", "%v", err)
		}
	}

	created := lo.Map(req.Rooms, func(info RoomCreationInfo, _ int) domain.Room {
		return domain.Room{
			ConferenceID: req.ConferenceID,
			ID:           uuid.NewString(),
			DisplayName:  info.DisplayName,
		}
	})
	if err := s.repo.CreateRooms(ctx, req.ConferenceID, created); err != nil {
		return nil, err
	}
	s.log.Info("rooms created", "conferenceId", req.ConferenceID, "count", len(created))

	err := s.bus.Publish(ctx, RoomsCreatedNotification{ConferenceID: req.ConferenceID, Rooms: created})
	if err != nil {
		return nil, err
	}
	return created, s.refresh(ctx, req.ConferenceID)
}

func (s *Service) handleRemoveRooms(ctx context.Context, req RemoveRoomsRequest) (mediator.Unit, error) {
	if err := s.requirePermission(ctx, req.RequestedBy, permissions.CanCreateAndRemoveRooms.Key,
		"removing rooms is not permitted"); err != nil {
		return mediator.Unit{}, err
	}
	if err := s.requireOpen(ctx, req.ConferenceID); err != nil {
		return mediator.Unit{}, err
	}
	if lo.Contains(req.RoomIDs, domain.DefaultRoomID) {
		return mediator.Unit{}, errors.NewDomain(errors.CodeCannotRemoveDefaultRoom,
			"the default room cannot be removed")
	}

	// move stranded occupants back to the default room first
	mapping, err := s.repo.FetchParticipantRooms(ctx, req.ConferenceID)
	if err != nil {
		return mediator.Unit{}, err
	}
	var stranded []RoomAssignment
	for participantID, roomID := range mapping {
		if lo.Contains(req.RoomIDs, roomID) {
			stranded = append(stranded, RoomAssignment{ParticipantID: participantID, RoomID: domain.DefaultRoomID})
		}
	}
	if len(stranded) > 0 {
		_, err := s.handleSetParticipantRoom(ctx,
			SetParticipantRoomRequest{ConferenceID: req.ConferenceID, Assignments: stranded})
		if err != nil {
			return mediator.Unit{}, err
		}
	}

	if err := s.repo.RemoveRooms(ctx, req.ConferenceID, req.RoomIDs); err != nil {
		return mediator.Unit{}, err
	}
	err = s.bus.Publish(ctx, RoomsRemovedNotification{ConferenceID: req.ConferenceID, RoomIDs: req.RoomIDs})
	if err != nil {
		return mediator.Unit{}, err
	}
	return mediator.Unit{}, s.refresh(ctx, req.ConferenceID)
}

func (s *Service) handleSetParticipantRoom(ctx context.Context, req SetParticipantRoomRequest) (mediator.Unit, error) {
	if err := s.requirePermission(ctx, req.RequestedBy, permissions.CanSwitchRoom.Key,
		"switching rooms is not permitted"); err != nil {
		return mediator.Unit{}, err
	}
	roomIDs, err := s.roomIDSet(ctx, req.ConferenceID)
	if err != nil {
		return mediator.Unit{}, err
	}

	changes := make(map[string]RoomChange)
	for _, assignment := range req.Assignments {
		if assignment.RoomID != "" {
			if _, ok := roomIDs[assignment.RoomID]; !ok {
				return mediator.Unit{}, errors.NewNotFound("room", assignment.RoomID)
			}
		}

		p := domain.Participant{ConferenceID: req.ConferenceID, ID: assignment.ParticipantID}
		change, err := s.applyTransition(ctx, p, assignment.RoomID)
		if err != nil {
			if errors.IsConcurrency(err) {
				// the assignment lost a race, exclude it and keep going
				s.log.Warn("room assignment lost concurrency race",
					"participantId", assignment.ParticipantID, "roomId", assignment.RoomID)
				continue
			}
			return mediator.Unit{}, err
		}
		if change != nil {
			changes[assignment.ParticipantID] = *change
		}
	}

	if len(changes) == 0 {
		return mediator.Unit{}, nil
	}
	err = s.bus.Publish(ctx, ParticipantsRoomChangedNotification{
		ConferenceID: req.ConferenceID,
		Participants: changes,
	})
	if err != nil {
		return mediator.Unit{}, err
	}
	return mediator.Unit{}, s.refresh(ctx, req.ConferenceID)
}

// applyTransition commits one membership write. A nil change means the
// participant already was where the assignment puts them.
func (s *Service) applyTransition(ctx context.Context, p domain.Participant, roomID string) (*RoomChange, error) {
	previous, err := s.repo.FetchParticipantRoom(ctx, p)
	if err != nil {
		return nil, err
	}
	if previous == roomID {
		return nil, nil
	}
	if err := s.repo.SetParticipantRoom(ctx, p, previous, roomID); err != nil {
		return nil, err
	}

	var change RoomChange
	switch {
	case previous == "":
		change = Joined(roomID)
	case roomID == "":
		change = Left(previous)
	default:
		change = Switched(previous, roomID)
	}
	return &change, nil
}

func (s *Service) onConferenceOpened(ctx context.Context, n conference.ConferenceOpenedNotification) error {
	conf, err := s.conferences.Find(ctx, n.ConferenceID)
	if err != nil {
		return err
	}
	defaultRoom := domain.Room{
		ConferenceID: n.ConferenceID,
		ID:           domain.DefaultRoomID,
		DisplayName:  conf.Configuration.DefaultRoomName,
	}
	if err := s.repo.CreateRooms(ctx, n.ConferenceID, []domain.Room{defaultRoom}); err != nil {
		return err
	}
	return s.bus.Publish(ctx, RoomsCreatedNotification{
		ConferenceID: n.ConferenceID,
		Rooms:        []domain.Room{defaultRoom},
	})
}

func (s *Service) onConferenceClosed(ctx context.Context, n conference.ConferenceClosedNotification) error {
	removedRooms, removedMappings, err := s.repo.RemoveAllOfConference(ctx, n.ConferenceID)
	if err != nil {
		return err
	}

	if len(removedRooms) > 0 {
		roomIDs := lo.Map(removedRooms, func(r domain.Room, _ int) string { return r.ID })
		err := s.bus.Publish(ctx, RoomsRemovedNotification{ConferenceID: n.ConferenceID, RoomIDs: roomIDs})
		if err != nil {
			return err
		}
	}
	if len(removedMappings) > 0 {
		changes := make(map[string]RoomChange, len(removedMappings))
		for participantID, roomID := range removedMappings {
			changes[participantID] = Left(roomID)
		}
		err := s.bus.Publish(ctx, ParticipantsRoomChangedNotification{
			ConferenceID: n.ConferenceID,
			Participants: changes,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onParticipantJoined(ctx context.Context, n conference.ParticipantJoinedNotification) error {
	if err := s.updater.Subscribe(ctx, n.Participant, synchronization.NewObjectID(SyncObjKindRooms)); err != nil {
		return err
	}
	_, err := s.handleSetParticipantRoom(ctx, MoveParticipant(n.Participant, domain.DefaultRoomID))
	return err
}

func (s *Service) onParticipantLeft(ctx context.Context, n conference.ParticipantLeftNotification) error {
	previous, err := s.repo.FetchParticipantRoom(ctx, n.Participant)
	if err != nil {
		return err
	}
	if previous == "" {
		return nil
	}
	if err := s.repo.SetParticipantRoom(ctx, n.Participant, previous, ""); err != nil {
		if errors.IsConcurrency(err) {
			s.log.Warn("room unassignment lost concurrency race", "participantId", n.Participant.ID)
			return nil
		}
		return err
	}
	err = s.bus.Publish(ctx, ParticipantsRoomChangedNotification{
		ConferenceID: n.Participant.ConferenceID,
		Participants: map[string]RoomChange{n.Participant.ID: Left(previous)},
	})
	if err != nil {
		return err
	}
	return s.refresh(ctx, n.Participant.ConferenceID)
}

// requirePermission gates participant-initiated requests. A zero
// requester marks a system-initiated request, which is not gated.
func (s *Service) requirePermission(ctx context.Context, requester domain.Participant,
	permissionKey, denyMessage string) error {
	if requester == (domain.Participant{}) {
		return nil
	}
	allowed, err := s.guard.Can(ctx, requester, permissionKey)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.NewDomain(errors.CodePermissionDenied, denyMessage)
	}
	return nil
}

func (s *Service) requireOpen(ctx context.Context, conferenceID string) error {
	conf, err := s.conferences.Find(ctx, conferenceID)
	if err != nil {
		return err
	}
	if !conf.IsOpen() {
		return errors.NewDomain(errors.CodeConferenceNotOpen, "conference is not open")
	}
	return nil
}

func (s *Service) roomIDSet(ctx context.Context, conferenceID string) (map[string]struct{}, error) {
	all, err := s.repo.FetchRooms(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(all))
	for _, room := range all {
		set[room.ID] = struct{}{}
	}
	return set, nil
}

func (s *Service) refresh(ctx context.Context, conferenceID string) error {
	return s.updater.Refresh(ctx, conferenceID, synchronization.NewObjectID(SyncObjKindRooms))
}

type roomsProvider struct {
	repo Repository
}

func (roomsProvider) Kind() string { return SyncObjKindRooms }

func (rp roomsProvider) FetchValue(ctx context.Context, conferenceID string, _ synchronization.ObjectID) (any, error) {
	all, err := rp.repo.FetchRooms(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	mapping, err := rp.repo.FetchParticipantRooms(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	return SynchronizedRooms{
		Rooms: lo.Map(all, func(r domain.Room, _ int) SynchronizedRoomInfo {
			return SynchronizedRoomInfo{ID: r.ID, DisplayName: r.DisplayName}
		}),
		DefaultRoomID: domain.DefaultRoomID,
		Participants:  mapping,
	}, nil
}
