package conference

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"conference-lab/domain"
	"conference-lab/errors"
	"conference-lab/mediator"
	"conference-lab/permissions"
	"conference-lab/synchronization"
)

var validate = validator.New()

// SyncObjKindConferenceInfo is the conference-scoped synchronized object
// every joined participant subscribes to.
const SyncObjKindConferenceInfo = "conferenceInfo"

// SynchronizedConferenceInfo is the broadcast view of the conference
// lifecycle.
type SynchronizedConferenceInfo struct {
	IsOpen     bool     `json:"isOpen"`
	Moderators []string `json:"moderators"`
}

// Service holds the conference control handlers.
type Service struct {
	bus         *mediator.Mediator
	conferences Repository
	joined      JoinedParticipantsRepository
	messaging   MessagingGateway
	tokens      TokenFactory
	guard       PermissionGuard
	updater     *synchronization.Updater
	log         *slog.Logger
}

func NewService(bus *mediator.Mediator, conferences Repository, joined JoinedParticipantsRepository,
	messaging MessagingGateway, tokens TokenFactory, guard PermissionGuard,
	updater *synchronization.Updater, log *slog.Logger) *Service {
	return &Service{
		bus:         bus,
		conferences: conferences,
		joined:      joined,
		messaging:   messaging,
		tokens:      tokens,
		guard:       guard,
		updater:     updater,
		log:         log,
	}
}

// Register wires the service into the bus and the sync engine.
func (s *Service) Register() {
	s.updater.RegisterProvider(infoProvider{conferences: s.conferences})

	mediator.HandleRequest(s.bus, s.handleCreate)
	mediator.HandleRequest(s.bus, s.handleOpen)
	mediator.HandleRequest(s.bus, s.handleClose)
	mediator.HandleRequest(s.bus, s.handleJoin)
	mediator.HandleRequest(s.bus, s.handleLeave)
	mediator.HandleRequest(s.bus, s.handleFetchEquipmentToken)

	mediator.HandleNotification(s.bus, s.onParticipantJoined)
	mediator.HandleNotification(s.bus, s.onParticipantLeft)
}

func (s *Service) handleCreate(ctx context.Context, req CreateConferenceRequest) (string, error) {
	if err := validate.Struct(req.Configuration); err != nil {
		return "", errors.NewValidation("configuration", "%v", err)
	}
	cfg := req.Configuration
	for _, values := range cfg.Permissions {
		if err := permissions.ValidateLayerValues(values); err != nil {
			return "", err
		}
	}
	if cfg.DefaultRoomName == "" {
		cfg.DefaultRoomName = "Main"
	}

	conf := domain.Conference{
		ID:            uuid.NewString(),
		State:         domain.ConferenceClosed,
		Configuration: cfg,
	}
	if err := s.conferences.Create(ctx, conf); err != nil {
		return "", err
	}
	s.log.Info("conference created", "conferenceId", conf.ID)
	return conf.ID, nil
}

func (s *Service) handleOpen(ctx context.Context, req OpenConferenceRequest) (mediator.Unit, error) {
	conf, err := s.conferences.Find(ctx, req.ConferenceID)
	if err != nil {
		return mediator.Unit{}, err
	}
	if conf.IsOpen() {
		return mediator.Unit{}, errors.NewDomain(errors.CodeConferenceAlreadyOpen, "conference is already open")
	}

	conf.State = domain.ConferenceOpen
	if _, err := s.conferences.Update(ctx, conf, domain.ConferenceClosed); err != nil {
		return mediator.Unit{}, err
	}
	s.log.Info("conference opened", "conferenceId", conf.ID)

	if err := s.bus.Publish(ctx, ConferenceOpenedNotification{ConferenceID: conf.ID}); err != nil {
		return mediator.Unit{}, err
	}
	return mediator.Unit{}, s.refreshInfo(ctx, conf.ID)
}

func (s *Service) handleClose(ctx context.Context, req CloseConferenceRequest) (mediator.Unit, error) {
	if req.ClosedBy != (domain.Participant{}) {
		allowed, err := s.guard.Can(ctx, req.ClosedBy, permissions.CanCloseConference.Key)
		if err != nil {
			return mediator.Unit{}, err
		}
		if !allowed {
			return mediator.Unit{}, errors.NewDomain(errors.CodePermissionDenied, "closing the conference is not permitted")
		}
	}

	conf, err := s.conferences.Find(ctx, req.ConferenceID)
	if err != nil {
		return mediator.Unit{}, err
	}
	if !conf.IsOpen() {
		return mediator.Unit{}, errors.NewDomain(errors.CodeConferenceNotOpen, "conference is not open")
	}

	conf.State = domain.ConferenceClosed
	if _, err := s.conferences.Update(ctx, conf, domain.ConferenceOpen); err != nil {
		return mediator.Unit{}, err
	}
	s.log.Info("conference closed", "conferenceId", conf.ID)

	if err := s.bus.Publish(ctx, ConferenceClosedNotification{ConferenceID: conf.ID}); err != nil {
		return mediator.Unit{}, err
	}
	if err := s.refreshInfo(ctx, conf.ID); err != nil {
		return mediator.Unit{}, err
	}

	// every remaining session leaves with the conference
	sessions, err := s.joined.RemoveAllOfConference(ctx, conf.ID)
	if err != nil {
		return mediator.Unit{}, err
	}
	for _, session := range sessions {
		p := domain.Participant{ConferenceID: session.ConferenceID, ID: session.ParticipantID}
		err := s.bus.Publish(ctx, ParticipantLeftNotification{Participant: p, ConnectionID: session.ConnectionID})
		if err != nil {
			return mediator.Unit{}, err
		}
	}
	return mediator.Unit{}, s.updater.PurgeConference(ctx, conf.ID)
}

func (s *Service) handleJoin(ctx context.Context, req JoinConferenceRequest) (mediator.Unit, error) {
	if err := validate.Struct(req.Meta); err != nil {
		return mediator.Unit{}, errors.NewValidation("meta", "%v", err)
	}

	conf, err := s.conferences.Find(ctx, req.Participant.ConferenceID)
	if err != nil {
		return mediator.Unit{}, err
	}
	if !conf.IsOpen() {
		return mediator.Unit{}, errors.NewDomain(errors.CodeConferenceNotOpen, "conference is not open")
	}

	s.log.Debug("participant joining", "participantId", req.Participant.ID,
		"conferenceId", req.Participant.ConferenceID)

	previous, err := s.joined.AddParticipant(ctx, req.Participant, req.ConnectionID)
	if err != nil {
		return mediator.Unit{}, err
	}
	if previous != nil {
		s.log.Debug("participant was already joined, kicking previous connection",
			"participantId", req.Participant.ID, "connectionId", previous.ConnectionID)
		err := s.bus.Publish(ctx, ParticipantKickedNotification{
			Participant:  domain.Participant{ConferenceID: previous.ConferenceID, ID: previous.ParticipantID},
			ConnectionID: previous.ConnectionID,
			Reason:       KickedNewSessionConnected,
		})
		if err != nil {
			return mediator.Unit{}, err
		}
	}

	release, err := s.joined.LockParticipantJoin(ctx, req.Participant)
	if err != nil {
		return mediator.Unit{}, err
	}
	defer release()

	joined, err := s.joined.IsParticipantJoined(ctx, req.Participant, req.ConnectionID)
	if err != nil {
		return mediator.Unit{}, err
	}
	if !joined {
		return mediator.Unit{}, errors.NewConcurrency("connection %s was replaced during join", req.ConnectionID)
	}

	if err := s.bus.Publish(ctx, ParticipantInitializedNotification{Participant: req.Participant}); err != nil {
		return mediator.Unit{}, err
	}

	// messaging must be enabled before the joined notification goes out:
	// its handlers may already push state to this participant
	if err := s.messaging.EnableMessaging(ctx, req.Participant, req.ConnectionID); err != nil {
		return mediator.Unit{}, err
	}

	if err := s.bus.Publish(ctx, ParticipantJoinedNotification{Participant: req.Participant, Meta: req.Meta}); err != nil {
		return mediator.Unit{}, err
	}
	return mediator.Unit{}, nil
}

func (s *Service) handleLeave(ctx context.Context, req LeaveConferenceRequest) (mediator.Unit, error) {
	removed, err := s.joined.RemoveParticipant(ctx, req.Participant, req.ConnectionID)
	if err != nil {
		return mediator.Unit{}, err
	}
	if !removed {
		// a newer connection took over, nothing to do for this one
		return mediator.Unit{}, nil
	}
	s.log.Debug("participant left", "participantId", req.Participant.ID,
		"conferenceId", req.Participant.ConferenceID)
	return mediator.Unit{}, s.bus.Publish(ctx,
		ParticipantLeftNotification{Participant: req.Participant, ConnectionID: req.ConnectionID})
}

func (s *Service) handleFetchEquipmentToken(ctx context.Context, req FetchEquipmentTokenRequest) (string, error) {
	if _, err := s.conferences.Find(ctx, req.Participant.ConferenceID); err != nil {
		return "", err
	}
	return s.tokens.IssueEquipmentToken(req.Participant)
}

func (s *Service) onParticipantJoined(ctx context.Context, n ParticipantJoinedNotification) error {
	if err := s.updater.Subscribe(ctx, n.Participant, synchronization.NewObjectID(SyncObjKindConferenceInfo)); err != nil {
		return err
	}
	return s.updater.Subscribe(ctx, n.Participant,
		synchronization.NewScopedObjectID(permissions.SyncObjKindPermissions, n.Participant.ID))
}

func (s *Service) onParticipantLeft(ctx context.Context, n ParticipantLeftNotification) error {
	return s.updater.RemoveAllSubscriptions(ctx, n.Participant)
}

func (s *Service) refreshInfo(ctx context.Context, conferenceID string) error {
	return s.updater.Refresh(ctx, conferenceID, synchronization.NewObjectID(SyncObjKindConferenceInfo))
}

type infoProvider struct {
	conferences Repository
}

func (infoProvider) Kind() string { return SyncObjKindConferenceInfo }

func (p infoProvider) FetchValue(ctx context.Context, conferenceID string, _ synchronization.ObjectID) (any, error) {
	conf, err := p.conferences.Find(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	return SynchronizedConferenceInfo{
		IsOpen:     conf.IsOpen(),
		Moderators: conf.Configuration.Moderators,
	}, nil
}
