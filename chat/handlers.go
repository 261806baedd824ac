package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"conference-lab/conference"
	"conference-lab/domain"
	"conference-lab/errors"
	"conference-lab/mediator"
	"conference-lab/permissions"
	"conference-lab/rooms"
	"conference-lab/synchronization"
)

var validate = validator.New()

// SyncObjKindChat is the room-scoped synchronized object carrying the
// channel's typing participant set.
const SyncObjKindChat = "chat"

type SynchronizedChat struct {
	TypingParticipants []string `json:"typingParticipants"`
}

const fetchPageSize = 50

// Service holds the chat handlers.
type Service struct {
	bus           *mediator.Mediator
	messages      MessageRepository
	typing        TypingRepository
	stacks        *permissions.StackProvider
	typingTimer   *TypingTimer
	updater       *synchronization.Updater
	typingTimeout time.Duration
	log           *slog.Logger
}

func NewService(bus *mediator.Mediator, messages MessageRepository, typing TypingRepository,
	stacks *permissions.StackProvider, typingTimer *TypingTimer, updater *synchronization.Updater,
	typingTimeout time.Duration, log *slog.Logger) *Service {
	return &Service{
		bus:           bus,
		messages:      messages,
		typing:        typing,
		stacks:        stacks,
		typingTimer:   typingTimer,
		updater:       updater,
		typingTimeout: typingTimeout,
		log:           log,
	}
}

func (s *Service) Register() {
	s.updater.RegisterProvider(chatProvider{typing: s.typing})

	mediator.HandleRequest(s.bus, s.handleSendMessage)
	mediator.HandleRequest(s.bus, s.handleFetchMessages)
	mediator.HandleRequest(s.bus, s.handleSetTyping)

	mediator.HandleNotification(s.bus, s.onParticipantsRoomChanged)
	mediator.HandleNotification(s.bus, s.onSubscriptionsRemoved)
	mediator.HandleNotification(s.bus, s.onConferenceClosed)
}

func (s *Service) handleSendMessage(ctx context.Context, req SendChatMessageRequest) (StoredMessage, error) {
	if err := validate.Struct(req); err != nil {
		return StoredMessage{}, errors.NewValidation("message", "%v", err)
	}

	stack, err := s.stacks.FetchForParticipant(ctx, req.Sender)
	if err != nil {
		return StoredMessage{}, err
	}
	allowed, err := permissions.GetPermissionValue(stack, permissions.CanSendChatMessage)
	if err != nil {
		return StoredMessage{}, err
	}
	if !allowed {
		return StoredMessage{}, errors.NewDomain(errors.CodePermissionDenied, "sending chat messages is not permitted")
	}
	maxLength, err := permissions.GetPermissionValue(stack, permissions.ChatMaxMessageLength)
	if err != nil {
		return StoredMessage{}, err
	}
	if len(req.Content) > int(maxLength) {
		return StoredMessage{}, errors.NewValidation("content", "message exceeds the maximum length of %d", int(maxLength))
	}

	message := StoredMessage{
		ID:           uuid.New(),
		ConferenceID: req.Sender.ConferenceID,
		Channel:      req.Channel,
		SenderID:     req.Sender.ID,
		Content:      req.Content,
		SentAt:       time.Now().UTC(),
	}
	if err := s.messages.StoreMessage(ctx, message); err != nil {
		return StoredMessage{}, err
	}

	// sending a message ends the sender's typing indicator
	if err := s.clearTyping(ctx, req.Sender, req.Channel); err != nil {
		return StoredMessage{}, err
	}

	if err := s.bus.Publish(ctx, ChatMessageReceivedNotification{Message: message}); err != nil {
		return StoredMessage{}, err
	}
	return message, nil
}

func (s *Service) handleFetchMessages(ctx context.Context, req FetchMessagesRequest) (MessagePage, error) {
	messages, next, err := s.messages.FetchMessages(ctx, req.ConferenceID, req.Channel, req.Cursor, fetchPageSize)
	if err != nil {
		return MessagePage{}, err
	}
	return MessagePage{Messages: messages, NextCursor: next}, nil
}

func (s *Service) handleSetTyping(ctx context.Context, req SetParticipantTypingRequest) (mediator.Unit, error) {
	if !req.IsTyping {
		return mediator.Unit{}, s.clearTyping(ctx, req.Participant, req.Channel)
	}

	stack, err := s.stacks.FetchForParticipant(ctx, req.Participant)
	if err != nil {
		return mediator.Unit{}, err
	}
	allowed, err := permissions.GetPermissionValue(stack, permissions.CanUseTypingIndicator)
	if err != nil {
		return mediator.Unit{}, err
	}
	if !allowed {
		return mediator.Unit{}, errors.NewDomain(errors.CodePermissionDenied,
			"the typing indicator is not permitted")
	}

	added, err := s.typing.Add(ctx, req.Participant, req.Channel)
	if err != nil {
		return mediator.Unit{}, err
	}
	s.typingTimer.RemoveTypingAfter(req.Participant, req.Channel, s.typingTimeout)
	if !added {
		return mediator.Unit{}, nil
	}
	return mediator.Unit{}, s.refreshChannel(ctx, req.Participant.ConferenceID, req.Channel)
}

func (s *Service) onParticipantsRoomChanged(ctx context.Context, n rooms.ParticipantsRoomChangedNotification) error {
	for participantID, change := range n.Participants {
		p := domain.Participant{ConferenceID: n.ConferenceID, ID: participantID}

		if change.PreviousRoomID != "" {
			prev := synchronization.NewScopedObjectID(SyncObjKindChat, change.PreviousRoomID)
			if err := s.updater.Unsubscribe(ctx, p, prev); err != nil {
				return err
			}
			if err := s.clearTyping(ctx, p, change.PreviousRoomID); err != nil {
				return err
			}
		}
		if change.NewRoomID != "" {
			next := synchronization.NewScopedObjectID(SyncObjKindChat, change.NewRoomID)
			if err := s.updater.Subscribe(ctx, p, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) onSubscriptionsRemoved(ctx context.Context, n synchronization.SubscriptionsRemovedNotification) error {
	s.typingTimer.CancelAllOfParticipant(n.Participant)
	for _, id := range n.ObjectIDs {
		if id.Kind != SyncObjKindChat {
			continue
		}
		removed, err := s.typing.Remove(ctx, n.Participant, id.Scope)
		if err != nil {
			return err
		}
		if removed {
			if err := s.refreshChannel(ctx, n.Participant.ConferenceID, id.Scope); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) onConferenceClosed(_ context.Context, n conference.ConferenceClosedNotification) error {
	s.typingTimer.CancelAllOfConference(n.ConferenceID)
	return nil
}

// clearTyping cancels the timer and, if the participant was typing,
// removes the entry and refreshes the channel object.
func (s *Service) clearTyping(ctx context.Context, p domain.Participant, channel string) error {
	s.typingTimer.CancelTimer(p, channel)
	removed, err := s.typing.Remove(ctx, p, channel)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	return s.refreshChannel(ctx, p.ConferenceID, channel)
}

func (s *Service) refreshChannel(ctx context.Context, conferenceID, channel string) error {
	return s.updater.Refresh(ctx, conferenceID, synchronization.NewScopedObjectID(SyncObjKindChat, channel))
}

type chatProvider struct {
	typing TypingRepository
}

func (chatProvider) Kind() string { return SyncObjKindChat }

func (cp chatProvider) FetchValue(ctx context.Context, conferenceID string, id synchronization.ObjectID) (any, error) {
	typing, err := cp.typing.FetchTyping(ctx, conferenceID, id.Scope)
	if err != nil {
		return nil, err
	}
	return SynchronizedChat{TypingParticipants: typing}, nil
}
