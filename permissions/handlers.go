package permissions

import (
	"context"
	"log/slog"

	"conference-lab/domain"
	"conference-lab/errors"
	"conference-lab/mediator"
	"conference-lab/synchronization"
)

// SyncObjKindPermissions is the per-participant synchronized object
// carrying a participant's effective permission set.
const SyncObjKindPermissions = "permissions"

// SetTemporaryPermissionRequest grants or updates a temporary override on
// the target participant. Granting is itself permission-checked against
// the setter's own stack.
type SetTemporaryPermissionRequest struct {
	Setter domain.Participant
	Target domain.Participant
	Key    string
	Value  any
}

func (SetTemporaryPermissionRequest) RequestType() string { return "permissions/setTemporary" }

type RemoveTemporaryPermissionRequest struct {
	Setter domain.Participant
	Target domain.Participant
	Key    string
}

func (RemoveTemporaryPermissionRequest) RequestType() string { return "permissions/removeTemporary" }

// FetchPermissionsRequest resolves the flattened effective permission set
// of a participant.
type FetchPermissionsRequest struct {
	Participant domain.Participant
}

func (FetchPermissionsRequest) RequestType() string { return "permissions/fetch" }

// PermissionsUpdatedNotification signals that the effective permissions
// of the listed participants may have changed and dependent views must be
// recomputed.
type PermissionsUpdatedNotification struct {
	Participants []domain.Participant
}

func (PermissionsUpdatedNotification) NotificationType() string { return "permissions/updated" }

// Service holds the permission request handlers and the cleanup of
// temporary overrides.
type Service struct {
	bus       *mediator.Mediator
	provider  *StackProvider
	temporary TemporaryRepository
	updater   *synchronization.Updater
	log       *slog.Logger
}

func NewService(bus *mediator.Mediator, provider *StackProvider, temporary TemporaryRepository,
	updater *synchronization.Updater, log *slog.Logger) *Service {
	return &Service{bus: bus, provider: provider, temporary: temporary, updater: updater, log: log}
}

func (s *Service) Register() {
	s.updater.RegisterProvider(permissionsProvider{provider: s.provider})

	mediator.HandleRequest(s.bus, s.handleSetTemporary)
	mediator.HandleRequest(s.bus, s.handleRemoveTemporary)
	mediator.HandleRequest(s.bus, s.handleFetch)

	mediator.HandleNotification(s.bus, s.onSubscriptionsRemoved)
	mediator.HandleNotification(s.bus, s.onPermissionsUpdated)
}

func (s *Service) handleSetTemporary(ctx context.Context, req SetTemporaryPermissionRequest) (mediator.Unit, error) {
	if err := s.requireGrantCapability(ctx, req.Setter); err != nil {
		return mediator.Unit{}, err
	}

	definition, ok := LookupDefinition(req.Key)
	if !ok {
		return mediator.Unit{}, errors.NewValidation(req.Key, "unknown permission key")
	}
	if !definition.Validate(req.Value) {
		return mediator.Unit{}, errors.NewDomain(errors.CodeInvalidPermissionValue,
			"value does not match the permission's declared type")
	}

	if err := s.temporary.Set(ctx, req.Target, req.Key, req.Value); err != nil {
		return mediator.Unit{}, err
	}
	s.log.Debug("temporary permission set", "participantId", req.Target.ID, "key", req.Key)
	return mediator.Unit{}, s.bus.Publish(ctx,
		PermissionsUpdatedNotification{Participants: []domain.Participant{req.Target}})
}

func (s *Service) handleRemoveTemporary(ctx context.Context, req RemoveTemporaryPermissionRequest) (mediator.Unit, error) {
	if err := s.requireGrantCapability(ctx, req.Setter); err != nil {
		return mediator.Unit{}, err
	}

	removed, err := s.temporary.Remove(ctx, req.Target, req.Key)
	if err != nil {
		return mediator.Unit{}, err
	}
	if !removed {
		return mediator.Unit{}, nil
	}
	return mediator.Unit{}, s.bus.Publish(ctx,
		PermissionsUpdatedNotification{Participants: []domain.Participant{req.Target}})
}

func (s *Service) handleFetch(ctx context.Context, req FetchPermissionsRequest) (map[string]any, error) {
	stack, err := s.provider.FetchForParticipant(ctx, req.Participant)
	if err != nil {
		return nil, err
	}
	return stack.Flatten(), nil
}

// requireGrantCapability is a recursive use of the engine: setting a
// temporary permission requires the grant capability on the setter's own
// stack.
func (s *Service) requireGrantCapability(ctx context.Context, setter domain.Participant) error {
	stack, err := s.provider.FetchForParticipant(ctx, setter)
	if err != nil {
		return err
	}
	allowed, err := GetPermissionValue(stack, CanGrantTemporaryPermission)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.NewDomain(errors.CodePermissionDenied, "granting temporary permissions is not permitted")
	}
	return nil
}

// onSubscriptionsRemoved drops the temporary overrides of a participant
// whose connection ended.
func (s *Service) onSubscriptionsRemoved(ctx context.Context, n synchronization.SubscriptionsRemovedNotification) error {
	if err := s.temporary.RemoveAll(ctx, n.Participant); err != nil {
		return err
	}
	return s.bus.Publish(ctx,
		PermissionsUpdatedNotification{Participants: []domain.Participant{n.Participant}})
}

// onPermissionsUpdated recomputes each affected participant's visible
// permission object.
func (s *Service) onPermissionsUpdated(ctx context.Context, n PermissionsUpdatedNotification) error {
	for _, p := range n.Participants {
		id := synchronization.NewScopedObjectID(SyncObjKindPermissions, p.ID)
		if err := s.updater.Refresh(ctx, p.ConferenceID, id); err != nil {
			return err
		}
	}
	return nil
}

type permissionsProvider struct {
	provider *StackProvider
}

func (permissionsProvider) Kind() string { return SyncObjKindPermissions }

func (pp permissionsProvider) FetchValue(ctx context.Context, conferenceID string, id synchronization.ObjectID) (any, error) {
	p := domain.Participant{ConferenceID: conferenceID, ID: id.Scope}
	stack, err := pp.provider.FetchForParticipant(ctx, p)
	if err != nil {
		return nil, err
	}
	return stack.Flatten(), nil
}
