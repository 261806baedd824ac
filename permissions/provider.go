package permissions

import (
	"context"

	"github.com/samber/lo"

	"conference-lab/domain"
)

// ConferenceSource exposes the conference record a stack is derived from.
// Satisfied by the conference repository.
type ConferenceSource interface {
	Find(ctx context.Context, conferenceID string) (domain.Conference, error)
}

// RoomSource exposes the room a participant is currently assigned to,
// empty when unassigned. Satisfied by the room repository.
type RoomSource interface {
	FetchParticipantRoom(ctx context.Context, p domain.Participant) (string, error)
}

// TemporaryRepository stores per-participant permission overrides. They
// are time-unbounded but revocable, and dropped when the participant's
// connection ends.
type TemporaryRepository interface {
	Set(ctx context.Context, p domain.Participant, key string, value any) error
	Remove(ctx context.Context, p domain.Participant, key string) (bool, error)
	RemoveAll(ctx context.Context, p domain.Participant) error
	FetchAll(ctx context.Context, p domain.Participant) (map[string]any, error)
}

// StackProvider assembles the ordered permission layers applicable to a
// participant: conference defaults, the moderator layer if applicable,
// the layer of their current room, and temporary overrides.
type StackProvider struct {
	conferences ConferenceSource
	rooms       RoomSource
	temporary   TemporaryRepository
}

func NewStackProvider(conferences ConferenceSource, rooms RoomSource, temporary TemporaryRepository) *StackProvider {
	return &StackProvider{conferences: conferences, rooms: rooms, temporary: temporary}
}

func (sp *StackProvider) FetchForParticipant(ctx context.Context, p domain.Participant) (*Stack, error) {
	conf, err := sp.conferences.Find(ctx, p.ConferenceID)
	if err != nil {
		return nil, err
	}

	var layers []Layer
	if values, ok := conf.Configuration.Permissions[LayerConference]; ok {
		layers = append(layers, NewLayer(LayerConference, values))
	}
	if lo.Contains(conf.Configuration.Moderators, p.ID) {
		if values, ok := conf.Configuration.Permissions[LayerModerator]; ok {
			layers = append(layers, NewLayer(LayerModerator, values))
		}
	}

	roomID, err := sp.rooms.FetchParticipantRoom(ctx, p)
	if err != nil {
		return nil, err
	}
	if roomID != "" {
		if values, ok := conf.Configuration.Permissions[LayerRoom+"/"+roomID]; ok {
			layers = append(layers, NewLayer(LayerRoom, values))
		}
	}

	temporary, err := sp.temporary.FetchAll(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(temporary) > 0 {
		layers = append(layers, NewLayer(LayerTemporary, temporary))
	}

	return NewStack(layers), nil
}

// Guard adapts the provider to boolean permission checks. Unknown keys
// and absent values deny.
type Guard struct {
	provider *StackProvider
}

func NewGuard(provider *StackProvider) *Guard {
	return &Guard{provider: provider}
}

func (g *Guard) Can(ctx context.Context, p domain.Participant, permissionKey string) (bool, error) {
	stack, err := g.provider.FetchForParticipant(ctx, p)
	if err != nil {
		return false, err
	}
	return GetPermissionValue(stack, NewDescriptor[bool](permissionKey))
}
