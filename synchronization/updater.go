package synchronization

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wI2L/jsondiff"

	"conference-lab/domain"
	"conference-lab/mediator"
)

// Subscriber is one participant subscribed to an object, plus whether it
// has already received a value. An unsynced subscriber must get a full
// value, never a diff.
type Subscriber struct {
	Participant domain.Participant
	Synced      bool
}

// SubscriptionRepository tracks which participants receive which objects.
type SubscriptionRepository interface {
	// Add subscribes the participant and reports whether the
	// subscription is new.
	Add(ctx context.Context, p domain.Participant, id ObjectID) (bool, error)
	MarkSynced(ctx context.Context, p domain.Participant, id ObjectID) error
	Remove(ctx context.Context, p domain.Participant, id ObjectID) error
	// RemoveAll drops every subscription of the participant and returns
	// the removed object ids.
	RemoveAll(ctx context.Context, p domain.Participant) ([]ObjectID, error)
	SubscribersOf(ctx context.Context, conferenceID string, id ObjectID) ([]Subscriber, error)
}

// ValueRepository stores the last materialized value of each object.
type ValueRepository interface {
	// Swap atomically replaces the stored value and returns the previous
	// one, nil if the object had never been materialized.
	Swap(ctx context.Context, conferenceID string, id ObjectID, next any) (any, error)
	Fetch(ctx context.Context, conferenceID string, id ObjectID) (any, error)
	DeleteAll(ctx context.Context, conferenceID string) error
}

// Gateway is the external transport that pushes payloads to clients. The
// payload is either a full value or an RFC 6902 patch, tagged by method.
type Gateway interface {
	PushFullState(ctx context.Context, id ObjectID, to []domain.Participant, value any) error
	PushPatch(ctx context.Context, id ObjectID, to []domain.Participant, patch jsondiff.Patch) error
}

// Provider materializes the current value of an object kind on demand,
// used when a subscriber arrives before the object was ever written.
type Provider interface {
	Kind() string
	FetchValue(ctx context.Context, conferenceID string, id ObjectID) (any, error)
}

// SubscriptionsRemovedNotification enumerates exactly which object ids a
// departing participant was dropped from, so dependent cleanup can react.
type SubscriptionsRemovedNotification struct {
	Participant domain.Participant
	ObjectIDs   []ObjectID
}

func (SubscriptionsRemovedNotification) NotificationType() string {
	return "synchronization/subscriptionsRemoved"
}

// Updater is the synchronized object engine.
type Updater struct {
	subscriptions SubscriptionRepository
	values        ValueRepository
	gateway       Gateway
	providers     map[string]Provider
	bus           *mediator.Mediator
	log           *slog.Logger
}

func NewUpdater(subscriptions SubscriptionRepository, values ValueRepository, gateway Gateway,
	bus *mediator.Mediator, log *slog.Logger) *Updater {
	return &Updater{
		subscriptions: subscriptions,
		values:        values,
		gateway:       gateway,
		providers:     make(map[string]Provider),
		bus:           bus,
		log:           log,
	}
}

func (u *Updater) RegisterProvider(p Provider) {
	u.providers[p.Kind()] = p
}

// Subscribe adds the participant to the object's subscriber set and
// pushes the full current value. Re-subscribing is a no-op.
func (u *Updater) Subscribe(ctx context.Context, p domain.Participant, id ObjectID) error {
	added, err := u.subscriptions.Add(ctx, p, id)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	value, err := u.currentValue(ctx, p.ConferenceID, id)
	if err != nil {
		return err
	}
	if err := u.gateway.PushFullState(ctx, id, []domain.Participant{p}, value); err != nil {
		return err
	}
	return u.subscriptions.MarkSynced(ctx, p, id)
}

func (u *Updater) Unsubscribe(ctx context.Context, p domain.Participant, id ObjectID) error {
	return u.subscriptions.Remove(ctx, p, id)
}

// Update swaps the stored value and delivers the change: a structural
// diff to subscribers holding the previous value, the full value to
// subscribers that raced their subscription against this update. An empty
// diff is elided entirely for synced subscribers.
func (u *Updater) Update(ctx context.Context, conferenceID string, id ObjectID, value any) error {
	prev, err := u.values.Swap(ctx, conferenceID, id, value)
	if err != nil {
		return err
	}

	subscribers, err := u.subscriptions.SubscribersOf(ctx, conferenceID, id)
	if err != nil {
		return err
	}
	if len(subscribers) == 0 {
		return nil
	}

	var synced, unsynced []domain.Participant
	for _, s := range subscribers {
		if s.Synced {
			synced = append(synced, s.Participant)
		} else {
			unsynced = append(unsynced, s.Participant)
		}
	}

	if len(synced) > 0 {
		if prev == nil {
			if err := u.gateway.PushFullState(ctx, id, synced, value); err != nil {
				return err
			}
		} else {
			patch, err := jsondiff.Compare(prev, value)
			if err != nil {
				return fmt.Errorf("diffing %s: %w", id, err)
			}
			if len(patch) > 0 {
				if err := u.gateway.PushPatch(ctx, id, synced, patch); err != nil {
					return err
				}
			} else {
				u.log.Debug("synchronized object unchanged, push elided", "objectId", id.String())
			}
		}
	}

	for _, p := range unsynced {
		if err := u.gateway.PushFullState(ctx, id, []domain.Participant{p}, value); err != nil {
			return err
		}
		if err := u.subscriptions.MarkSynced(ctx, p, id); err != nil {
			return err
		}
	}
	return nil
}

// Refresh recomputes the object's value through its provider and applies
// it via Update.
func (u *Updater) Refresh(ctx context.Context, conferenceID string, id ObjectID) error {
	provider, ok := u.providers[id.Kind]
	if !ok {
		return fmt.Errorf("no provider registered for object kind %q", id.Kind)
	}
	value, err := provider.FetchValue(ctx, conferenceID, id)
	if err != nil {
		return err
	}
	return u.Update(ctx, conferenceID, id, value)
}

// RemoveAllSubscriptions drops every subscription of the participant in
// one operation and publishes which object ids were removed.
func (u *Updater) RemoveAllSubscriptions(ctx context.Context, p domain.Participant) error {
	removed, err := u.subscriptions.RemoveAll(ctx, p)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	return u.bus.Publish(ctx, SubscriptionsRemovedNotification{Participant: p, ObjectIDs: removed})
}

// PurgeConference deletes every materialized object value of a closed
// conference. Subscriptions are expected to be gone already, removed per
// participant on leave.
func (u *Updater) PurgeConference(ctx context.Context, conferenceID string) error {
	return u.values.DeleteAll(ctx, conferenceID)
}

func (u *Updater) currentValue(ctx context.Context, conferenceID string, id ObjectID) (any, error) {
	value, err := u.values.Fetch(ctx, conferenceID, id)
	if err != nil {
		return nil, err
	}
	if value != nil {
		return value, nil
	}
	provider, ok := u.providers[id.Kind]
	if !ok {
		return nil, fmt.Errorf("object %s has no value and no provider for its kind", id)
	}
	value, err = provider.FetchValue(ctx, conferenceID, id)
	if err != nil {
		return nil, err
	}
	if _, err := u.values.Swap(ctx, conferenceID, id, value); err != nil {
		return nil, err
	}
	return value, nil
}
