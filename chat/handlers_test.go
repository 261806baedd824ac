package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wI2L/jsondiff"

	"conference-lab/domain"
	"conference-lab/errors"
	"conference-lab/mediator"
	"conference-lab/permissions"
	"conference-lab/rooms"
	"conference-lab/synchronization"
	"conference-lab/timers"
)

type memoryMessageRepository struct {
	mu       sync.Mutex
	messages []StoredMessage
}

func (r *memoryMessageRepository) StoreMessage(_ context.Context, m StoredMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *memoryMessageRepository) FetchMessages(_ context.Context, conferenceID, channel string,
	_ *string, limit int) ([]StoredMessage, *string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page []StoredMessage
	for i := len(r.messages) - 1; i >= 0 && len(page) < limit; i-- {
		m := r.messages[i]
		if m.ConferenceID == conferenceID && m.Channel == channel {
			page = append(page, m)
		}
	}
	return page, nil, nil
}

type typingKey struct {
	p       domain.Participant
	channel string
}

type memoryTypingRepository struct {
	mu     sync.Mutex
	typing map[typingKey]bool
}

func newMemoryTypingRepository() *memoryTypingRepository {
	return &memoryTypingRepository{typing: make(map[typingKey]bool)}
}

func (r *memoryTypingRepository) Add(_ context.Context, p domain.Participant, channel string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := typingKey{p: p, channel: channel}
	if r.typing[k] {
		return false, nil
	}
	r.typing[k] = true
	return true, nil
}

func (r *memoryTypingRepository) Remove(_ context.Context, p domain.Participant, channel string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := typingKey{p: p, channel: channel}
	if !r.typing[k] {
		return false, nil
	}
	delete(r.typing, k)
	return true, nil
}

func (r *memoryTypingRepository) FetchTyping(_ context.Context, conferenceID, channel string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var participants []string
	for k := range r.typing {
		if k.p.ConferenceID == conferenceID && k.channel == channel {
			participants = append(participants, k.p.ID)
		}
	}
	sort.Strings(participants)
	return participants, nil
}

func (r *memoryTypingRepository) isTyping(p domain.Participant, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typing[typingKey{p: p, channel: channel}]
}

type fakeConferenceSource struct {
	conf domain.Conference
}

func (f fakeConferenceSource) Find(_ context.Context, _ string) (domain.Conference, error) {
	return f.conf, nil
}

type fakeRoomSource struct{}

func (fakeRoomSource) FetchParticipantRoom(_ context.Context, _ domain.Participant) (string, error) {
	return "", nil
}

type noopTemporaryRepository struct{}

func (noopTemporaryRepository) Set(_ context.Context, _ domain.Participant, _ string, _ any) error {
	return nil
}
func (noopTemporaryRepository) Remove(_ context.Context, _ domain.Participant, _ string) (bool, error) {
	return false, nil
}
func (noopTemporaryRepository) RemoveAll(_ context.Context, _ domain.Participant) error { return nil }
func (noopTemporaryRepository) FetchAll(_ context.Context, _ domain.Participant) (map[string]any, error) {
	return nil, nil
}

type recordingSubscriptions struct {
	mu     sync.Mutex
	active map[typingKey]string
}

func newRecordingSubscriptions() *recordingSubscriptions {
	return &recordingSubscriptions{active: make(map[typingKey]string)}
}

func (r *recordingSubscriptions) key(p domain.Participant, id synchronization.ObjectID) typingKey {
	return typingKey{p: p, channel: id.String()}
}

func (r *recordingSubscriptions) Add(_ context.Context, p domain.Participant, id synchronization.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(p, id)
	if _, ok := r.active[k]; ok {
		return false, nil
	}
	r.active[k] = id.String()
	return true, nil
}

func (r *recordingSubscriptions) MarkSynced(_ context.Context, _ domain.Participant, _ synchronization.ObjectID) error {
	return nil
}

func (r *recordingSubscriptions) Remove(_ context.Context, p domain.Participant, id synchronization.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, r.key(p, id))
	return nil
}

func (r *recordingSubscriptions) RemoveAll(_ context.Context, p domain.Participant) ([]synchronization.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []synchronization.ObjectID
	for k, raw := range r.active {
		if k.p == p {
			id, err := synchronization.ParseObjectID(raw)
			if err != nil {
				return nil, err
			}
			removed = append(removed, id)
			delete(r.active, k)
		}
	}
	return removed, nil
}

func (r *recordingSubscriptions) SubscribersOf(_ context.Context, _ string, _ synchronization.ObjectID) ([]synchronization.Subscriber, error) {
	return nil, nil
}

func (r *recordingSubscriptions) subscribed(p domain.Participant, id synchronization.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[r.key(p, id)]
	return ok
}

type memoryValues struct {
	mu     sync.Mutex
	values map[string]any
}

func (m *memoryValues) Swap(_ context.Context, conferenceID string, id synchronization.ObjectID, next any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conferenceID + "/" + id.String()
	prev := m.values[key]
	m.values[key] = next
	return prev, nil
}

func (m *memoryValues) Fetch(_ context.Context, conferenceID string, id synchronization.ObjectID) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[conferenceID+"/"+id.String()], nil
}

func (m *memoryValues) DeleteAll(_ context.Context, _ string) error { return nil }

type noopGateway struct{}

func (noopGateway) PushFullState(_ context.Context, _ synchronization.ObjectID, _ []domain.Participant, _ any) error {
	return nil
}
func (noopGateway) PushPatch(_ context.Context, _ synchronization.ObjectID, _ []domain.Participant, _ jsondiff.Patch) error {
	return nil
}

type chatHarness struct {
	bus           *mediator.Mediator
	messages      *memoryMessageRepository
	typing        *memoryTypingRepository
	subscriptions *recordingSubscriptions
	timer         *TypingTimer
}

func newChatHarness(t *testing.T, perms map[string]any, typingTimeout time.Duration) chatHarness {
	t.Helper()
	bus := mediator.New(slog.Default())
	messages := &memoryMessageRepository{}
	typing := newMemoryTypingRepository()
	subscriptions := newRecordingSubscriptions()

	updater := synchronization.NewUpdater(subscriptions, &memoryValues{values: make(map[string]any)},
		noopGateway{}, bus, slog.Default())
	stacks := permissions.NewStackProvider(
		fakeConferenceSource{conf: domain.Conference{
			ID:    "conf-1",
			State: domain.ConferenceOpen,
			Configuration: domain.ConferenceConfiguration{
				Permissions: map[string]map[string]any{permissions.LayerConference: perms},
			},
		}},
		fakeRoomSource{},
		noopTemporaryRepository{},
	)

	timer := NewTypingTimer(bus, timers.StdDelay, slog.Default())
	t.Cleanup(timer.Stop)

	NewService(bus, messages, typing, stacks, timer, updater, typingTimeout, slog.Default()).Register()
	return chatHarness{bus: bus, messages: messages, typing: typing, subscriptions: subscriptions, timer: timer}
}

func allChatPermissions() map[string]any {
	return map[string]any{
		permissions.CanSendChatMessage.Key:    true,
		permissions.CanUseTypingIndicator.Key: true,
	}
}

func chatParticipant(id string) domain.Participant {
	return domain.Participant{ConferenceID: "conf-1", ID: id}
}

func Test_Send_Message_Stores_And_Publishes(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)

	var received []ChatMessageReceivedNotification
	mediator.HandleNotification(h.bus, func(_ context.Context, n ChatMessageReceivedNotification) error {
		received = append(received, n)
		return nil
	})

	message, err := mediator.Send[StoredMessage](context.Background(), h.bus, SendChatMessageRequest{
		Sender:  chatParticipant("alice"),
		Channel: "default",
		Content: "hello there",
	})
	req.NoError(err)
	req.NotEqual("", message.ID.String())
	req.Equal("hello there", message.Content)
	req.Equal("alice", message.SenderID)

	req.Len(received, 1)
	req.Equal(message, received[0].Message)
	req.Len(h.messages.messages, 1)
}

func Test_Send_Message_Requires_Permission(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, map[string]any{}, time.Hour)

	_, err := mediator.Send[StoredMessage](context.Background(), h.bus, SendChatMessageRequest{
		Sender:  chatParticipant("alice"),
		Channel: "default",
		Content: "hello",
	})
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodePermissionDenied))
}

func Test_Send_Message_Enforces_Max_Length(t *testing.T) {
	req := require.New(t)
	perms := allChatPermissions()
	perms[permissions.ChatMaxMessageLength.Key] = float64(5)
	h := newChatHarness(t, perms, time.Hour)

	_, err := mediator.Send[StoredMessage](context.Background(), h.bus, SendChatMessageRequest{
		Sender:  chatParticipant("alice"),
		Channel: "default",
		Content: "way past five characters",
	})
	req.Error(err)
	req.True(errors.IsValidation(err))
}

func Test_Send_Message_Validates_Input(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)

	_, err := mediator.Send[StoredMessage](context.Background(), h.bus, SendChatMessageRequest{
		Sender:  chatParticipant("alice"),
		Channel: "default",
	})
	req.Error(err)
	req.True(errors.IsValidation(err))
}

func Test_Send_Message_Clears_Typing_Indicator(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)
	alice := chatParticipant("alice")

	_, err := mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: alice, Channel: "default", IsTyping: true,
	})
	req.NoError(err)
	req.True(h.typing.isTyping(alice, "default"))

	_, err = mediator.Send[StoredMessage](context.Background(), h.bus, SendChatMessageRequest{
		Sender:  alice,
		Channel: "default",
		Content: "done typing",
	})
	req.NoError(err)
	req.False(h.typing.isTyping(alice, "default"))
}

func Test_Typing_Indicator_Requires_Permission(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, map[string]any{}, time.Hour)

	_, err := mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: chatParticipant("alice"), Channel: "default", IsTyping: true,
	})
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodePermissionDenied))
}

func Test_Typing_Indicator_Expires(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), 10*time.Millisecond)
	alice := chatParticipant("alice")

	_, err := mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: alice, Channel: "default", IsTyping: true,
	})
	req.NoError(err)
	req.True(h.typing.isTyping(alice, "default"))

	req.Eventually(func() bool {
		return !h.typing.isTyping(alice, "default")
	}, 2*time.Second, 5*time.Millisecond)
}

func Test_Explicit_Typing_Stop_Clears_Immediately(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)
	alice := chatParticipant("alice")

	_, err := mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: alice, Channel: "default", IsTyping: true,
	})
	req.NoError(err)

	_, err = mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: alice, Channel: "default", IsTyping: false,
	})
	req.NoError(err)
	req.False(h.typing.isTyping(alice, "default"))
}

func Test_Room_Change_Moves_Chat_Subscription(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)
	alice := chatParticipant("alice")
	prev := synchronization.NewScopedObjectID(SyncObjKindChat, "br1")
	next := synchronization.NewScopedObjectID(SyncObjKindChat, "br2")

	_, err := h.subscriptions.Add(context.Background(), alice, prev)
	req.NoError(err)

	err = h.bus.Publish(context.Background(), rooms.ParticipantsRoomChangedNotification{
		ConferenceID: "conf-1",
		Participants: map[string]rooms.RoomChange{"alice": rooms.Switched("br1", "br2")},
	})
	req.NoError(err)

	req.False(h.subscriptions.subscribed(alice, prev))
	req.True(h.subscriptions.subscribed(alice, next))
}

func Test_Room_Change_Clears_Typing_In_Previous_Room(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)
	alice := chatParticipant("alice")

	_, err := mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: alice, Channel: "br1", IsTyping: true,
	})
	req.NoError(err)

	err = h.bus.Publish(context.Background(), rooms.ParticipantsRoomChangedNotification{
		ConferenceID: "conf-1",
		Participants: map[string]rooms.RoomChange{"alice": rooms.Switched("br1", "br2")},
	})
	req.NoError(err)
	req.False(h.typing.isTyping(alice, "br1"))
}

func Test_Subscription_Removal_Clears_Typing(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)
	alice := chatParticipant("alice")

	_, err := mediator.Send[mediator.Unit](context.Background(), h.bus, SetParticipantTypingRequest{
		Participant: alice, Channel: "default", IsTyping: true,
	})
	req.NoError(err)

	err = h.bus.Publish(context.Background(), synchronization.SubscriptionsRemovedNotification{
		Participant: alice,
		ObjectIDs: []synchronization.ObjectID{
			synchronization.NewScopedObjectID(SyncObjKindChat, "default"),
		},
	})
	req.NoError(err)
	req.False(h.typing.isTyping(alice, "default"))
}

func Test_Fetch_Messages_Returns_Newest_First(t *testing.T) {
	req := require.New(t)
	h := newChatHarness(t, allChatPermissions(), time.Hour)
	alice := chatParticipant("alice")

	for _, content := range []string{"first", "second", "third"} {
		_, err := mediator.Send[StoredMessage](context.Background(), h.bus, SendChatMessageRequest{
			Sender:  alice,
			Channel: "default",
			Content: content,
		})
		req.NoError(err)
	}

	page, err := mediator.Send[MessagePage](context.Background(), h.bus, FetchMessagesRequest{
		ConferenceID: "conf-1",
		Channel:      "default",
	})
	req.NoError(err)
	req.Len(page.Messages, 3)
	req.Equal("third", page.Messages[0].Content)
	req.Equal("first", page.Messages[2].Content)
}
