package rooms

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wI2L/jsondiff"

	"conference-lab/conference"
	"conference-lab/domain"
	"conference-lab/errors"
	"conference-lab/mediator"
	"conference-lab/synchronization"
)

type memoryRoomRepository struct {
	rooms   map[string]domain.Room
	mapping map[domain.Participant]string

	// participants whose next membership write loses the race
	conflicting map[string]bool
}

func newMemoryRoomRepository() *memoryRoomRepository {
	return &memoryRoomRepository{
		rooms:       make(map[string]domain.Room),
		mapping:     make(map[domain.Participant]string),
		conflicting: make(map[string]bool),
	}
}

func (r *memoryRoomRepository) FetchRooms(_ context.Context, conferenceID string) ([]domain.Room, error) {
	var all []domain.Room
	for _, room := range r.rooms {
		if room.ConferenceID == conferenceID {
			all = append(all, room)
		}
	}
	return all, nil
}

func (r *memoryRoomRepository) CreateRooms(_ context.Context, _ string, rooms []domain.Room) error {
	for _, room := range rooms {
		r.rooms[room.ID] = room
	}
	return nil
}

func (r *memoryRoomRepository) RemoveRooms(_ context.Context, _ string, roomIDs []string) error {
	for _, id := range roomIDs {
		delete(r.rooms, id)
	}
	return nil
}

func (r *memoryRoomRepository) FetchParticipantRoom(_ context.Context, p domain.Participant) (string, error) {
	return r.mapping[p], nil
}

func (r *memoryRoomRepository) FetchParticipantRooms(_ context.Context, conferenceID string) (map[string]string, error) {
	mapping := make(map[string]string)
	for p, roomID := range r.mapping {
		if p.ConferenceID == conferenceID {
			mapping[p.ID] = roomID
		}
	}
	return mapping, nil
}

func (r *memoryRoomRepository) SetParticipantRoom(_ context.Context, p domain.Participant,
	expectedRoom, newRoom string) error {
	if r.conflicting[p.ID] {
		return errors.NewConcurrency("membership of %s changed concurrently", p.ID)
	}
	if r.mapping[p] != expectedRoom {
		return errors.NewConcurrency("expected room %q, found %q", expectedRoom, r.mapping[p])
	}
	if newRoom == "" {
		delete(r.mapping, p)
		return nil
	}
	r.mapping[p] = newRoom
	return nil
}

func (r *memoryRoomRepository) RemoveAllOfConference(_ context.Context, conferenceID string) ([]domain.Room, map[string]string, error) {
	var removedRooms []domain.Room
	for id, room := range r.rooms {
		if room.ConferenceID == conferenceID {
			removedRooms = append(removedRooms, room)
			delete(r.rooms, id)
		}
	}
	removedMappings := make(map[string]string)
	for p, roomID := range r.mapping {
		if p.ConferenceID == conferenceID {
			removedMappings[p.ID] = roomID
			delete(r.mapping, p)
		}
	}
	return removedRooms, removedMappings, nil
}

type staticConferenceRepository struct {
	conf domain.Conference
}

func (r staticConferenceRepository) Find(_ context.Context, _ string) (domain.Conference, error) {
	return r.conf, nil
}

func (r staticConferenceRepository) Create(_ context.Context, _ domain.Conference) error { return nil }

func (r staticConferenceRepository) Update(_ context.Context, next domain.Conference,
	_ domain.ConferenceState) (domain.Conference, error) {
	return next, nil
}

type noopSubscriptions struct{}

func (noopSubscriptions) Add(_ context.Context, _ domain.Participant, _ synchronization.ObjectID) (bool, error) {
	return true, nil
}
func (noopSubscriptions) MarkSynced(_ context.Context, _ domain.Participant, _ synchronization.ObjectID) error {
	return nil
}
func (noopSubscriptions) Remove(_ context.Context, _ domain.Participant, _ synchronization.ObjectID) error {
	return nil
}
func (noopSubscriptions) RemoveAll(_ context.Context, _ domain.Participant) ([]synchronization.ObjectID, error) {
	return nil, nil
}
func (noopSubscriptions) SubscribersOf(_ context.Context, _ string, _ synchronization.ObjectID) ([]synchronization.Subscriber, error) {
	return nil, nil
}

type memoryValues struct {
	values map[string]any
}

func (m *memoryValues) Swap(_ context.Context, conferenceID string, id synchronization.ObjectID, next any) (any, error) {
	key := conferenceID + "/" + id.String()
	prev := m.values[key]
	m.values[key] = next
	return prev, nil
}

func (m *memoryValues) Fetch(_ context.Context, conferenceID string, id synchronization.ObjectID) (any, error) {
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

type staticGuard struct {
	allowed bool
}

func (g staticGuard) Can(_ context.Context, _ domain.Participant, _ string) (bool, error) {
	return g.allowed, nil
}

func newRoomsService(t *testing.T, conf domain.Conference) (*Service, *memoryRoomRepository, *mediator.Mediator) {
	t.Helper()
	return newGuardedRoomsService(t, conf, true)
}

func newGuardedRoomsService(t *testing.T, conf domain.Conference, allowed bool) (*Service, *memoryRoomRepository, *mediator.Mediator) {
	t.Helper()
	bus := mediator.New(slog.Default())
	repo := newMemoryRoomRepository()
	updater := synchronization.NewUpdater(noopSubscriptions{}, &memoryValues{values: make(map[string]any)},
		noopGateway{}, bus, slog.Default())
	service := NewService(bus, repo, staticConferenceRepository{conf: conf},
		staticGuard{allowed: allowed}, updater, slog.Default())
	service.Register()
	return service, repo, bus
}

func openConference() domain.Conference {
	return domain.Conference{
		ID:    "conf-1",
		State: domain.ConferenceOpen,
		Configuration: domain.ConferenceConfiguration{
			DefaultRoomName: "Main",
		},
	}
}

func participant(id string) domain.Participant {
	return domain.Participant{ConferenceID: "conf-1", ID: id}
}

func recordRoomChanges(bus *mediator.Mediator) *[]ParticipantsRoomChangedNotification {
	var notifications []ParticipantsRoomChangedNotification
	mediator.HandleNotification(bus, func(_ context.Context, n ParticipantsRoomChangedNotification) error {
		notifications = append(notifications, n)
		return nil
	})
	return &notifications
}

func Test_First_Assignment_Is_A_Join(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1", DisplayName: "Breakout"}
	changes := recordRoomChanges(bus)

	_, err := mediator.Send[mediator.Unit](context.Background(), bus,
		MoveParticipant(participant("alice"), "br1"))
	req.NoError(err)

	req.Len(*changes, 1)
	req.Equal(Joined("br1"), (*changes)[0].Participants["alice"])
	req.Equal("br1", repo.mapping[participant("alice")])
}

func Test_Reassignment_Is_A_Switch(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}
	repo.rooms["br2"] = domain.Room{ConferenceID: "conf-1", ID: "br2"}
	repo.mapping[participant("alice")] = "br1"
	changes := recordRoomChanges(bus)

	_, err := mediator.Send[mediator.Unit](context.Background(), bus,
		MoveParticipant(participant("alice"), "br2"))
	req.NoError(err)

	req.Len(*changes, 1)
	req.Equal(Switched("br1", "br2"), (*changes)[0].Participants["alice"])
}

func Test_Empty_Assignment_Is_A_Leave(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}
	repo.mapping[participant("alice")] = "br1"
	changes := recordRoomChanges(bus)

	_, err := mediator.Send[mediator.Unit](context.Background(), bus,
		MoveParticipant(participant("alice"), ""))
	req.NoError(err)

	req.Len(*changes, 1)
	req.Equal(Left("br1"), (*changes)[0].Participants["alice"])
	req.NotContains(repo.mapping, participant("alice"))
}

func Test_NoOp_Assignment_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}
	repo.mapping[participant("alice")] = "br1"
	changes := recordRoomChanges(bus)

	_, err := mediator.Send[mediator.Unit](context.Background(), bus,
		MoveParticipant(participant("alice"), "br1"))
	req.NoError(err)
	req.Empty(*changes)
}

func Test_Assignment_To_Unknown_Room_Fails(t *testing.T) {
	req := require.New(t)
	_, _, bus := newRoomsService(t, openConference())

	_, err := mediator.Send[mediator.Unit](context.Background(), bus,
		MoveParticipant(participant("alice"), "nowhere"))
	req.Error(err)
	req.True(errors.IsNotFound(err))
}

func Test_Batch_Isolates_Concurrency_Failures(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}
	repo.conflicting["bob"] = true
	changes := recordRoomChanges(bus)

	_, err := mediator.Send[mediator.Unit](context.Background(), bus, SetParticipantRoomRequest{
		ConferenceID: "conf-1",
		Assignments: []RoomAssignment{
			{ParticipantID: "alice", RoomID: "br1"},
			{ParticipantID: "bob", RoomID: "br1"},
			{ParticipantID: "carol", RoomID: "br1"},
		},
	})
	req.NoError(err)

	req.Len(*changes, 1)
	applied := (*changes)[0].Participants
	req.Len(applied, 2)
	req.Contains(applied, "alice")
	req.Contains(applied, "carol")
	req.NotContains(applied, "bob")
}

func Test_Create_Rooms_Requires_Open_Conference(t *testing.T) {
	req := require.New(t)
	closed := openConference()
	closed.State = domain.ConferenceClosed
	_, _, bus := newRoomsService(t, closed)

	_, err := mediator.Send[[]domain.Room](context.Background(), bus, CreateRoomsRequest{
		ConferenceID: "conf-1",
		Rooms:        []RoomCreationInfo{{DisplayName: "Breakout"}},
	})
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodeConferenceNotOpen))
}

func Test_Create_Rooms_Assigns_Ids_And_Publishes(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())

	var created RoomsCreatedNotification
	mediator.HandleNotification(bus, func(_ context.Context, n RoomsCreatedNotification) error {
		created = n
		return nil
	})

	rooms, err := mediator.Send[[]domain.Room](context.Background(), bus, CreateRoomsRequest{
		ConferenceID: "conf-1",
		Rooms:        []RoomCreationInfo{{DisplayName: "Breakout 1"}, {DisplayName: "Breakout 2"}},
	})
	req.NoError(err)
	req.Len(rooms, 2)
	req.NotEmpty(rooms[0].ID)
	req.NotEqual(rooms[0].ID, rooms[1].ID)
	req.Len(repo.rooms, 2)
	req.Equal(rooms, created.Rooms)
}

func Test_Create_Rooms_Validates_Display_Name(t *testing.T) {
	req := require.New(t)
	_, _, bus := newRoomsService(t, openConference())

	_, err := mediator.Send[[]domain.Room](context.Background(), bus, CreateRoomsRequest{
		ConferenceID: "conf-1",
		Rooms:        []RoomCreationInfo{{DisplayName: ""}},
	})
	req.Error(err)
	req.True(errors.IsValidation(err))
}

func Test_Default_Room_Cannot_Be_Removed(t *testing.T) {
	req := require.New(t)
	_, _, bus := newRoomsService(t, openConference())

	_, err := mediator.Send[mediator.Unit](context.Background(), bus, RemoveRoomsRequest{
		ConferenceID: "conf-1",
		RoomIDs:      []string{domain.DefaultRoomID},
	})
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodeCannotRemoveDefaultRoom))
}

func Test_Remove_Rooms_Moves_Occupants_To_Default(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms[domain.DefaultRoomID] = domain.Room{ConferenceID: "conf-1", ID: domain.DefaultRoomID}
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}
	repo.mapping[participant("alice")] = "br1"
	changes := recordRoomChanges(bus)

	_, err := mediator.Send[mediator.Unit](context.Background(), bus, RemoveRoomsRequest{
		ConferenceID: "conf-1",
		RoomIDs:      []string{"br1"},
	})
	req.NoError(err)

	req.NotContains(repo.rooms, "br1")
	req.Equal(domain.DefaultRoomID, repo.mapping[participant("alice")])
	req.Len(*changes, 1)
	req.Equal(Switched("br1", domain.DefaultRoomID), (*changes)[0].Participants["alice"])
}

func Test_Room_Creation_By_Participant_Is_Permission_Checked(t *testing.T) {
	req := require.New(t)
	_, _, bus := newGuardedRoomsService(t, openConference(), false)

	_, err := mediator.Send[[]domain.Room](context.Background(), bus, CreateRoomsRequest{
		ConferenceID: "conf-1",
		Rooms:        []RoomCreationInfo{{DisplayName: "Breakout"}},
		RequestedBy:  participant("alice"),
	})
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodePermissionDenied))
}

func Test_Room_Removal_By_Participant_Is_Permission_Checked(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newGuardedRoomsService(t, openConference(), false)
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}

	_, err := mediator.Send[mediator.Unit](context.Background(), bus, RemoveRoomsRequest{
		ConferenceID: "conf-1",
		RoomIDs:      []string{"br1"},
		RequestedBy:  participant("alice"),
	})
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodePermissionDenied))
	req.Contains(repo.rooms, "br1")
}

func Test_Room_Switch_By_Participant_Is_Permission_Checked(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newGuardedRoomsService(t, openConference(), false)
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}

	request := MoveParticipant(participant("alice"), "br1")
	request.RequestedBy = participant("alice")
	_, err := mediator.Send[mediator.Unit](context.Background(), bus, request)
	req.Error(err)
	req.True(errors.IsDomain(err, errors.CodePermissionDenied))
	req.NotContains(repo.mapping, participant("alice"))
}

func Test_Permitted_Participant_Can_Switch_Room(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms["br1"] = domain.Room{ConferenceID: "conf-1", ID: "br1"}

	request := MoveParticipant(participant("alice"), "br1")
	request.RequestedBy = participant("alice")
	_, err := mediator.Send[mediator.Unit](context.Background(), bus, request)
	req.NoError(err)
	req.Equal("br1", repo.mapping[participant("alice")])
}

func Test_System_Assignments_Bypass_The_Permission_Gate(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newGuardedRoomsService(t, openConference(), false)
	repo.rooms[domain.DefaultRoomID] = domain.Room{ConferenceID: "conf-1", ID: domain.DefaultRoomID}

	err := bus.Publish(context.Background(), conference.ParticipantJoinedNotification{
		Participant: participant("alice"),
		Meta:        domain.ParticipantMetadata{DisplayName: "Alice"},
	})
	req.NoError(err)
	req.Equal(domain.DefaultRoomID, repo.mapping[participant("alice")])
}

func Test_Conference_Open_Creates_Default_Room(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())

	err := bus.Publish(context.Background(), conference.ConferenceOpenedNotification{ConferenceID: "conf-1"})
	req.NoError(err)

	room, ok := repo.rooms[domain.DefaultRoomID]
	req.True(ok)
	req.Equal("Main", room.DisplayName)
}

func Test_Participant_Join_Lands_In_Default_Room(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms[domain.DefaultRoomID] = domain.Room{ConferenceID: "conf-1", ID: domain.DefaultRoomID}
	changes := recordRoomChanges(bus)

	err := bus.Publish(context.Background(), conference.ParticipantJoinedNotification{
		Participant: participant("alice"),
		Meta:        domain.ParticipantMetadata{DisplayName: "Alice"},
	})
	req.NoError(err)

	req.Equal(domain.DefaultRoomID, repo.mapping[participant("alice")])
	req.Len(*changes, 1)
	req.Equal(Joined(domain.DefaultRoomID), (*changes)[0].Participants["alice"])
}

func Test_Conference_Close_Removes_Rooms_And_Memberships(t *testing.T) {
	req := require.New(t)
	_, repo, bus := newRoomsService(t, openConference())
	repo.rooms[domain.DefaultRoomID] = domain.Room{ConferenceID: "conf-1", ID: domain.DefaultRoomID}
	repo.mapping[participant("alice")] = domain.DefaultRoomID
	changes := recordRoomChanges(bus)

	var removed RoomsRemovedNotification
	mediator.HandleNotification(bus, func(_ context.Context, n RoomsRemovedNotification) error {
		removed = n
		return nil
	})

	err := bus.Publish(context.Background(), conference.ConferenceClosedNotification{ConferenceID: "conf-1"})
	req.NoError(err)

	req.Empty(repo.rooms)
	req.Empty(repo.mapping)
	req.Equal([]string{domain.DefaultRoomID}, removed.RoomIDs)
	req.Len(*changes, 1)
	req.Equal(Left(domain.DefaultRoomID), (*changes)[0].Participants["alice"])
}
