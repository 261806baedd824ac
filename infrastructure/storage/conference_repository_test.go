package storage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"conference-lab/domain"
	"conference-lab/errors"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Create_And_Find_Conference(t *testing.T) {
	req := require.New(t)
	repository := NewConferenceRepository(newTestDB(t), slog.Default())

	conf := domain.Conference{
		ID:    "conf-1",
		State: domain.ConferenceClosed,
		Configuration: domain.ConferenceConfiguration{
			Moderators:      []string{"mod"},
			DefaultRoomName: "Main",
		},
	}
	req.NoError(repository.Create(context.Background(), conf))

	found, err := repository.Find(context.Background(), "conf-1")
	req.NoError(err)
	req.Equal(conf, found)
}

func Test_Find_Unknown_Conference_Fails(t *testing.T) {
	req := require.New(t)
	repository := NewConferenceRepository(newTestDB(t), slog.Default())

	_, err := repository.Find(context.Background(), "nope")
	req.Error(err)
	req.True(errors.IsNotFound(err))
}

func Test_Update_Conference_Checks_Expected_State(t *testing.T) {
	req := require.New(t)
	repository := NewConferenceRepository(newTestDB(t), slog.Default())

	conf := domain.Conference{ID: "conf-1", State: domain.ConferenceClosed}
	req.NoError(repository.Create(context.Background(), conf))

	conf.State = domain.ConferenceOpen
	prior, err := repository.Update(context.Background(), conf, domain.ConferenceClosed)
	req.NoError(err)
	req.Equal(domain.ConferenceClosed, prior.State)

	// a second transition from closed must lose: the conference is open now
	_, err = repository.Update(context.Background(), conf, domain.ConferenceClosed)
	req.Error(err)
	req.True(errors.IsConcurrency(err))

	found, err := repository.Find(context.Background(), "conf-1")
	req.NoError(err)
	req.True(found.IsOpen())
}

func Test_Update_Unknown_Conference_Fails(t *testing.T) {
	req := require.New(t)
	repository := NewConferenceRepository(newTestDB(t), slog.Default())

	_, err := repository.Update(context.Background(),
		domain.Conference{ID: "nope", State: domain.ConferenceOpen}, domain.ConferenceClosed)
	req.Error(err)
	req.True(errors.IsNotFound(err))
}
