package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdchat/thirdchat-go/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	session := Session{
		AccessToken: "token-1",
		User:        models.User{ID: 5, Username: "me"},
		Server:      models.Server{Name: "local", URL: "http://localhost:8080"},
	}
	require.NoError(t, s.SaveSession(ctx, session))

	loaded, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session, loaded)

	// saving again replaces, never accumulates
	session.AccessToken = "token-2"
	require.NoError(t, s.SaveSession(ctx, session))
	loaded, ok, err = s.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "token-2", loaded.AccessToken)
}

func TestClearSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, Session{AccessToken: "t"}))
	require.NoError(t, s.SaveRooms(ctx, []models.Room{{ID: 1, Name: "general"}}))

	require.NoError(t, s.ClearSession(ctx))

	_, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	rooms, err := s.LoadRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRoomsSnapshot(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	last := models.Message{
		ID:         "m1",
		ChatRoomID: 2,
		Sender:     models.User{ID: 9, Username: "other"},
		Content:    "hi",
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	in := []models.Room{
		{ID: 2, Name: "random", LastMessage: &last},
		{ID: 1, Name: "general"},
	}
	require.NoError(t, s.SaveRooms(ctx, in))

	out, err := s.LoadRooms(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	// fetch order is preserved
	assert.Equal(t, 2, out[0].ID)
	require.NotNil(t, out[0].LastMessage)
	assert.Equal(t, "m1", out[0].LastMessage.ID)
	assert.Nil(t, out[1].LastMessage)

	// replaced wholesale on the next save
	require.NoError(t, s.SaveRooms(ctx, []models.Room{{ID: 3, Name: "new"}}))
	out, err = s.LoadRooms(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].ID)
}
