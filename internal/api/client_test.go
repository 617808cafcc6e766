package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdchat/thirdchat-go/core"
	"github.com/thirdchat/thirdchat-go/internal/api"
	"github.com/thirdchat/thirdchat-go/models"
)

const testToken = "test-token"

// newStubServer wires a chi router mimicking the chat server's REST
// surface. Handlers reject requests without the expected bearer header.
func newStubServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/api/auth/login" || req.URL.Path == "/api/auth/register" {
				next.ServeHTTP(w, req)
				return
			}
			if req.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/api/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var in api.LoginRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		if in.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(api.LoginResponse{
			AccessToken: testToken,
			User:        models.User{ID: 5, Username: in.Username},
		})
	})
	r.Post("/api/auth/register", func(w http.ResponseWriter, req *http.Request) {
		var in api.RegisterRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		if in.Username == "taken" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"message": "username taken"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.User{ID: 6, Username: in.Username, Email: in.Email})
	})
	r.Get("/api/users/me", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(models.User{ID: 5, Username: "me"})
	})
	r.Get("/api/users/chat-rooms", func(w http.ResponseWriter, req *http.Request) {
		// bare array, no envelope
		json.NewEncoder(w).Encode([]models.Room{{ID: 1, Name: "general"}, {ID: 2, Name: "random"}})
	})
	r.Get("/api/chats", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(models.RoomList{Nodes: []models.Room{{ID: 1, Name: "general"}, {ID: 3, Name: "open"}}})
	})
	r.Get("/api/chats/{roomID}/messages", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "1", chi.URLParam(req, "roomID"))
		assert.Equal(t, "0", req.URL.Query().Get("page"))
		assert.Equal(t, "3", req.URL.Query().Get("size"))
		json.NewEncoder(w).Encode(models.MessagePage{
			Nodes: []models.Message{
				{ID: "m5", ChatRoomID: 1, CreatedAt: time.Now()},
				{ID: "m4", ChatRoomID: 1, CreatedAt: time.Now().Add(-time.Second)},
			},
			TotalCount: 5,
			Size:       3,
		})
	})
	r.Post("/api/chats", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Room{ID: 9, Name: in.Name})
	})
	r.Post("/api/chats/{roomID}/join", func(w http.ResponseWriter, req *http.Request) {
		switch chi.URLParam(req, "roomID") {
		case "1":
			w.WriteHeader(http.StatusOK)
		case "2":
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...api.ClientOption) *api.Client {
	t.Helper()
	return api.NewClient(srv.URL, testToken, slog.Default(), opts...)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)

	t.Run("success", func(t *testing.T) {
		out, err := api.Login(context.Background(), srv.Client(), srv.URL, "me", "secret")
		require.NoError(t, err)
		assert.Equal(t, testToken, out.AccessToken)
		assert.Equal(t, 5, out.User.ID)
	})

	t.Run("bad credential", func(t *testing.T) {
		_, err := api.Login(context.Background(), srv.Client(), srv.URL, "me", "wrong")
		assert.ErrorIs(t, err, core.ErrAuthExpired)
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)

	t.Run("success", func(t *testing.T) {
		user, err := api.Register(context.Background(), srv.Client(), srv.URL,
			api.RegisterRequest{Username: "fresh", Email: "fresh@example.com", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, 6, user.ID)
		assert.Equal(t, "fresh", user.Username)
	})

	t.Run("conflict surfaces the server message", func(t *testing.T) {
		_, err := api.Register(context.Background(), srv.Client(), srv.URL,
			api.RegisterRequest{Username: "taken", Email: "taken@example.com", Password: "secret"})
		var statusErr *api.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusConflict, statusErr.Code)
		assert.Equal(t, "username taken", statusErr.Message)
	})
}

func TestMyRooms(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	c := newTestClient(t, srv)

	rooms, err := c.MyRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "general", rooms[0].Name)
}

func TestAllRooms(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	c := newTestClient(t, srv)

	rooms, err := c.AllRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, 3, rooms[1].ID)
}

func TestFetchMessages(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	c := newTestClient(t, srv)

	page, err := c.FetchMessages(context.Background(), 1, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, 3, page.Size)
	assert.Equal(t, 2, page.TotalPages())
	require.Len(t, page.Nodes, 2)
	assert.Equal(t, "m5", page.Nodes[0].ID)
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	c := newTestClient(t, srv)

	room, err := c.CreateRoom(context.Background(), "new-room")
	require.NoError(t, err)
	assert.Equal(t, 9, room.ID)
	assert.Equal(t, "new-room", room.Name)
}

func TestJoinRoom(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	c := newTestClient(t, srv)

	joined, err := c.JoinRoom(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, joined)

	// 409 means already a member, not a failure
	joined, err = c.JoinRoom(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, joined)

	_, err = c.JoinRoom(context.Background(), 3)
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestAuthExpiry(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)

	var fired atomic.Int32
	c := api.NewClient(srv.URL, "stale-token", slog.Default(),
		api.WithAuthExpiredHook(func() { fired.Add(1) }))

	_, err := c.MyRooms(context.Background())
	assert.ErrorIs(t, err, core.ErrAuthExpired)
	_, err = c.Me(context.Background())
	assert.ErrorIs(t, err, core.ErrAuthExpired)

	// the hook fires exactly once per client however many calls fail
	assert.Equal(t, int32(1), fired.Load())
}
