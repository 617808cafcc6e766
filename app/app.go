package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thirdchat/thirdchat-go/core"
	"github.com/thirdchat/thirdchat-go/internal/api"
	"github.com/thirdchat/thirdchat-go/models"
	"github.com/thirdchat/thirdchat-go/store"
)

// ErrNotLoggedIn is returned by operations that require a session.
var ErrNotLoggedIn = errors.New("not logged in")

// summaryListenerKey identifies the background listeners that feed the room
// summary store. Each open room's feed uses its own key, so a room page can
// take over a room from background mode without disturbing others.
const summaryListenerKey = "summary"

// App wires the client together: config, local store, REST client, and the
// realtime core. It owns the session lifecycle; auth expiry from either the
// REST or the realtime side funnels into one Logout.
type App struct {
	config *Config
	logger *slog.Logger
	store  *store.Store

	mu         sync.Mutex
	session    *store.Session
	api        *api.Client
	registry   *core.Registry
	supervisor *core.Supervisor
	summary    *core.SummaryStore

	onLogout func()
}

// New opens the local store and restores a persisted session when one
// exists and its token has not expired.
func New(config *Config, logger *slog.Logger) (*App, error) {
	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if err := os.MkdirAll(config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(config.DataDir, "client.db"))
	if err != nil {
		return nil, err
	}

	a := &App{
		config: config,
		logger: logger,
		store:  st,
	}

	session, ok, err := st.LoadSession(context.Background())
	if err != nil {
		return nil, err
	}
	if ok {
		if tokenExpired(session.AccessToken) {
			a.logger.Info("persisted session expired, clearing")
			if err := st.ClearSession(context.Background()); err != nil {
				return nil, err
			}
		} else {
			if err := a.installSession(session); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Close releases the app without logging out; the session stays persisted.
func (a *App) Close() error {
	a.mu.Lock()
	sup := a.supervisor
	a.mu.Unlock()
	if sup != nil {
		sup.Disconnect()
	}
	return a.store.Close()
}

// OnLogout registers f to run after a logout, whether user-initiated or
// forced by auth expiry.
func (a *App) OnLogout(f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLogout = f
}

// LoggedIn reports whether a live session exists.
func (a *App) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// User returns the session's user profile.
func (a *App) User() (models.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return models.User{}, false
	}
	return a.session.User, true
}

// Summary exposes the room summary store for rendering.
func (a *App) Summary() *core.SummaryStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

// Status returns the realtime connection state.
func (a *App) Status() core.Status {
	a.mu.Lock()
	sup := a.supervisor
	a.mu.Unlock()
	if sup == nil {
		return core.StatusDisconnected
	}
	return sup.Status()
}

// Register creates an account on the configured server. It does not log
// in; callers follow up with Login.
func (a *App) Register(ctx context.Context, username, email, password string) (models.User, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return api.Register(ctx, httpClient, a.config.Server.URL, api.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
}

// Login authenticates against the configured server and installs the
// session, replacing any previous one.
func (a *App) Login(ctx context.Context, username, password string) error {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	res, err := api.Login(ctx, httpClient, a.config.Server.URL, username, password)
	if err != nil {
		return err
	}
	session := store.Session{
		AccessToken: res.AccessToken,
		User:        res.User,
		Server:      models.Server{Name: a.config.Server.Name, URL: a.config.Server.URL},
	}
	if err := a.store.SaveSession(ctx, session); err != nil {
		return err
	}
	a.logger.Info("logged in", slog.String("username", res.User.Username))
	return a.installSession(session)
}

// installSession builds the per-session runtime: REST client, registry,
// supervisor, summary store.
func (a *App) installSession(session store.Session) error {
	wsURL, err := a.config.WebSocketURL()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = &session
	a.api = api.NewClient(a.config.Server.URL, session.AccessToken, a.logger,
		api.WithAuthExpiredHook(a.forceLogout))
	a.registry = core.NewRegistry(a.logger)
	a.supervisor = core.NewSupervisor(
		stompDialer(wsURL, session.AccessToken, a.logger),
		a.registry,
		a.logger,
		core.WithConnectTimeout(a.config.ConnectTimeout),
		core.WithRetryDelay(a.config.ReconnectDelay),
	)
	a.supervisor.OnAuthExpired(a.forceLogout)
	a.summary = core.NewSummaryStore(session.User.ID, a.logger)
	return nil
}

// Logout disconnects, clears the persisted session, and discards the
// runtime. Safe to call when already logged out.
func (a *App) Logout(ctx context.Context) error {
	a.mu.Lock()
	if a.session == nil {
		a.mu.Unlock()
		return nil
	}
	sup := a.supervisor
	onLogout := a.onLogout
	a.session = nil
	a.api = nil
	a.registry = nil
	a.supervisor = nil
	a.summary = nil
	a.mu.Unlock()

	if sup != nil {
		sup.Disconnect()
	}
	if err := a.store.ClearSession(ctx); err != nil {
		return err
	}
	a.logger.Info("logged out")
	if onLogout != nil {
		onLogout()
	}
	return nil
}

// forceLogout is the single auth-expiry path: any REST 401/403 or realtime
// credential rejection lands here.
func (a *App) forceLogout() {
	if err := a.Logout(context.Background()); err != nil {
		a.logger.Error(fmt.Sprintf("forced logout: %v", err))
	}
}

// Connect ensures the realtime connection is up.
func (a *App) Connect(ctx context.Context) error {
	sup, err := a.runtime()
	if err != nil {
		return err
	}
	return sup.Connect(ctx)
}

// runtime returns the supervisor or ErrNotLoggedIn.
func (a *App) runtime() (*core.Supervisor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.supervisor == nil {
		return nil, ErrNotLoggedIn
	}
	return a.supervisor, nil
}

// Rooms refetches the user's room list, replaces the summary store, and
// refreshes the local snapshot cache. Returns the store's merged ordering.
func (a *App) Rooms(ctx context.Context) ([]models.Room, error) {
	a.mu.Lock()
	apiClient, summary := a.api, a.summary
	a.mu.Unlock()
	if apiClient == nil {
		return nil, ErrNotLoggedIn
	}
	rooms, err := apiClient.MyRooms(ctx)
	if err != nil {
		return nil, err
	}
	summary.Replace(rooms)
	if err := a.store.SaveRooms(ctx, rooms); err != nil {
		a.logger.Error(fmt.Sprintf("cache rooms: %v", err))
	}
	return summary.Rooms(), nil
}

// CachedRooms returns the last persisted room snapshot, for rendering
// before a refetch lands.
func (a *App) CachedRooms(ctx context.Context) ([]models.Room, error) {
	return a.store.LoadRooms(ctx)
}

// AllRooms lists every room on the server, joined or not.
func (a *App) AllRooms(ctx context.Context) ([]models.Room, error) {
	a.mu.Lock()
	apiClient := a.api
	a.mu.Unlock()
	if apiClient == nil {
		return nil, ErrNotLoggedIn
	}
	return apiClient.AllRooms(ctx)
}

// CreateRoom creates a room and folds it into the summary store.
func (a *App) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	a.mu.Lock()
	apiClient := a.api
	a.mu.Unlock()
	if apiClient == nil {
		return models.Room{}, ErrNotLoggedIn
	}
	room, err := apiClient.CreateRoom(ctx, name)
	if err != nil {
		return models.Room{}, err
	}
	if _, err := a.Rooms(ctx); err != nil {
		a.logger.Error(fmt.Sprintf("refresh rooms after create: %v", err))
	}
	return room, nil
}

// JoinRoom joins a room; already-joined is not an error.
func (a *App) JoinRoom(ctx context.Context, roomID int) (bool, error) {
	a.mu.Lock()
	apiClient := a.api
	a.mu.Unlock()
	if apiClient == nil {
		return false, ErrNotLoggedIn
	}
	return apiClient.JoinRoom(ctx, roomID)
}

// WatchRooms connects and registers a background listener on every room in
// the summary store, so inbound traffic keeps summaries and unread counts
// live while no room is open.
func (a *App) WatchRooms(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	registry, summary := a.registry, a.summary
	a.mu.Unlock()
	if registry == nil {
		return ErrNotLoggedIn
	}
	for _, room := range summary.Rooms() {
		registry.AddListener(room.ID, summaryListenerKey, summary.ApplyIncomingMessage)
	}
	return nil
}

// Send publishes a chat message to roomID over the live connection.
func (a *App) Send(roomID int, content string) error {
	a.mu.Lock()
	registry := a.registry
	a.mu.Unlock()
	if registry == nil {
		return ErrNotLoggedIn
	}
	return registry.SendMessage(roomID, content)
}
