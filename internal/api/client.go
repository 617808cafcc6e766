package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/thirdchat/thirdchat-go/core"
	"github.com/thirdchat/thirdchat-go/models"
)

// Client is the REST surface of the chat server. Every request carries the
// bearer credential; a 401 or 403 anywhere fires the auth-expiry hook
// exactly once and returns core.ErrAuthExpired, the uniform session-expiry
// contract.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger

	expiredOnce   sync.Once
	onAuthExpired func()
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

func WithAuthExpiredHook(f func()) ClientOption {
	return func(c *Client) {
		c.onAuthExpired = f
	}
}

func NewClient(baseURL, token string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With(slog.String("component", "api")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string      `json:"accessToken"`
	User        models.User `json:"user"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

// Login authenticates and returns the credential plus the user profile. It
// does not use the stored token.
func Login(ctx context.Context, httpClient *http.Client, baseURL, username, password string) (LoginResponse, error) {
	var out LoginResponse
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	if err != nil {
		return out, fmt.Errorf("marshal login request: %w", err)
	}
	u, err := url.JoinPath(baseURL, "/api/auth/login")
	if err != nil {
		return out, fmt.Errorf("join url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("login: %w", err)
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return out, core.ErrAuthExpired
	case res.StatusCode != http.StatusOK:
		return out, statusError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode login response: %w", err)
	}
	return out, nil
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account and returns the new user profile. Like Login
// it runs without a stored token.
func Register(ctx context.Context, httpClient *http.Client, baseURL string, reg RegisterRequest) (models.User, error) {
	var user models.User
	body, err := json.Marshal(reg)
	if err != nil {
		return user, fmt.Errorf("marshal register request: %w", err)
	}
	u, err := url.JoinPath(baseURL, "/api/auth/register")
	if err != nil {
		return user, fmt.Errorf("join url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return user, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := httpClient.Do(req)
	if err != nil {
		return user, fmt.Errorf("register: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return user, statusError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return user, fmt.Errorf("decode register response: %w", err)
	}
	return user, nil
}

// Me fetches the current user profile.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.getJSON(ctx, "/api/users/me", nil, &user)
	return user, err
}

// MyRooms fetches the rooms the user participates in, in server order. The
// endpoint returns a bare array with no envelope.
func (c *Client) MyRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := c.getJSON(ctx, "/api/users/chat-rooms", nil, &rooms)
	return rooms, err
}

// AllRooms fetches every room on the server, joined or not.
func (c *Client) AllRooms(ctx context.Context) ([]models.Room, error) {
	var list models.RoomList
	if err := c.getJSON(ctx, "/api/chats", nil, &list); err != nil {
		return nil, err
	}
	return list.Nodes, nil
}

// FetchMessages fetches one page of a room's history. Nodes are in
// descending creation-time order; page 0 is the most recent.
func (c *Client) FetchMessages(ctx context.Context, roomID, page, size int) (models.MessagePage, error) {
	var out models.MessagePage
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("size", fmt.Sprintf("%d", size))
	err := c.getJSON(ctx, fmt.Sprintf("/api/chats/%d/messages", roomID), q, &out)
	return out, err
}

// CreateRoom creates a room and returns it.
func (c *Client) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	var room models.Room
	err := c.postJSON(ctx, "/api/chats", createRoomRequest{Name: name}, &room)
	return room, err
}

// JoinRoom joins a room. An already-joined room (409) reports joined=false
// with no error.
func (c *Client) JoinRoom(ctx context.Context, roomID int) (bool, error) {
	res, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/join", roomID), nil, nil)
	if err != nil {
		return false, err
	}
	defer drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, statusError(res)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	res, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer drain(res)
	if res.StatusCode != http.StatusOK {
		return statusError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	res, err := c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return statusError(res)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do issues one authenticated request. Auth rejection short-circuits here
// so every endpoint obeys the expiry contract without repeating it.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		drain(res)
		c.authExpired()
		return nil, core.ErrAuthExpired
	}
	return res, nil
}

func (c *Client) authExpired() {
	c.expiredOnce.Do(func() {
		c.logger.Info("session expired")
		if c.onAuthExpired != nil {
			c.onAuthExpired()
		}
	})
}

func statusError(res *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	_ = json.Unmarshal(raw, &payload)
	return &StatusError{Code: res.StatusCode, Message: payload.Message}
}

func drain(res *http.Response) {
	io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	res.Body.Close()
}
