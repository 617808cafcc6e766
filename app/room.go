package app

import (
	"context"
	"fmt"

	"github.com/thirdchat/thirdchat-go/core"
	"github.com/thirdchat/thirdchat-go/models"
)

// RoomSession is one open room: its message feed plus the live listener
// keeping the feed appended. Close detaches the listener, sends the leave
// notice, and tears the feed's scope down so late fetches are discarded.
type RoomSession struct {
	app    *App
	roomID int
	key    string
	feed   *core.Feed
}

// OpenRoom opens roomID for display: the room page takes the room over from
// background mode, the unread count resets, page 0 of history loads, and
// live messages append to the feed from then on.
func (a *App) OpenRoom(ctx context.Context, roomID int) (*RoomSession, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	apiClient, registry, summary := a.api, a.registry, a.summary
	a.mu.Unlock()
	if registry == nil {
		return nil, ErrNotLoggedIn
	}

	// the dedicated view displaces any background listeners for this room
	registry.RemoveAllListeners(roomID)
	summary.MarkRead(roomID)

	rs := &RoomSession{
		app:    a,
		roomID: roomID,
		key:    fmt.Sprintf("feed:%d", roomID),
		feed:   core.NewFeed(roomID, a.config.PageSize, apiClient, a.logger),
	}
	if err := rs.feed.LoadInitial(ctx); err != nil {
		return nil, err
	}

	registry.AddListener(roomID, rs.key, func(msg models.Message) {
		rs.feed.AppendLive(msg)
		// the room is on screen; whatever arrives is read
		summary.ApplyIncomingMessage(msg)
		summary.MarkRead(roomID)
	})

	if err := registry.SendJoin(roomID); err != nil {
		a.logger.Debug(fmt.Sprintf("join notice for room %d: %v", roomID, err))
	}
	return rs, nil
}

// Feed exposes the room's message sequence.
func (rs *RoomSession) Feed() *core.Feed {
	return rs.feed
}

// LoadOlder prepends the next older history page, returning how many
// messages were added so the caller can keep its scroll anchor stable.
func (rs *RoomSession) LoadOlder(ctx context.Context) (int, error) {
	return rs.feed.LoadOlder(ctx)
}

// Send publishes a message to this room.
func (rs *RoomSession) Send(content string) error {
	return rs.app.Send(rs.roomID, content)
}

// Close leaves the room: live listener off, leave notice out, feed scope
// torn down. The summary store resumes tracking the room on the next
// WatchRooms.
func (rs *RoomSession) Close() {
	rs.app.mu.Lock()
	registry := rs.app.registry
	rs.app.mu.Unlock()
	if registry != nil {
		if err := registry.SendLeave(rs.roomID); err != nil {
			rs.app.logger.Debug(fmt.Sprintf("leave notice for room %d: %v", rs.roomID, err))
		}
		registry.RemoveListener(rs.roomID, rs.key)
	}
	rs.feed.Close()
}
