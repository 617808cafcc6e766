package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thirdchat/thirdchat-go/models"
)

// MessageFetcher is the external history collaborator. Page 0 is the most
// recent page; nodes within a page are in descending creation-time order.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, roomID, page, size int) (models.MessagePage, error)
}

// Feed holds one open room's message sequence: paginated history merged
// with live appends, ascending by creation time, no duplicate ids. The
// ascending invariant holds at every suspension point, not just between
// calls.
type Feed struct {
	roomID  int
	size    int
	fetcher MessageFetcher
	logger  *slog.Logger

	mu         sync.Mutex
	messages   []models.Message
	ids        map[string]struct{}
	page       int
	totalPages int
	loading    bool
	closed     bool
}

func NewFeed(roomID, pageSize int, fetcher MessageFetcher, logger *slog.Logger) *Feed {
	return &Feed{
		roomID:  roomID,
		size:    pageSize,
		fetcher: fetcher,
		logger:  logger.With(slog.String("component", "feed"), slog.Int("room", roomID)),
		ids:     make(map[string]struct{}),
	}
}

// Messages returns an ascending snapshot of the in-memory sequence.
func (f *Feed) Messages() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// HasMore reports whether older pages remain on the server, per the page
// math of the last fetch.
func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page < f.totalPages-1
}

// Close marks the feed's owning scope as torn down. Fetches that settle
// afterwards are discarded without mutating state.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// LoadInitial fetches page 0 and installs it as the sequence, reversed to
// ascending order.
func (f *Feed) LoadInitial(ctx context.Context) error {
	f.mu.Lock()
	if f.loading || f.closed {
		f.mu.Unlock()
		return nil
	}
	f.loading = true
	f.mu.Unlock()

	page, err := f.fetcher.FetchMessages(ctx, f.roomID, 0, f.size)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
	if f.closed {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load page 0: %w", err)
	}
	f.page = 0
	f.totalPages = page.TotalPages()
	f.messages = f.messages[:0]
	f.ids = make(map[string]struct{})
	for i := len(page.Nodes) - 1; i >= 0; i-- {
		f.appendLocked(page.Nodes[i])
	}
	return nil
}

// LoadOlder fetches the next older page and prepends it, reversed, to the
// front of the sequence. It returns the number of messages prepended so a
// renderer can compensate its scroll anchor. Returns 0 when no older page
// exists or a load is already in flight.
func (f *Feed) LoadOlder(ctx context.Context) (int, error) {
	f.mu.Lock()
	if f.loading || f.closed || f.page >= f.totalPages-1 {
		f.mu.Unlock()
		return 0, nil
	}
	f.loading = true
	next := f.page + 1
	f.mu.Unlock()

	page, err := f.fetcher.FetchMessages(ctx, f.roomID, next, f.size)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
	if f.closed {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load page %d: %w", next, err)
	}
	f.page = next
	f.totalPages = page.TotalPages()

	// reverse to ascending, dropping anything already held: new arrivals
	// shift page boundaries between fetches, so pages can overlap
	older := make([]models.Message, 0, len(page.Nodes))
	for i := len(page.Nodes) - 1; i >= 0; i-- {
		m := page.Nodes[i]
		if _, dup := f.ids[m.ID]; dup {
			continue
		}
		older = append(older, m)
		f.ids[m.ID] = struct{}{}
	}
	f.messages = append(older, f.messages...)
	return len(older), nil
}

// AppendLive appends a message delivered over the live stream. Duplicates
// by id are discarded. Live messages always belong at the end: the server
// publishes in send order per room.
func (f *Feed) AppendLive(msg models.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, dup := f.ids[msg.ID]; dup {
		return false
	}
	f.appendLocked(msg)
	return true
}

func (f *Feed) appendLocked(msg models.Message) {
	if _, dup := f.ids[msg.ID]; dup {
		return
	}
	f.ids[msg.ID] = struct{}{}
	f.messages = append(f.messages, msg)
}
