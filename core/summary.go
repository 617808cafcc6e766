package core

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/thirdchat/thirdchat-go/models"
)

type summaryEntry struct {
	room models.Room
	// fetchOrder is the room's position in the last Replace payload; it
	// breaks ordering ties stably.
	fetchOrder int
}

// SummaryStore maintains the ordered room list with last-message and unread
// annotations. Mutations are atomic with respect to each other, so a
// room-list refetch landing while live messages stream in commutes
// correctly. Unread counts are client-session-only: the server reports no
// unread field, so they start at zero each session.
type SummaryStore struct {
	mu          sync.Mutex
	entries     []*summaryEntry
	byID        map[int]*summaryEntry
	localUserID int
	onChange    func()
	logger      *slog.Logger
}

func NewSummaryStore(localUserID int, logger *slog.Logger) *SummaryStore {
	return &SummaryStore{
		byID:        make(map[int]*summaryEntry),
		localUserID: localUserID,
		logger:      logger.With(slog.String("component", "summary")),
	}
}

// OnChange registers f to run after every mutation that changed state.
func (s *SummaryStore) OnChange(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = f
}

// Rooms returns the current ordered snapshot.
func (s *SummaryStore) Rooms() []models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]models.Room, len(s.entries))
	for i, e := range s.entries {
		rooms[i] = e.room
	}
	return rooms
}

// ApplyIncomingMessage folds one live message into the room list: updates
// the room's last message, bumps its unread count unless the sender is the
// local user, and re-sorts. Applying the same message id twice is a
// complete no-op, which makes duplicate delivery harmless.
func (s *SummaryStore) ApplyIncomingMessage(msg models.Message) {
	s.mu.Lock()
	e, ok := s.byID[msg.ChatRoomID]
	if !ok {
		// room not in the list yet; the next refetch will pick it up
		s.mu.Unlock()
		s.logger.Debug("message for unknown room", slog.Int("room", msg.ChatRoomID))
		return
	}
	if e.room.LastMessage != nil && e.room.LastMessage.ID == msg.ID {
		s.mu.Unlock()
		return
	}
	m := msg
	e.room.LastMessage = &m
	if msg.Sender.ID != s.localUserID {
		e.room.UnreadCount++
	}
	s.sortLocked()
	onChange := s.onChange
	s.mu.Unlock()
	if onChange != nil {
		onChange()
	}
}

// MarkRead zeroes the room's unread count. Ordering is untouched.
func (s *SummaryStore) MarkRead(roomID int) {
	s.mu.Lock()
	e, ok := s.byID[roomID]
	if !ok || e.room.UnreadCount == 0 {
		s.mu.Unlock()
		return
	}
	e.room.UnreadCount = 0
	onChange := s.onChange
	s.mu.Unlock()
	if onChange != nil {
		onChange()
	}
}

// Replace installs a freshly fetched room list wholesale. A room whose
// locally-held last message is newer than the fetched one keeps its local
// last message and unread count, so a refetch racing a live update cannot
// roll the list backwards.
func (s *SummaryStore) Replace(rooms []models.Room) {
	s.mu.Lock()
	old := s.byID
	s.entries = make([]*summaryEntry, 0, len(rooms))
	s.byID = make(map[int]*summaryEntry, len(rooms))
	for i, room := range rooms {
		e := &summaryEntry{room: room, fetchOrder: i}
		if prev, ok := old[room.ID]; ok && newerLast(prev.room, room) {
			e.room.LastMessage = prev.room.LastMessage
			e.room.UnreadCount = prev.room.UnreadCount
		}
		s.entries = append(s.entries, e)
		s.byID[room.ID] = e
	}
	s.sortLocked()
	onChange := s.onChange
	s.mu.Unlock()
	if onChange != nil {
		onChange()
	}
}

// newerLast reports whether a's last message is strictly newer than b's.
func newerLast(a, b models.Room) bool {
	if a.LastMessage == nil {
		return false
	}
	if b.LastMessage == nil {
		return true
	}
	return a.LastMessage.CreatedAt.After(b.LastMessage.CreatedAt)
}

// sortLocked orders rooms by last-message creation time descending; rooms
// without a last message sink to the bottom, stable among themselves.
func (s *SummaryStore) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		switch {
		case a.room.LastMessage == nil && b.room.LastMessage == nil:
			return a.fetchOrder < b.fetchOrder
		case a.room.LastMessage == nil:
			return false
		case b.room.LastMessage == nil:
			return true
		default:
			return a.room.LastMessage.CreatedAt.After(b.room.LastMessage.CreatedAt)
		}
	})
}
