package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thirdchat/thirdchat-go/models"
)

// MessageHandler receives messages routed to a room a listener registered
// interest in.
type MessageHandler func(msg models.Message)

type listenerEntry struct {
	key     string
	handler MessageHandler
}

// roomSub tracks one room's fan-out set and its transport-level
// subscription. sub is nil while the subscription is pending, i.e. the
// connection is down.
type roomSub struct {
	listeners []listenerEntry
	sub       Subscription
}

// Registry maps room ids to transport subscriptions and fans inbound
// messages out to local listeners. A room holds at most one transport-level
// subscription no matter how many listeners share it. Listeners registered
// while disconnected are recorded as intent and subscribed when the
// supervisor binds a live transport.
type Registry struct {
	mu        sync.Mutex
	transport Transport
	rooms     map[int]*roomSub
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[int]*roomSub),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// AddListener attaches handler to roomID's fan-out set. key identifies the
// listener for dedup and removal; adding the same key twice replaces the
// handler instead of doubling delivery. The first listener of a room
// triggers the transport subscribe when connected; otherwise the room is
// recorded as pending intent.
func (r *Registry) AddListener(roomID int, key string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomSub{}
		r.rooms[roomID] = room
	}
	for i := range room.listeners {
		if room.listeners[i].key == key {
			room.listeners[i].handler = handler
			return
		}
	}
	room.listeners = append(room.listeners, listenerEntry{key: key, handler: handler})

	if r.transport != nil && room.sub == nil {
		r.subscribeLocked(roomID, room)
	}
}

// RemoveListener detaches the listener identified by key. When the fan-out
// set empties, the transport subscription is released and the room
// forgotten.
func (r *Registry) RemoveListener(roomID int, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	for i := range room.listeners {
		if room.listeners[i].key == key {
			room.listeners = append(room.listeners[:i], room.listeners[i+1:]...)
			break
		}
	}
	if len(room.listeners) == 0 {
		r.dropRoomLocked(roomID, room)
	}
}

// RemoveAllListeners force-releases roomID's subscription regardless of how
// many listeners remain. Used when a dedicated view takes over a room from
// background mode.
func (r *Registry) RemoveAllListeners(roomID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	r.dropRoomLocked(roomID, room)
}

// Rooms returns the ids of all rooms with registered listeners.
func (r *Registry) Rooms() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// SendMessage publishes a chat message to roomID.
func (r *Registry) SendMessage(roomID int, content string) error {
	body, err := json.Marshal(models.OutgoingMessage{ChatRoomID: roomID, Content: content})
	if err != nil {
		return fmt.Errorf("marshal outgoing message: %w", err)
	}
	return r.publish(SendDestination, body)
}

// SendJoin publishes a join presence notification for roomID.
func (r *Registry) SendJoin(roomID int) error {
	return r.publish(JoinDestination(roomID), []byte("{}"))
}

// SendLeave publishes a leave presence notification for roomID.
func (r *Registry) SendLeave(roomID int) error {
	return r.publish(LeaveDestination(roomID), []byte("{}"))
}

func (r *Registry) publish(destination string, body []byte) error {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Publish(destination, body)
}

// bind attaches a live transport and subscribes every room with recorded
// intent, once each. Called by the supervisor on reaching connected.
func (r *Registry) bind(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = t
	for roomID, room := range r.rooms {
		if room.sub == nil && len(room.listeners) > 0 {
			r.subscribeLocked(roomID, room)
		}
	}
}

// unbind drops the dead transport but keeps listener sets as pending
// intent for the next bind. Called by the supervisor on connection loss.
func (r *Registry) unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = nil
	for _, room := range r.rooms {
		// handles died with the connection; nothing to release
		room.sub = nil
	}
}

// teardown releases every subscription and forgets all listeners. Called by
// the supervisor on explicit disconnect.
func (r *Registry) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, room := range r.rooms {
		if room.sub != nil {
			if err := room.sub.Unsubscribe(); err != nil {
				r.logger.Debug(fmt.Sprintf("unsubscribe room %d: %v", roomID, err))
			}
		}
	}
	r.rooms = make(map[int]*roomSub)
	r.transport = nil
}

func (r *Registry) subscribeLocked(roomID int, room *roomSub) {
	sub, err := r.transport.Subscribe(RoomDestination(roomID), func(body []byte) {
		r.dispatch(roomID, body)
	})
	if err != nil {
		// stays pending; the next bind retries
		r.logger.Error(fmt.Sprintf("subscribe room %d: %v", roomID, err))
		return
	}
	room.sub = sub
}

func (r *Registry) dropRoomLocked(roomID int, room *roomSub) {
	if room.sub != nil {
		if err := room.sub.Unsubscribe(); err != nil {
			r.logger.Debug(fmt.Sprintf("unsubscribe room %d: %v", roomID, err))
		}
	}
	delete(r.rooms, roomID)
}

// dispatch parses an inbound frame body once and delivers it to every
// listener of the room in registration order. A parse failure is logged and
// swallowed so one malformed frame cannot take down dispatch for other
// rooms or handlers.
func (r *Registry) dispatch(roomID int, body []byte) {
	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		r.logger.Error(fmt.Sprintf("parse message for room %d: %v", roomID, err))
		return
	}

	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	handlers := make([]MessageHandler, len(room.listeners))
	for i, l := range room.listeners {
		handlers[i] = l.handler
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
