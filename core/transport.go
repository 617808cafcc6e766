package core

import (
	"context"
	"fmt"
)

// Transport is the capability surface the core consumes from the realtime
// channel: one logical duplex connection carrying any number of
// destination subscriptions. pkg/stomp provides the production
// implementation; tests substitute fakes.
type Transport interface {
	// Subscribe registers handler for inbound payloads on destination.
	// Handlers for one destination are invoked sequentially in arrival
	// order.
	Subscribe(destination string, handler func(body []byte)) (Subscription, error)
	// Publish sends body to destination.
	Publish(destination string, body []byte) error
	// Disconnect closes the connection. Safe to call more than once.
	Disconnect() error
	// OnClose registers f to run once when the connection dies, with the
	// cause (nil for a locally initiated close).
	OnClose(f func(error))
}

// Subscription is a live transport-level subscription handle.
type Subscription interface {
	Unsubscribe() error
}

// Dialer establishes a fresh Transport. The supervisor owns when it is
// called; implementations map credential rejection to ErrAuthExpired.
type Dialer func(ctx context.Context) (Transport, error)

// Wire destinations of the chat server. These strings are the protocol
// contract and must not change.
const (
	SendDestination = "/pub/chat/send"
)

func RoomDestination(roomID int) string {
	return fmt.Sprintf("/sub/chat/room/%d", roomID)
}

func JoinDestination(roomID int) string {
	return fmt.Sprintf("/pub/chat/join/%d", roomID)
}

func LeaveDestination(roomID int) string {
	return fmt.Sprintf("/pub/chat/leave/%d", roomID)
}
