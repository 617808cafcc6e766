package models

import (
	"time"
)

// Room represents a chat room as reported by the server. The ID is
// server-assigned and stable. LastMessage and UnreadCount are optional:
// the room-list endpoints omit them and the client fills them in from the
// live stream.
type Room struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount,omitempty"`
}

// Message represents a chat message. The ID is assigned by the server and is
// globally unique; messages are immutable once created.
type Message struct {
	ID         string    `json:"id"`
	ChatRoomID int       `json:"chatRoomId"`
	Sender     User      `json:"sender"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessagePage is the envelope returned by the paginated message history
// endpoint. Nodes are in descending creation-time order; page 0 is the most
// recent page. TotalCount and Size may change between fetches as new
// messages arrive.
type MessagePage struct {
	Nodes      []Message `json:"nodes"`
	TotalCount int       `json:"totalCount"`
	Size       int       `json:"size"`
}

// RoomList is the envelope returned by the all-rooms endpoint.
type RoomList struct {
	Nodes []Room `json:"nodes"`
}

// OutgoingMessage is the publish payload for sending a chat message.
type OutgoingMessage struct {
	ChatRoomID int    `json:"chatRoomId"`
	Content    string `json:"content"`
}

// TotalPages computes the page count for the collection the page was cut
// from. Returns 0 when the page size is unknown.
func (p MessagePage) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.TotalCount + p.Size - 1) / p.Size
}
