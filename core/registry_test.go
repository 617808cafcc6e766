package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdchat/thirdchat-go/models"
)

func deliverMessage(t *testing.T, tr *fakeTransport, roomID int, msg models.Message) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	tr.deliver(RoomDestination(roomID), body)
}

func TestSingleSubscriptionPerRoom(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	r := NewRegistry(testLogger())
	r.bind(tr)

	r.AddListener(1, "a", discardHandler)
	r.AddListener(1, "b", discardHandler)
	r.AddListener(1, "c", discardHandler)
	assert.Equal(t, 1, tr.subscribeCount(RoomDestination(1)))

	r.RemoveListener(1, "a")
	r.RemoveListener(1, "b")
	assert.Equal(t, 0, tr.unsubscribeCount(RoomDestination(1)))

	r.RemoveListener(1, "c")
	assert.Equal(t, 1, tr.unsubscribeCount(RoomDestination(1)))
	assert.Empty(t, r.Rooms())
}

func TestAddListenerIsIdempotentByKey(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	r := NewRegistry(testLogger())
	r.bind(tr)

	var delivered int
	r.AddListener(1, "same", func(models.Message) { delivered++ })
	r.AddListener(1, "same", func(models.Message) { delivered++ })

	deliverMessage(t, tr, 1, models.Message{ID: "m1", ChatRoomID: 1})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, tr.subscribeCount(RoomDestination(1)))
}

func TestDispatchInRegistrationOrder(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	r := NewRegistry(testLogger())
	r.bind(tr)

	var order []string
	r.AddListener(1, "first", func(models.Message) { order = append(order, "first") })
	r.AddListener(1, "second", func(models.Message) { order = append(order, "second") })
	r.AddListener(1, "third", func(models.Message) { order = append(order, "third") })

	deliverMessage(t, tr, 1, models.Message{ID: "m1", ChatRoomID: 1})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestParseFailureIsContained(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	r := NewRegistry(testLogger())
	r.bind(tr)

	var room1, room2 int
	r.AddListener(1, "a", func(models.Message) { room1++ })
	r.AddListener(2, "b", func(models.Message) { room2++ })

	tr.deliver(RoomDestination(1), []byte("{not json"))
	deliverMessage(t, tr, 2, models.Message{ID: "m1", ChatRoomID: 2})

	assert.Equal(t, 0, room1)
	assert.Equal(t, 1, room2)
}

func TestRemoveAllListenersForcesUnsubscribe(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	r := NewRegistry(testLogger())
	r.bind(tr)

	r.AddListener(1, "a", discardHandler)
	r.AddListener(1, "b", discardHandler)

	r.RemoveAllListeners(1)
	assert.Equal(t, 1, tr.unsubscribeCount(RoomDestination(1)))
	assert.Empty(t, r.Rooms())
}

func TestListenBeforeConnectionRecordsIntent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testLogger())

	// no connection yet: recorded, not failed
	r.AddListener(7, "a", discardHandler)
	assert.Equal(t, []int{7}, r.Rooms())

	tr := newFakeTransport()
	r.bind(tr)
	assert.Equal(t, 1, tr.subscribeCount(RoomDestination(7)))
}

func TestUnbindKeepsIntent(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	r := NewRegistry(testLogger())
	r.bind(tr)
	r.AddListener(3, "a", discardHandler)

	r.unbind()
	assert.Equal(t, []int{3}, r.Rooms())

	next := newFakeTransport()
	r.bind(next)
	assert.Equal(t, 1, next.subscribeCount(RoomDestination(3)))
}

func TestPublishing(t *testing.T) {
	t.Parallel()
	t.Run("send message", func(t *testing.T) {
		tr := newFakeTransport()
		r := NewRegistry(testLogger())
		r.bind(tr)

		require.NoError(t, r.SendMessage(4, "hello"))
		require.Len(t, tr.published, 1)
		assert.Equal(t, SendDestination, tr.published[0].destination)
		assert.JSONEq(t, `{"chatRoomId":4,"content":"hello"}`, string(tr.published[0].body))
	})

	t.Run("join and leave notices", func(t *testing.T) {
		tr := newFakeTransport()
		r := NewRegistry(testLogger())
		r.bind(tr)

		require.NoError(t, r.SendJoin(4))
		require.NoError(t, r.SendLeave(4))
		require.Len(t, tr.published, 2)
		assert.Equal(t, "/pub/chat/join/4", tr.published[0].destination)
		assert.Equal(t, "/pub/chat/leave/4", tr.published[1].destination)
	})

	t.Run("publish without connection fails", func(t *testing.T) {
		r := NewRegistry(testLogger())
		assert.ErrorIs(t, r.SendMessage(4, "hello"), ErrNotConnected)
	})
}

func TestDestinations(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/sub/chat/room/12", RoomDestination(12))
	assert.Equal(t, "/pub/chat/join/12", JoinDestination(12))
	assert.Equal(t, "/pub/chat/leave/12", LeaveDestination(12))
	assert.Equal(t, "/pub/chat/send", SendDestination)
}
