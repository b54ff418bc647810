package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/delivery"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/presence"
	"dm-service/internal/sidebar"
)

type fixture struct {
	store    *mocks.MemoryStore
	registry *presence.Registry
	engine   *Engine
}

func newFixture() fixture {
	store := mocks.NewMemoryStore()
	registry := presence.NewRegistry()
	return fixture{
		store:    store,
		registry: registry,
		engine:   NewEngine(registry, sidebar.NewAggregator(store)),
	}
}

func TestDispatchSendNotices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := mocks.NewRecordingConn("s")
	receiver := mocks.NewRecordingConn("r")
	f.registry.SetOnline(1, sender)
	f.registry.SetOnline(2, receiver)

	msg, err := f.store.Insert(ctx, models.Message{SenderID: 1, ReceiverID: 2, Text: "hi", Status: models.StatusDelivered, Unread: true})
	require.NoError(t, err)

	f.engine.Dispatch(ctx, delivery.SendNotices(msg))

	got := receiver.OfType(models.EventNewMessage)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].Payload.(models.Message).ID)

	recvUpdate := receiver.OfType(models.EventUpdateLastMessage)
	require.Len(t, recvUpdate, 1)
	payload := recvUpdate[0].Payload.(models.LastMessagePayload)
	assert.Equal(t, 1, payload.PeerID)
	assert.Equal(t, 1, payload.UnreadCount)
	assert.Equal(t, msg.ID, payload.Message.ID)

	sendUpdate := sender.OfType(models.EventUpdateLastMessage)
	require.Len(t, sendUpdate, 1)
	payload = sendUpdate[0].Payload.(models.LastMessagePayload)
	assert.Equal(t, 2, payload.PeerID)
	assert.Zero(t, payload.UnreadCount)

	assert.Empty(t, sender.OfType(models.EventNewMessage))
}

func TestDispatchSkipsOfflineUsers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := mocks.NewRecordingConn("s")
	f.registry.SetOnline(1, sender)

	msg, err := f.store.Insert(ctx, models.Message{SenderID: 1, ReceiverID: 2, Status: models.StatusSent, Unread: true})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		f.engine.Dispatch(ctx, delivery.SendNotices(msg))
	})
	assert.Len(t, sender.Events(), 1)
}

func TestDispatchAbsorbsBrokenConnection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	broken := mocks.NewRecordingConn("broken")
	broken.Close()
	f.registry.SetOnline(2, broken)
	other := mocks.NewRecordingConn("ok")
	f.registry.SetOnline(1, other)

	msg, err := f.store.Insert(ctx, models.Message{SenderID: 1, ReceiverID: 2, Status: models.StatusDelivered, Unread: true})
	require.NoError(t, err)

	f.engine.Dispatch(ctx, delivery.SendNotices(msg))
	assert.Len(t, other.OfType(models.EventUpdateLastMessage), 1)
}

func TestDispatchSeenNotices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := mocks.NewRecordingConn("s")
	receiver := mocks.NewRecordingConn("r")
	f.registry.SetOnline(1, sender)
	f.registry.SetOnline(2, receiver)

	msg, err := f.store.Insert(ctx, models.Message{SenderID: 1, ReceiverID: 2, Status: models.StatusDelivered, Unread: true})
	require.NoError(t, err)
	filter, update := delivery.Seen(2, 1)
	changed, err := f.store.UpdateMany(ctx, filter, update)
	require.NoError(t, err)

	f.engine.Dispatch(ctx, delivery.SeenNotices(2, 1, len(changed)))

	seen := sender.OfType(models.EventMessagesSeen)
	require.Len(t, seen, 1)
	payload := seen[0].Payload.(models.MessagesSeenPayload)
	assert.Equal(t, 1, payload.SenderID)
	assert.Equal(t, 2, payload.ReceiverID)
	require.NotNil(t, payload.LastMessage)
	assert.Equal(t, msg.ID, payload.LastMessage.ID)
	assert.Equal(t, models.StatusSeen, payload.LastMessage.Status)

	recv := receiver.OfType(models.EventUpdateLastMessage)
	require.Len(t, recv, 1)
	assert.Zero(t, recv[0].Payload.(models.LastMessagePayload).UnreadCount)
}

func TestBroadcastStatusReachesEveryone(t *testing.T) {
	f := newFixture()
	a := mocks.NewRecordingConn("a")
	b := mocks.NewRecordingConn("b")
	f.registry.SetOnline(1, a)
	f.registry.SetOnline(2, b)

	f.engine.BroadcastStatus(models.User{ID: 3, FullName: "Carol", IsOnline: true})

	for _, conn := range []*mocks.RecordingConn{a, b} {
		events := conn.OfType(models.EventUserStatusChanged)
		require.Len(t, events, 1)
		payload := events[0].Payload.(models.UserStatusPayload)
		assert.Equal(t, 3, payload.ID)
		assert.True(t, payload.IsOnline)
		assert.Equal(t, "Carol", payload.FullName)
	}
}
