package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/presence"
)

func lastStatus(t *testing.T, conn *mocks.RecordingConn, userID int) models.UserStatusPayload {
	t.Helper()
	var found *models.UserStatusPayload
	for _, ev := range conn.OfType(models.EventUserStatusChanged) {
		p := ev.Payload.(models.UserStatusPayload)
		if p.ID == userID {
			found = &p
		}
	}
	require.NotNil(t, found, "no status event for user %d", userID)
	return *found
}

func TestConnectSweepFailureLeavesUserOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	observer := h.connect(t, carol)

	_, err := h.svc.Send(ctx, alice, bob, SendInput{Text: "waiting"})
	require.NoError(t, err)

	h.store.FailUpdate = errors.New("db down")
	bobConn := mocks.NewRecordingConn("bob-failed")
	require.Error(t, h.svc.Connect(ctx, bob, bobConn))

	assert.False(t, h.registry.IsOnline(bob))
	user, err := h.store.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.False(t, user.IsOnline)
	assert.NotNil(t, user.LastSeen)
	assert.False(t, lastStatus(t, observer, bob).IsOnline)

	h.store.FailUpdate = nil
	msg, err := h.svc.Send(ctx, alice, bob, SendInput{Text: "after"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Empty(t, bobConn.OfType(models.EventNewMessage))
}

// gatedUsers holds the first offline presence write until release is closed.
type gatedUsers struct {
	*mocks.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedUsers) SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) (models.User, error) {
	if !online {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.MemoryStore.SetPresence(ctx, userID, online, lastSeen)
}

func TestReconnectDuringDisconnectEndsOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	users := &gatedUsers{MemoryStore: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	registry := presence.NewRegistry()
	svc := NewService(h.store, users, registry, h.uploader)

	observer := mocks.NewRecordingConn("carol")
	require.NoError(t, svc.Connect(ctx, carol, observer))
	first := mocks.NewRecordingConn("bob-1")
	require.NoError(t, svc.Connect(ctx, bob, first))

	disconnected := make(chan error, 1)
	go func() { disconnected <- svc.Disconnect(ctx, bob, first) }()
	select {
	case <-users.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect did not reach the presence write")
	}

	second := mocks.NewRecordingConn("bob-2")
	connected := make(chan error, 1)
	go func() { connected <- svc.Connect(ctx, bob, second) }()

	select {
	case <-connected:
		t.Fatal("connect completed while the disconnect was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(users.release)
	require.NoError(t, <-disconnected)
	require.NoError(t, <-connected)

	conn, ok := registry.Connection(bob)
	require.True(t, ok)
	assert.Equal(t, "bob-2", conn.ID())

	user, err := h.store.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.True(t, user.IsOnline)
	assert.True(t, lastStatus(t, observer, bob).IsOnline)
	assert.Zero(t, svc.presence.len())
}

// connectingStore registers the receiver right after the first insert, as
// if their connect and sweep finished while the message was being written.
type connectingStore struct {
	*mocks.MemoryStore
	once     sync.Once
	onInsert func()
}

func (s *connectingStore) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	stored, err := s.MemoryStore.Insert(ctx, msg)
	if err == nil {
		s.once.Do(s.onInsert)
	}
	return stored, err
}

func TestSendDeliversWhenReceiverConnectsDuringInsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bobConn := mocks.NewRecordingConn("bob")
	messages := &connectingStore{MemoryStore: h.store, onInsert: func() {
		h.registry.SetOnline(bob, bobConn)
	}}
	svc := NewService(messages, h.store, h.registry, h.uploader)

	aliceConn := mocks.NewRecordingConn("alice")
	require.NoError(t, svc.Connect(ctx, alice, aliceConn))
	aliceConn.Reset()

	msg, err := svc.Send(ctx, alice, bob, SendInput{Text: "racing"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, msg.Status)

	stored, ok := h.store.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusDelivered, stored.Status)

	delivered := aliceConn.OfType(models.EventMessageDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, msg.ID, delivered[0].Payload.(models.MessageDeliveredPayload).MessageID)
	require.Len(t, bobConn.OfType(models.EventNewMessage), 1)
}

func TestUserLocksSerializePerUser(t *testing.T) {
	locks := newUserLocks()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Zero(t, locks.len())

	unlockA := locks.lock(1)
	unlockB := locks.lock(2)
	assert.Equal(t, 2, locks.len())
	unlockA()
	unlockB()
	assert.Zero(t, locks.len())
}
