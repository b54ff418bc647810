package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
	"dm-service/internal/presence"
)

type tokens map[string]int

func (t tokens) ValidateToken(token string) (int, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid token")
}

type fakeSessions struct {
	mu          sync.Mutex
	connectErr  error
	conns       map[int]presence.Conn
	seen        []models.MarkSeenRequest
	viewers     []int
	disconnects chan int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{conns: map[int]presence.Conn{}, disconnects: make(chan int, 4)}
}

func (f *fakeSessions) Connect(_ context.Context, userID int, conn presence.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.conns[userID] = conn
	return nil
}

func (f *fakeSessions) Disconnect(_ context.Context, userID int, _ presence.Conn) error {
	f.disconnects <- userID
	return nil
}

func (f *fakeSessions) MarkSeen(_ context.Context, viewerID int, req models.MarkSeenRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewers = append(f.viewers, viewerID)
	f.seen = append(f.seen, req)
	return 1, nil
}

func (f *fakeSessions) conn(userID int) presence.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[userID]
}

func (f *fakeSessions) seenCalls() ([]int, []models.MarkSeenRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.viewers...), append([]models.MarkSeenRequest(nil), f.seen...)
}

func newTestServer(t *testing.T, sessions Sessions, origins []string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", NewHandler(sessions, tokens{"alice": 1, "bob": 2}, origins).Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func TestHandshakeRejectsMissingOrBadToken(t *testing.T) {
	srv := newTestServer(t, newFakeSessions(), nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?token=mallory"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerHeaderAuthenticates(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, sessions, nil)

	header := http.Header{"Authorization": []string{"Bearer bob"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return sessions.conn(2) != nil }, time.Second, 10*time.Millisecond)
}

func TestServerEventsReachClient(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, sessions, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return sessions.conn(1) != nil }, time.Second, 10*time.Millisecond)
	server := sessions.conn(1)
	require.NotEmpty(t, server.ID())

	require.NoError(t, server.Send(models.Event{Type: models.EventMessageDelivered, Payload: models.MessageDeliveredPayload{MessageID: 9}}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type    string `json:"type"`
		Payload struct {
			MessageID int `json:"message_id"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.EventMessageDelivered, got.Type)
	assert.Equal(t, 9, got.Payload.MessageID)
}

func TestMarkSeenEventUsesConnectionIdentity(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, sessions, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=bob"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg, err := json.Marshal(map[string]any{
		"type":    models.EventMarkMessagesAsSeen,
		"payload": map[string]int{"sender_id": 1, "receiver_id": 2},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	require.Eventually(t, func() bool {
		viewers, _ := sessions.seenCalls()
		return len(viewers) == 1
	}, time.Second, 10*time.Millisecond)

	viewers, reqs := sessions.seenCalls()
	assert.Equal(t, []int{2}, viewers)
	assert.Equal(t, models.MarkSeenRequest{SenderID: 1, ReceiverID: 2}, reqs[0])
}

func TestCloseTriggersDisconnect(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, sessions, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=alice"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sessions.conn(1) != nil }, time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	select {
	case id := <-sessions.disconnects:
		assert.Equal(t, 1, id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}

	assert.ErrorIs(t, sessions.conn(1).Send(models.Event{Type: "x"}), ErrClientClosed)
}

func TestConnectFailureClosesSocket(t *testing.T) {
	sessions := newFakeSessions()
	sessions.connectErr = errors.New("db down")
	srv := newTestServer(t, sessions, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Empty(t, sessions.disconnects)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}
