package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dm-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

var (
	ErrClientClosed = errors.New("websocket client closed")
	ErrSlowClient   = errors.New("websocket send buffer full")
)

// Client is one live websocket connection. Events are queued and written by
// a single writer goroutine; a full queue drops the event.
type Client struct {
	info ConnInfo
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		info: info,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID identifies the connection.
func (c *Client) ID() string {
	return c.info.ConnID
}

// Send queues event for delivery without blocking.
func (c *Client) Send(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowClient
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("websocket write error", "conn_id", c.info.ConnID, "user_id", c.info.UserID, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// inbound is a client-to-server event.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readPump reads client events until the socket fails, calling handle for
// each well-formed one. It returns the error that ended the loop.
func (c *Client) readPump(handle func(inbound)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("websocket: malformed client event", "conn_id", c.info.ConnID, "err", err)
			continue
		}
		handle(ev)
	}
}
