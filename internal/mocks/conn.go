package mocks

import (
	"errors"
	"sync"

	"dm-service/internal/models"
)

// ErrConnClosed is returned by a RecordingConn after Close.
var ErrConnClosed = errors.New("connection closed")

// RecordingConn is a presence.Conn that keeps every event pushed to it.
type RecordingConn struct {
	id     string
	mu     sync.Mutex
	events []models.Event
	closed bool
}

func NewRecordingConn(id string) *RecordingConn {
	return &RecordingConn{id: id}
}

func (c *RecordingConn) ID() string { return c.id }

func (c *RecordingConn) Send(event models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.events = append(c.events, event)
	return nil
}

func (c *RecordingConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Events returns a copy of the pushed events.
func (c *RecordingConn) Events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns pushed events with the given type.
func (c *RecordingConn) OfType(eventType string) []models.Event {
	var out []models.Event
	for _, e := range c.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
