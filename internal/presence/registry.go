// Package presence tracks which users currently hold a live connection.
package presence

import (
	"sync"

	"dm-service/internal/models"
)

// Conn is a live client connection that events can be pushed to.
type Conn interface {
	ID() string
	Send(event models.Event) error
}

// Registry maps a user to their one active connection. The last connection
// registered for a user wins.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]Conn)}
}

// SetOnline maps userID to conn, returning the connection it replaced, if any.
func (r *Registry) SetOnline(userID int, conn Conn) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[userID]
	r.conns[userID] = conn
	return prev, ok
}

// Connection returns the active connection for userID.
func (r *Registry) Connection(userID int) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// IsOnline reports whether userID has an active connection.
func (r *Registry) IsOnline(userID int) bool {
	_, ok := r.Connection(userID)
	return ok
}

// RemoveOnline drops the mapping for userID only if conn is still the
// registered connection. It reports whether the entry was removed; false means
// a newer connection superseded conn.
func (r *Registry) RemoveOnline(userID int, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Snapshot returns every active connection keyed by user.
func (r *Registry) Snapshot() map[int]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
