// Package fanout pushes state changes to the live connections that need them.
package fanout

import (
	"context"
	"log/slog"

	"dm-service/internal/delivery"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
)

// Connections resolves users to live connections.
type Connections interface {
	Connection(userID int) (presence.Conn, bool)
	Snapshot() map[int]presence.Conn
}

// Summaries computes viewer-specific sidebar data.
type Summaries interface {
	Entry(ctx context.Context, viewerID, peerID int) (models.SidebarEntry, error)
	LastMessage(ctx context.Context, viewerID, peerID int) (*models.Message, error)
}

// Engine turns delivery notices into websocket events. Pushes are best
// effort: a missing or failing connection is logged and skipped, never
// reported to the caller.
type Engine struct {
	conns     Connections
	summaries Summaries
}

// NewEngine builds an Engine.
func NewEngine(conns Connections, summaries Summaries) *Engine {
	return &Engine{conns: conns, summaries: summaries}
}

// Dispatch delivers notices in order. Callers must have committed every store
// write the notices describe.
func (e *Engine) Dispatch(ctx context.Context, notices []delivery.Notice) {
	for _, n := range notices {
		conn, ok := e.conns.Connection(n.To)
		if !ok {
			observability.IncFanout(string(n.Kind), "offline")
			continue
		}

		event, ok := e.build(ctx, n)
		if !ok {
			observability.IncFanout(string(n.Kind), "failed")
			continue
		}
		e.push(conn, n.To, event)
	}
}

// BroadcastStatus tells every connected client about a presence change.
func (e *Engine) BroadcastStatus(user models.User) {
	event := models.Event{
		Type: models.EventUserStatusChanged,
		Payload: models.UserStatusPayload{
			ID:         user.ID,
			FullName:   user.FullName,
			ProfilePic: user.ProfilePic,
			IsOnline:   user.IsOnline,
			LastSeen:   user.LastSeen,
		},
	}
	for userID, conn := range e.conns.Snapshot() {
		e.push(conn, userID, event)
	}
}

func (e *Engine) build(ctx context.Context, n delivery.Notice) (models.Event, bool) {
	switch n.Kind {
	case delivery.KindNewMessage:
		if n.Message == nil {
			return models.Event{}, false
		}
		return models.Event{Type: models.EventNewMessage, Payload: *n.Message}, true

	case delivery.KindMessageDelivered:
		if n.Message == nil {
			return models.Event{}, false
		}
		return models.Event{
			Type:    models.EventMessageDelivered,
			Payload: models.MessageDeliveredPayload{MessageID: n.Message.ID},
		}, true

	case delivery.KindUpdateLastMessage:
		entry, err := e.summaries.Entry(ctx, n.To, n.Peer)
		if err != nil {
			slog.Warn("fanout: sidebar entry", "user_id", n.To, "peer_id", n.Peer, "err", err)
			return models.Event{}, false
		}
		return models.Event{
			Type: models.EventUpdateLastMessage,
			Payload: models.LastMessagePayload{
				PeerID:      n.Peer,
				Message:     entry.LastMessage,
				UnreadCount: entry.UnreadCount,
			},
		}, true

	case delivery.KindMessagesSeen:
		last, err := e.summaries.LastMessage(ctx, n.To, n.Peer)
		if err != nil {
			slog.Warn("fanout: last message", "user_id", n.To, "peer_id", n.Peer, "err", err)
			return models.Event{}, false
		}
		return models.Event{
			Type: models.EventMessagesSeen,
			Payload: models.MessagesSeenPayload{
				SenderID:    n.To,
				ReceiverID:  n.Peer,
				LastMessage: last,
			},
		}, true
	}

	slog.Warn("fanout: unknown notice", "kind", n.Kind)
	return models.Event{}, false
}

func (e *Engine) push(conn presence.Conn, userID int, event models.Event) {
	if err := conn.Send(event); err != nil {
		slog.Debug("fanout: push failed", "user_id", userID, "conn_id", conn.ID(), "event", event.Type, "err", err)
		observability.IncFanout(event.Type, "failed")
		return
	}
	observability.IncFanout(event.Type, "sent")
}
