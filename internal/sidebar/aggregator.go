// Package sidebar computes per-conversation summaries for a viewer.
package sidebar

import (
	"context"
	"fmt"

	"dm-service/internal/models"
)

// Store is the part of the message store the aggregator reads.
type Store interface {
	FindLatest(ctx context.Context, filter models.MessageFilter) (*models.Message, error)
	Count(ctx context.Context, filter models.MessageFilter) (int, error)
}

// Aggregator recomputes sidebar entries from the store on every call.
// Results are never cached.
type Aggregator struct {
	messages Store
}

// NewAggregator builds an Aggregator.
func NewAggregator(messages Store) *Aggregator {
	return &Aggregator{messages: messages}
}

// Entry returns the latest message between viewer and peer, and the number of
// unread messages peer sent to viewer.
func (a *Aggregator) Entry(ctx context.Context, viewerID, peerID int) (models.SidebarEntry, error) {
	last, err := a.LastMessage(ctx, viewerID, peerID)
	if err != nil {
		return models.SidebarEntry{}, err
	}
	unread, err := a.UnreadCount(ctx, viewerID, peerID)
	if err != nil {
		return models.SidebarEntry{}, err
	}
	return models.SidebarEntry{LastMessage: last, UnreadCount: unread}, nil
}

// LastMessage returns the most recent message in either direction, or nil.
func (a *Aggregator) LastMessage(ctx context.Context, viewerID, peerID int) (*models.Message, error) {
	last, err := a.messages.FindLatest(ctx, models.MessageFilter{Conversation: &models.Pair{A: viewerID, B: peerID}})
	if err != nil {
		return nil, fmt.Errorf("find last message: %w", err)
	}
	return last, nil
}

// UnreadCount counts messages from peer to viewer still marked unread.
func (a *Aggregator) UnreadCount(ctx context.Context, viewerID, peerID int) (int, error) {
	n, err := a.messages.Count(ctx, UnreadFilter(viewerID, peerID))
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// UnreadFilter selects the unread messages peer sent to viewer.
func UnreadFilter(viewerID, peerID int) models.MessageFilter {
	return models.MessageFilter{
		SenderID:   peerID,
		ReceiverID: viewerID,
		Unread:     models.Bool(true),
	}
}
