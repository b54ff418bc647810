// Package messaging runs the direct-message actions: each action computes its
// transition, commits it to the store, and only then fans out notifications.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dm-service/internal/delivery"
	"dm-service/internal/fanout"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/repositories"
	"dm-service/internal/sidebar"
)

// PageSize is the number of messages in one history page.
const PageSize = 30

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrUpload         = errors.New("image upload failed")
	ErrForbidden      = errors.New("forbidden")
)

// Uploader stores raw image data and returns a permanent URL.
type Uploader interface {
	Upload(ctx context.Context, raw string) (string, error)
}

// SendInput is the client-supplied part of a new message.
type SendInput struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Service owns the delivery lifecycle of direct messages.
type Service struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	registry *presence.Registry
	sidebar  *sidebar.Aggregator
	fanout   *fanout.Engine
	uploader Uploader
	presence *userLocks
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService wires the service. uploader may be nil, in which case image
// messages are rejected.
func NewService(messages repositories.MessageRepository, users repositories.UserRepository, registry *presence.Registry, uploader Uploader) *Service {
	agg := sidebar.NewAggregator(messages)
	return &Service{
		messages: messages,
		users:    users,
		registry: registry,
		sidebar:  agg,
		fanout:   fanout.NewEngine(registry, agg),
		uploader: uploader,
		presence: newUserLocks(),
		tracer:   observability.Tracer("dm-service/messaging"),
		now:      time.Now,
	}
}

// Send creates a message from sender to receiver and notifies both parties.
func (s *Service) Send(ctx context.Context, senderID, receiverID int, in SendInput) (models.Message, error) {
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "messaging.Send", trace.WithAttributes(
		attribute.Int("sender_id", senderID),
		attribute.Int("receiver_id", receiverID),
	))
	defer span.End()

	if strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.Image) == "" {
		return models.Message{}, fail(span, fmt.Errorf("%w: text or image is required", ErrInvalidMessage))
	}
	if senderID == receiverID {
		return models.Message{}, fail(span, fmt.Errorf("%w: cannot message yourself", ErrInvalidMessage))
	}
	if err := s.requirePeer(ctx, receiverID); err != nil {
		return models.Message{}, fail(span, err)
	}

	var imageURL string
	if in.Image != "" {
		if s.uploader == nil {
			return models.Message{}, fail(span, fmt.Errorf("%w: uploads are not configured", ErrUpload))
		}
		url, err := s.uploader.Upload(ctx, in.Image)
		if err != nil {
			return models.Message{}, fail(span, fmt.Errorf("%w: %w", ErrUpload, err))
		}
		imageURL = url
	}

	msg := delivery.Create(senderID, receiverID, in.Text, imageURL, s.registry.IsOnline(receiverID))
	stored, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return models.Message{}, fail(span, fmt.Errorf("store message: %w", err))
	}
	observability.IncMessageCreated(string(stored.Status))
	span.SetAttributes(attribute.Int("message_id", stored.ID), attribute.String("status", string(stored.Status)))

	s.fanout.Dispatch(ctx, delivery.SendNotices(stored))
	s.publish(ctx, "message_sent", stored)

	// The receiver may have connected, and swept, between the presence check
	// and the insert. Sweep again so the message does not sit at sent.
	if stored.Status == models.StatusSent && s.registry.IsOnline(receiverID) {
		swept, err := s.sweep(ctx, receiverID)
		if err != nil {
			slog.Warn("post-send sweep failed", "receiver_id", receiverID, "err", err)
		}
		for _, m := range swept {
			if m.ID == stored.ID {
				stored = m
			}
		}
	}

	return stored, nil
}

// History returns one page of the conversation between viewer and peer,
// oldest first. A nil before starts from the newest message; a full page
// carries the cursor of its oldest message for the next request.
func (s *Service) History(ctx context.Context, viewerID, peerID int, before *models.Cursor) (models.MessagePage, error) {
	if err := s.requirePeer(ctx, peerID); err != nil {
		return models.MessagePage{}, err
	}

	page, err := s.messages.Find(ctx, models.MessageFilter{
		Conversation: &models.Pair{A: viewerID, B: peerID},
		Before:       before,
	}, PageSize)
	if err != nil {
		return models.MessagePage{}, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]models.Message, len(page))
	for i, m := range page {
		msgs[len(page)-1-i] = m
	}
	out := models.MessagePage{Messages: msgs, HasMore: len(page) == PageSize}
	if out.HasMore {
		out.NextCursor = models.CursorOf(msgs[0])
	}
	return out, nil
}

// Sidebar lists every other user with the viewer's entry for that conversation.
func (s *Service) Sidebar(ctx context.Context, viewerID int) ([]models.SidebarUser, error) {
	users, err := s.users.ListUsersExcept(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]models.SidebarUser, 0, len(users))
	for _, u := range users {
		entry, err := s.sidebar.Entry(ctx, viewerID, u.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.SidebarUser{User: u, SidebarEntry: entry})
	}
	return out, nil
}

// MarkSeen marks every message from sender to receiver as seen. Only the
// receiver may do so. It returns the number of messages that changed.
func (s *Service) MarkSeen(ctx context.Context, viewerID int, req models.MarkSeenRequest) (int, error) {
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "messaging.MarkSeen", trace.WithAttributes(
		attribute.Int("sender_id", req.SenderID),
		attribute.Int("receiver_id", req.ReceiverID),
	))
	defer span.End()

	if req.ReceiverID != viewerID {
		return 0, fail(span, fmt.Errorf("%w: only the receiver can mark messages as seen", ErrForbidden))
	}

	filter, update := delivery.Seen(viewerID, req.SenderID)
	changed, err := s.messages.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fail(span, fmt.Errorf("mark seen: %w", err))
	}
	observability.AddStatusTransitions(string(models.StatusSeen), len(changed))
	span.SetAttributes(attribute.Int("changed", len(changed)))

	s.fanout.Dispatch(ctx, delivery.SeenNotices(viewerID, req.SenderID, len(changed)))
	if len(changed) > 0 {
		s.publish(ctx, "messages_seen", map[string]any{
			"sender_id":   req.SenderID,
			"receiver_id": req.ReceiverID,
			"message_ids": messageIDs(changed),
		})
	}
	return len(changed), nil
}

// Connect registers conn as userID's live connection, announces the user as
// online, and delivers everything that was waiting for them. On error the
// user is left offline and conn is not registered.
//
// Connect and Disconnect for one user are serialized, so the stored and
// broadcast presence always follows the registry.
func (s *Service) Connect(ctx context.Context, userID int, conn presence.Conn) error {
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "messaging.Connect", trace.WithAttributes(attribute.Int("user_id", userID)))
	defer span.End()

	unlock := s.presence.lock(userID)
	defer unlock()

	if prev, replaced := s.registry.SetOnline(userID, conn); replaced {
		slog.Info("connection superseded", "user_id", userID, "old_conn_id", prev.ID(), "conn_id", conn.ID())
	}

	user, err := s.users.SetPresence(ctx, userID, true, nil)
	if err != nil {
		s.registry.RemoveOnline(userID, conn)
		return fail(span, fmt.Errorf("mark online: %w", err))
	}
	s.fanout.BroadcastStatus(user)
	s.publish(ctx, "user_online", map[string]any{"user_id": userID})

	swept, err := s.sweep(ctx, userID)
	if err != nil {
		if rerr := s.goOffline(ctx, userID, conn); rerr != nil {
			slog.Error("connect rollback failed", "user_id", userID, "conn_id", conn.ID(), "err", rerr)
		}
		return fail(span, err)
	}
	span.SetAttributes(attribute.Int("swept", len(swept)))
	return nil
}

// Disconnect drops conn for userID. A connection that was already superseded
// by a newer one leaves presence untouched.
func (s *Service) Disconnect(ctx context.Context, userID int, conn presence.Conn) error {
	unlock := s.presence.lock(userID)
	defer unlock()
	return s.goOffline(context.WithoutCancel(ctx), userID, conn)
}

// goOffline removes conn and, if it was still the user's live connection,
// records and announces the user as offline. Callers hold the user's lock.
func (s *Service) goOffline(ctx context.Context, userID int, conn presence.Conn) error {
	if !s.registry.RemoveOnline(userID, conn) {
		return nil
	}

	now := s.now().UTC()
	user, err := s.users.SetPresence(ctx, userID, false, &now)
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	s.fanout.BroadcastStatus(user)
	s.publish(ctx, "user_offline", map[string]any{"user_id": userID})
	return nil
}

// sweep moves every sent message addressed to receiverID to delivered in one
// batch and notifies the parties.
func (s *Service) sweep(ctx context.Context, receiverID int) ([]models.Message, error) {
	filter, update := delivery.Sweep(receiverID)
	swept, err := s.messages.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("delivery sweep: %w", err)
	}
	observability.ObserveSweep(len(swept))
	if len(swept) == 0 {
		return swept, nil
	}
	observability.AddStatusTransitions(string(models.StatusDelivered), len(swept))

	s.fanout.Dispatch(ctx, delivery.SweepNotices(swept))
	s.publish(ctx, "messages_delivered", map[string]any{
		"receiver_id": receiverID,
		"message_ids": messageIDs(swept),
	})
	return swept, nil
}

func (s *Service) requirePeer(ctx context.Context, peerID int) error {
	if _, err := s.users.GetUser(ctx, peerID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return fmt.Errorf("%w: %d", ErrPeerNotFound, peerID)
		}
		return fmt.Errorf("load peer: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, name string, payload any) {
	_ = observability.PublishEvent(ctx, "delivery_events."+name, observability.EventEnvelope{
		EventType: "delivery_events",
		EventName: name,
		Payload:   payload,
	}, observability.BuildHeaders("", observability.TraceID(ctx)))
}

func messageIDs(msgs []models.Message) []int {
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
