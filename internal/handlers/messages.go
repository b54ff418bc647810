package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dm-service/internal/messaging"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
	"dm-service/internal/uploads"
)

// MaxSendBodyBytes bounds a send request: a base64 image at the upload cap
// plus room for the text.
const MaxSendBodyBytes = uploads.MaxImageBytes/3*4 + 1<<20

// Messenger is the messaging core behind the HTTP surface.
type Messenger interface {
	Send(ctx context.Context, senderID, receiverID int, in messaging.SendInput) (models.Message, error)
	History(ctx context.Context, viewerID, peerID int, before *models.Cursor) (models.MessagePage, error)
	Sidebar(ctx context.Context, viewerID int) ([]models.SidebarUser, error)
	MarkSeen(ctx context.Context, viewerID int, req models.MarkSeenRequest) (int, error)
}

// MessageHandler serves the direct message endpoints.
type MessageHandler struct {
	messenger Messenger
	audit     *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(messenger Messenger, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messenger: messenger, audit: audit}
}

// Sidebar lists every other user with the caller's last message and unread count.
func (h *MessageHandler) Sidebar(c *gin.Context) {
	userID := c.GetInt("userID")

	users, err := h.messenger.Sidebar(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "failed to load sidebar")
		return
	}
	c.JSON(http.StatusOK, users)
}

// History returns one page of the conversation with :peer_id.
func (h *MessageHandler) History(c *gin.Context) {
	userID := c.GetInt("userID")
	peerID, ok := peerParam(c)
	if !ok {
		return
	}

	var before *models.Cursor
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "before must be an RFC3339 timestamp"})
			return
		}
		before = &models.Cursor{CreatedAt: t}
		if rawID := c.Query("before_id"); rawID != "" {
			id, err := strconv.Atoi(rawID)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"message": "before_id must be a positive integer"})
				return
			}
			before.ID = id
		}
	}

	page, err := h.messenger.History(c.Request.Context(), userID, peerID, before)
	if err != nil {
		respondError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, page)
}

// Send posts a new message to :peer_id.
func (h *MessageHandler) Send(c *gin.Context) {
	userID := c.GetInt("userID")
	peerID, ok := peerParam(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxSendBodyBytes)
	var req messaging.SendInput
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
		return
	}

	msg, err := h.messenger.Send(c.Request.Context(), userID, peerID, req)
	if err != nil {
		respondError(c, err, "failed to send message")
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "message "+strconv.Itoa(msg.ID)+" sent to user "+strconv.Itoa(peerID), requestIDFromContext(c), userID)
	c.JSON(http.StatusCreated, msg)
}

// MarkSeen marks the sender's messages to the caller as seen.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	userID := c.GetInt("userID")

	var req models.MarkSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "sender_id and receiver_id are required"})
		return
	}

	changed, err := h.messenger.MarkSeen(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err, "failed to mark messages as seen")
		return
	}

	if changed > 0 {
		h.audit.Emit(c.Request.Context(), "INFO", "marked "+strconv.Itoa(changed)+" messages from user "+strconv.Itoa(req.SenderID)+" as seen", requestIDFromContext(c), userID)
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed})
}

func peerParam(c *gin.Context) (int, bool) {
	peerID, err := strconv.Atoi(c.Param("peer_id"))
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid peer id"})
		return 0, false
	}
	return peerID, true
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, messaging.ErrInvalidMessage), errors.Is(err, uploads.ErrUnsupportedImage):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, messaging.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case errors.Is(err, messaging.ErrPeerNotFound), errors.Is(err, repositories.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
	case errors.Is(err, messaging.ErrUpload):
		c.JSON(http.StatusBadGateway, gin.H{"message": "image upload failed"})
	default:
		slog.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": fallback})
	}
}
