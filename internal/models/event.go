package models

import "time"

// Realtime event names pushed to clients.
const (
	EventNewMessage        = "newMessage"
	EventUpdateLastMessage = "updateLastMessage"
	EventMessageDelivered  = "messageDelivered"
	EventMessagesSeen      = "messagesSeen"
	EventUserStatusChanged = "userStatusChanged"
)

// Client-originated event names.
const (
	EventMarkMessagesAsSeen = "markMessagesAsSeen"
)

// Event is the envelope written to a websocket connection.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// LastMessagePayload refreshes one sidebar entry for its recipient.
type LastMessagePayload struct {
	PeerID      int      `json:"peer_id"`
	Message     *Message `json:"message"`
	UnreadCount int      `json:"unread_count"`
}

// MessageDeliveredPayload tells a sender that a message reached its receiver.
type MessageDeliveredPayload struct {
	MessageID int `json:"message_id"`
}

// MessagesSeenPayload tells a sender that the receiver read the conversation.
type MessagesSeenPayload struct {
	SenderID    int      `json:"sender_id"`
	ReceiverID  int      `json:"receiver_id"`
	LastMessage *Message `json:"last_message"`
}

// UserStatusPayload is broadcast on every presence change.
type UserStatusPayload struct {
	ID         int        `json:"id"`
	FullName   string     `json:"full_name"`
	ProfilePic string     `json:"profile_pic"`
	IsOnline   bool       `json:"is_online"`
	LastSeen   *time.Time `json:"last_seen"`
}

// MarkSeenRequest is the body of markMessagesAsSeen, over HTTP or websocket.
type MarkSeenRequest struct {
	SenderID   int `json:"sender_id" binding:"required"`
	ReceiverID int `json:"receiver_id" binding:"required"`
}
