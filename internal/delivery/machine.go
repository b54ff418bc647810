// Package delivery decides message status transitions and the notifications
// each transition owes to connected users. It performs no I/O; callers persist
// the returned updates and then dispatch the notices.
package delivery

import "dm-service/internal/models"

// Kind names a notification a transition requires.
type Kind string

const (
	KindNewMessage        Kind = models.EventNewMessage
	KindUpdateLastMessage Kind = models.EventUpdateLastMessage
	KindMessageDelivered  Kind = models.EventMessageDelivered
	KindMessagesSeen      Kind = models.EventMessagesSeen
)

// Notice is one push owed to user To. Peer is the other side of the
// conversation from To's point of view. Message is the post-mutation snapshot
// the notice refers to, when it refers to a single message.
type Notice struct {
	Kind    Kind
	To      int
	Peer    int
	Message *models.Message
}

// Initial is the status a message is created with.
func Initial(receiverOnline bool) models.Status {
	if receiverOnline {
		return models.StatusDelivered
	}
	return models.StatusSent
}

// Advance moves cur towards next without ever regressing. It returns the
// resulting status and whether it changed.
func Advance(cur, next models.Status) (models.Status, bool) {
	if next.Rank() <= cur.Rank() {
		return cur, false
	}
	return next, true
}

// Create builds the record for a new, not yet stored, message.
func Create(senderID, receiverID int, text, image string, receiverOnline bool) models.Message {
	return models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		Status:     Initial(receiverOnline),
		Unread:     true,
	}
}

// SendNotices lists the pushes owed after msg has been stored.
func SendNotices(msg models.Message) []Notice {
	return []Notice{
		{Kind: KindNewMessage, To: msg.ReceiverID, Peer: msg.SenderID, Message: &msg},
		{Kind: KindUpdateLastMessage, To: msg.ReceiverID, Peer: msg.SenderID, Message: &msg},
		{Kind: KindUpdateLastMessage, To: msg.SenderID, Peer: msg.ReceiverID, Message: &msg},
	}
}

// Sweep selects the messages that become delivered when receiverID connects.
func Sweep(receiverID int) (models.MessageFilter, models.MessageUpdate) {
	return models.MessageFilter{
			ReceiverID: receiverID,
			StatusIn:   []models.Status{models.StatusSent},
		}, models.MessageUpdate{
			Status: models.StatusDelivered,
		}
}

// SweepNotices lists the pushes owed after a sweep updated swept. Each sender
// gets one messageDelivered per message; sidebar refreshes are issued once per
// conversation and party.
func SweepNotices(swept []models.Message) []Notice {
	var notices []Notice
	refreshed := map[[2]int]bool{}
	refresh := func(to, peer int, msg *models.Message) {
		key := [2]int{to, peer}
		if refreshed[key] {
			return
		}
		refreshed[key] = true
		notices = append(notices, Notice{Kind: KindUpdateLastMessage, To: to, Peer: peer, Message: msg})
	}

	for i := range swept {
		msg := &swept[i]
		notices = append(notices, Notice{Kind: KindMessageDelivered, To: msg.SenderID, Peer: msg.ReceiverID, Message: msg})
		refresh(msg.SenderID, msg.ReceiverID, msg)
		refresh(msg.ReceiverID, msg.SenderID, msg)
	}
	return notices
}

// Seen selects the messages from peer to viewer that the viewer has now read.
// The reverse direction is never selected.
func Seen(viewerID, peerID int) (models.MessageFilter, models.MessageUpdate) {
	return models.MessageFilter{
			SenderID:   peerID,
			ReceiverID: viewerID,
			StatusNot:  models.StatusSeen,
		}, models.MessageUpdate{
			Status:      models.StatusSeen,
			ClearUnread: true,
		}
}

// SeenNotices lists the pushes owed after changed messages from peer to
// viewer became seen. Nothing is owed when nothing changed.
func SeenNotices(viewerID, peerID int, changed int) []Notice {
	if changed == 0 {
		return nil
	}
	return []Notice{
		{Kind: KindMessagesSeen, To: peerID, Peer: viewerID},
		{Kind: KindUpdateLastMessage, To: peerID, Peer: viewerID},
		{Kind: KindUpdateLastMessage, To: viewerID, Peer: peerID},
	}
}
