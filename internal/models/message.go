package models

import "time"

// Status is the delivery state of a direct message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along sent -> delivered -> seen. Unknown statuses rank 0.
func (s Status) Rank() int {
	return statusRank[s]
}

// Below returns every known status that ranks strictly lower than s.
func (s Status) Below() []Status {
	var out []Status
	for _, st := range []Status{StatusSent, StatusDelivered, StatusSeen} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

// Message represents a direct message between two users.
type Message struct {
	ID         int       `db:"id" json:"id"`
	SenderID   int       `db:"sender_id" json:"sender_id"`
	ReceiverID int       `db:"receiver_id" json:"receiver_id"`
	Text       string    `db:"text" json:"text,omitempty"`
	Image      string    `db:"image" json:"image,omitempty"`
	Status     Status    `db:"status" json:"status"`
	Unread     bool      `db:"unread" json:"unread"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Between reports whether the message belongs to the conversation {a, b}.
func (m Message) Between(a, b int) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Pair is an unordered conversation between two users.
type Pair struct {
	A int
	B int
}

// MessageFilter selects messages. Zero-valued fields do not constrain.
type MessageFilter struct {
	Conversation *Pair
	SenderID     int
	ReceiverID   int
	StatusIn     []Status
	StatusNot    Status
	Unread       *bool
	Before       *Cursor
}

// Cursor marks a position in a conversation ordered by (created_at, id).
// A zero ID compares on the timestamp alone.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int       `json:"id"`
}

// CursorOf returns the position of m.
func CursorOf(m Message) *Cursor {
	return &Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Precedes reports whether m sorts strictly before the cursor.
func (c Cursor) Precedes(m Message) bool {
	if m.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return c.ID > 0 && m.CreatedAt.Equal(c.CreatedAt) && m.ID < c.ID
}

// Matches applies the filter to a single message.
func (f MessageFilter) Matches(m Message) bool {
	if f.Conversation != nil && !m.Between(f.Conversation.A, f.Conversation.B) {
		return false
	}
	if f.SenderID != 0 && m.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID != 0 && m.ReceiverID != f.ReceiverID {
		return false
	}
	if len(f.StatusIn) > 0 {
		found := false
		for _, s := range f.StatusIn {
			if m.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StatusNot != "" && m.Status == f.StatusNot {
		return false
	}
	if f.Unread != nil && m.Unread != *f.Unread {
		return false
	}
	if f.Before != nil && !f.Before.Precedes(m) {
		return false
	}
	return true
}

// MessageUpdate is applied to every message matched by a filter. Stores only
// apply it to messages whose current status ranks below Status.
type MessageUpdate struct {
	Status      Status
	ClearUnread bool
}

// Apply returns m with the update applied, and whether anything changed.
func (u MessageUpdate) Apply(m Message) (Message, bool) {
	if m.Status.Rank() >= u.Status.Rank() {
		return m, false
	}
	m.Status = u.Status
	if u.ClearUnread {
		m.Unread = false
	}
	return m, true
}

// Bool returns a pointer to b, for filter fields.
func Bool(b bool) *bool {
	return &b
}
