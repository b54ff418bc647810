package models

import "time"

// User is the subset of a user record the messaging core reads and updates.
type User struct {
	ID         int        `db:"id" json:"id"`
	FullName   string     `db:"full_name" json:"full_name"`
	ProfilePic string     `db:"profile_pic" json:"profile_pic"`
	IsOnline   bool       `db:"is_online" json:"is_online"`
	LastSeen   *time.Time `db:"last_seen" json:"last_seen"`
}

// SidebarEntry summarises one conversation for a viewer.
type SidebarEntry struct {
	LastMessage *Message `json:"last_message"`
	UnreadCount int      `json:"unread_count"`
}

// SidebarUser is a peer listed in the viewer's conversation sidebar.
type SidebarUser struct {
	User
	SidebarEntry
}

// MessagePage is one page of conversation history, oldest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor *Cursor   `json:"next_cursor,omitempty"`
}
