package models

import "github.com/lib/pq"

// ChatSession is a persistent conversation between two users.
//
// UnreadMessages mirrors the in-memory unread ledger for UnreadUserID so
// counters survive a restart; the in-memory copy stays authoritative while
// the process lives. Seen is a single flag per session, which is only
// correct for two-participant sessions.
type ChatSession struct {
	ID             int64         `db:"id" json:"id"`
	CreationDate   int64         `db:"creation_date" json:"creationDate"`
	LastActiveDate int64         `db:"last_active_date" json:"lastActiveDate"`
	UnreadMessages pq.Int64Array `db:"unread_messages" json:"unreadMessages"`
	UnreadUserID   *int64        `db:"unread_user_id" json:"unreadUserId,omitempty"`
	Seen           bool          `db:"seen" json:"seen"`
}

// SessionSummary is the chat-list view of a session for one user.
type SessionSummary struct {
	SessionID      int64    `json:"id"`
	FriendID       int64    `json:"friendId"`
	LastMessage    *Message `json:"lastMessage,omitempty"`
	UnreadMessages []int64  `json:"unreadMessages"`
	Seen           bool     `json:"seen"`
	LastActiveDate int64    `json:"lastActiveDate"`
}
