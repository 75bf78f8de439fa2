package models

// Message is a direct or group message. Timestamp is unix milliseconds,
// assigned by the database on insert.
type Message struct {
	ID            int64  `db:"id" json:"id"`
	ChatSessionID int64  `db:"chat_session_id" json:"chatSessionId"`
	GroupID       *int64 `db:"group_id" json:"groupId,omitempty"`
	SenderID      int64  `db:"sender_id" json:"senderId"`
	ReceiverID    int64  `db:"receiver_id" json:"receiverId"`
	Content       string `db:"content" json:"content"`
	Edited        bool   `db:"edited" json:"edited"`
	ReadStatus    bool   `db:"read_status" json:"readStatus"`
	Timestamp     int64  `db:"timestamp" json:"timestamp"`
}
