package models

// FriendRequestStatus is the lifecycle state of a friend request.
// PENDING is the only non-terminal state.
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "PENDING"
	FriendRequestAccepted FriendRequestStatus = "ACCEPTED"
	FriendRequestDeclined FriendRequestStatus = "DECLINED"
)

// FriendRequest carries the sender's display data so receivers can render
// the notification without an extra user lookup. Seen is orthogonal to
// status and flips false→true exactly once.
type FriendRequest struct {
	ID         int64               `db:"id" json:"id"`
	SenderID   int64               `db:"sender_id" json:"senderId"`
	ReceiverID int64               `db:"receiver_id" json:"receiverId"`
	Title      string              `db:"title" json:"title"`
	Image      string              `db:"image" json:"image"`
	Seen       bool                `db:"seen" json:"seen"`
	Status     FriendRequestStatus `db:"status" json:"status"`
	Timestamp  int64               `db:"timestamp" json:"timestamp"`
}
