package ws

import "fmt"

// Room name constructors. A user joins their personal room at handshake;
// conversation and group rooms are joined by client intent.
func UserRoom(userID int64) string {
	return fmt.Sprintf("user-%d", userID)
}

func SessionRoom(sessionID int64) string {
	return fmt.Sprintf("room-%d", sessionID)
}

func GroupRoom(groupID int64) string {
	return fmt.Sprintf("group-%d", groupID)
}
