package ws

import "testing"

func testClient(userID int64) *Client {
	return &Client{
		UserID: userID,
		ConnID: "test",
		send:   make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()
	client := testClient(1)

	hub.Join(client, SessionRoom(10))
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room to be created")
	}

	hub.Join(client, SessionRoom(10))
	if len(hub.rooms[SessionRoom(10)]) != 1 {
		t.Fatalf("expected duplicate join to be a no-op")
	}

	hub.Leave(client, SessionRoom(10))
	if len(hub.rooms) != 0 {
		t.Fatalf("expected empty room to be removed")
	}
}

func TestHubForgetRemovesClientFromAllRooms(t *testing.T) {
	hub := NewHub()
	client := testClient(1)
	other := testClient(2)

	hub.Join(client, UserRoom(1))
	hub.Join(client, SessionRoom(10))
	hub.Join(other, SessionRoom(10))

	hub.Forget(client)

	if hub.IsUserPresent(1, SessionRoom(10)) {
		t.Fatalf("expected forgotten client to be absent")
	}
	if !hub.IsUserPresent(2, SessionRoom(10)) {
		t.Fatalf("expected other client to remain")
	}
	if len(hub.rooms) != 1 {
		t.Fatalf("expected emptied rooms to be dropped, got %d", len(hub.rooms))
	}
}

func TestHubIsUserPresent(t *testing.T) {
	hub := NewHub()
	client := testClient(7)
	hub.Join(client, SessionRoom(3))

	if !hub.IsUserPresent(7, SessionRoom(3)) {
		t.Fatalf("expected user 7 present in its room")
	}
	if hub.IsUserPresent(8, SessionRoom(3)) {
		t.Fatalf("expected user 8 absent")
	}
	if hub.IsUserPresent(7, SessionRoom(99)) {
		t.Fatalf("expected unknown room to report absent")
	}
}

func TestHubBroadcastReachesRoomMembersOnly(t *testing.T) {
	hub := NewHub()
	member := testClient(1)
	outsider := testClient(2)

	hub.Join(member, SessionRoom(5))
	hub.Join(outsider, SessionRoom(6))

	hub.Broadcast(SessionRoom(5), EventReceiveMessage, map[string]string{"hello": "world"})

	select {
	case <-member.send:
	default:
		t.Fatalf("expected member to receive the broadcast")
	}
	select {
	case <-outsider.send:
		t.Fatalf("expected outsider to receive nothing")
	default:
	}
}

func TestHubBroadcastManyDeliversOncePerClient(t *testing.T) {
	hub := NewHub()
	client := testClient(1)

	hub.Join(client, UserRoom(1))
	hub.Join(client, SessionRoom(5))

	hub.BroadcastMany([]string{UserRoom(1), SessionRoom(5)}, EventNotification, map[string]int{"id": 5})

	if got := len(client.send); got != 1 {
		t.Fatalf("expected exactly one frame, got %d", got)
	}
}
