package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

type engineFixture struct {
	hub            *Hub
	ledger         *MemoryLedger
	engine         *Engine
	messages       *mocks.MessageRepositoryMock
	sessions       *mocks.SessionRepositoryMock
	friendRequests *mocks.FriendRequestRepositoryMock
	users          *mocks.UserRepositoryMock
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		hub:            NewHub(),
		ledger:         NewMemoryLedger(),
		messages:       &mocks.MessageRepositoryMock{},
		sessions:       &mocks.SessionRepositoryMock{},
		friendRequests: &mocks.FriendRequestRepositoryMock{},
		users:          &mocks.UserRepositoryMock{},
	}
	f.engine = NewEngine(f.hub, f.ledger, f.messages, f.sessions, f.friendRequests, f.users)
	return f
}

// drainFrames decodes every envelope queued on the client's send buffer.
func drainFrames(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var frames []Envelope
	for {
		select {
		case raw := <-c.send:
			var envelope Envelope
			require.NoError(t, json.Unmarshal(raw, &envelope))
			frames = append(frames, envelope)
		default:
			return frames
		}
	}
}

func frameByEvent(frames []Envelope, event string) (Envelope, bool) {
	for _, f := range frames {
		if f.Event == event {
			return f, true
		}
	}
	return Envelope{}, false
}

func TestEngineCreateMessageReceiverAbsent(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	receiver := testClient(2)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))
	f.hub.Join(receiver, UserRoom(2))
	// Receiver is online but not looking at the conversation.

	created := models.Message{ID: 100, ChatSessionID: 10, SenderID: 1, ReceiverID: 2, Content: "hi", Timestamp: 1234}
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(created, nil)
	f.sessions.On("MarkSessionUnseen", mock.Anything, int64(10)).Return(nil)
	f.sessions.On("UpdateUnreadMessages", mock.Anything, int64(10), int64(2), []int64{100}).Return(nil)

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionCreate,
		Message: models.Message{ChatSessionID: 10, SenderID: 1, ReceiverID: 2, Content: "hi"},
	})

	senderFrames := drainFrames(t, sender)
	receiverFrames := drainFrames(t, receiver)

	receive, ok := frameByEvent(senderFrames, EventReceiveMessage)
	require.True(t, ok, "sender should see the conversation broadcast")
	var receiveEvent ReceiveMessageEvent
	require.NoError(t, json.Unmarshal(receive.Data, &receiveEvent))
	assert.Equal(t, ActionCreate, receiveEvent.Action)

	_, ok = frameByEvent(receiverFrames, EventReceiveMessage)
	assert.False(t, ok, "receiver is not in the conversation room")

	count, ok := frameByEvent(receiverFrames, EventConversationCount)
	require.True(t, ok)
	var countEvent ConversationCountEvent
	require.NoError(t, json.Unmarshal(count.Data, &countEvent))
	assert.Equal(t, 1, countEvent.UnseenConversations)

	notification, ok := frameByEvent(receiverFrames, EventNotification)
	require.True(t, ok)
	var notificationEvent NotificationEvent
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Equal(t, NotifyChatListAddition, notificationEvent.Type)
	assert.Equal(t, []int64{100}, notificationEvent.UnreadMessages)
	require.NotNil(t, notificationEvent.Data.LastMessage)
	assert.Equal(t, "hi", notificationEvent.Data.LastMessage.Content)

	_, ok = frameByEvent(senderFrames, EventNotification)
	assert.True(t, ok, "sender's chat list also updates")

	assert.Equal(t, []int64{100}, f.ledger.UnreadIDs(2, 10))
	f.messages.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
	f.messages.AssertNotCalled(t, "MarkMessageAsRead", mock.Anything, mock.Anything)
}

func TestEngineCreateMessageReceiverPresent(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	receiver := testClient(2)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))
	f.hub.Join(receiver, UserRoom(2))
	f.hub.Join(receiver, SessionRoom(10))

	created := models.Message{ID: 100, ChatSessionID: 10, SenderID: 1, ReceiverID: 2, Content: "hi", Timestamp: 1234}
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(created, nil)
	f.messages.On("MarkMessageAsRead", mock.Anything, int64(100)).Return(nil)

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionCreate,
		Message: models.Message{ChatSessionID: 10, SenderID: 1, ReceiverID: 2, Content: "hi"},
	})

	receiverFrames := drainFrames(t, receiver)

	_, ok := frameByEvent(receiverFrames, EventReceiveMessage)
	assert.True(t, ok)
	_, ok = frameByEvent(receiverFrames, EventConversationCount)
	assert.False(t, ok, "no badge update when the message lands read")

	notification, ok := frameByEvent(receiverFrames, EventNotification)
	require.True(t, ok)
	var notificationEvent NotificationEvent
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Empty(t, notificationEvent.UnreadMessages)

	assert.Empty(t, f.ledger.UnreadIDs(2, 10))
	f.messages.AssertExpectations(t)
	f.sessions.AssertNotCalled(t, "UpdateUnreadMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineCreateMessagePersistFailureBroadcastsNothing(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))

	f.messages.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{}, errors.New("db down"))

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionCreate,
		Message: models.Message{ChatSessionID: 10, SenderID: 1, ReceiverID: 2, Content: "hi"},
	})

	assert.Empty(t, drainFrames(t, sender))
	assert.Empty(t, f.ledger.UnreadIDs(2, 10))
}

func TestEngineMarkAsReadFlushesLedger(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	receiver := testClient(2)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))
	f.hub.Join(receiver, UserRoom(2))
	f.hub.Join(receiver, SessionRoom(10))

	f.ledger.AppendUnread(2, 10, 100)
	f.ledger.AppendUnread(2, 10, 101)
	f.ledger.MarkSessionUnseen(2, 10)

	f.messages.On("MarkMessagesAsRead", mock.Anything, []int64{100, 101}).Return(nil)
	f.sessions.On("UpdateUnreadMessages", mock.Anything, int64(10), int64(2), []int64(nil)).Return(nil)
	f.sessions.On("MarkSessionSeen", mock.Anything, int64(10)).Return(nil)

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionMarkAsRead,
		Message: models.Message{ChatSessionID: 10, SenderID: 1, ReceiverID: 2},
	})

	receiverFrames := drainFrames(t, receiver)

	receive, ok := frameByEvent(receiverFrames, EventReceiveMessage)
	require.True(t, ok)
	var receiveEvent ReceiveMessageEvent
	require.NoError(t, json.Unmarshal(receive.Data, &receiveEvent))
	assert.Equal(t, ActionMarkAsRead, receiveEvent.Action)
	assert.Equal(t, []int64{100, 101}, receiveEvent.MessageIDs)

	count, ok := frameByEvent(receiverFrames, EventConversationCount)
	require.True(t, ok)
	var countEvent ConversationCountEvent
	require.NoError(t, json.Unmarshal(count.Data, &countEvent))
	assert.Equal(t, 0, countEvent.UnseenConversations)

	notification, ok := frameByEvent(receiverFrames, EventNotification)
	require.True(t, ok)
	var notificationEvent NotificationEvent
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Equal(t, NotifyChatListMarkAsRead, notificationEvent.Type)

	assert.Empty(t, f.ledger.UnreadIDs(2, 10))
	assert.Equal(t, 0, f.ledger.UnseenSessionCount(2))
	f.messages.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
}

func TestEngineMarkAsReadPersistFailureKeepsLedger(t *testing.T) {
	f := newEngineFixture()

	receiver := testClient(2)
	f.hub.Join(receiver, UserRoom(2))
	f.hub.Join(receiver, SessionRoom(10))

	f.ledger.AppendUnread(2, 10, 100)

	f.messages.On("MarkMessagesAsRead", mock.Anything, []int64{100}).Return(errors.New("db down"))

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionMarkAsRead,
		Message: models.Message{ChatSessionID: 10, SenderID: 1, ReceiverID: 2},
	})

	frames := drainFrames(t, receiver)
	_, ok := frameByEvent(frames, EventReceiveMessage)
	assert.True(t, ok, "the announcement precedes persistence")
	_, ok = frameByEvent(frames, EventNotification)
	assert.False(t, ok, "remaining steps are aborted")

	assert.Equal(t, []int64{100}, f.ledger.UnreadIDs(2, 10))
	f.sessions.AssertNotCalled(t, "UpdateUnreadMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineHardRemoveSplicesUnread(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	receiver := testClient(2)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))
	f.hub.Join(receiver, UserRoom(2))
	// Receiver absent from the conversation room.

	f.ledger.AppendUnread(2, 10, 100)
	f.ledger.AppendUnread(2, 10, 101)

	newest := models.Message{ID: 99, ChatSessionID: 10, Content: "earlier", Timestamp: 1000}
	f.messages.On("GetNewestMessage", mock.Anything, int64(10)).Return(&newest, nil)
	f.sessions.On("UpdateUnreadMessages", mock.Anything, int64(10), int64(2), []int64{101}).Return(nil)
	f.messages.On("DeleteMessage", mock.Anything, int64(100)).Return(nil)

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionHardRemove,
		Message: models.Message{ID: 100, ChatSessionID: 10, SenderID: 1, ReceiverID: 2},
	})

	senderFrames := drainFrames(t, sender)
	receiverFrames := drainFrames(t, receiver)

	receive, ok := frameByEvent(senderFrames, EventReceiveMessage)
	require.True(t, ok)
	var receiveEvent ReceiveMessageEvent
	require.NoError(t, json.Unmarshal(receive.Data, &receiveEvent))
	assert.Equal(t, ActionHardRemove, receiveEvent.Action)

	notification, ok := frameByEvent(receiverFrames, EventNotification)
	require.True(t, ok)
	var notificationEvent NotificationEvent
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Equal(t, NotifyChatListHardRemoval, notificationEvent.Type)
	assert.Equal(t, []int64{101}, notificationEvent.UnreadMessages)
	require.NotNil(t, notificationEvent.Data.LastMessage)
	assert.Equal(t, "earlier", notificationEvent.Data.LastMessage.Content)

	assert.Equal(t, []int64{101}, f.ledger.UnreadIDs(2, 10))
	f.messages.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
}

func TestEngineHardRemoveReceiverPresentKeepsUnread(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	receiver := testClient(2)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))
	f.hub.Join(receiver, UserRoom(2))
	f.hub.Join(receiver, SessionRoom(10))

	// Receiver is in the room but has not acknowledged yet.
	f.ledger.AppendUnread(2, 10, 100)

	f.messages.On("GetNewestMessage", mock.Anything, int64(10)).Return((*models.Message)(nil), nil)
	f.messages.On("DeleteMessage", mock.Anything, int64(100)).Return(nil)

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionHardRemove,
		Message: models.Message{ID: 100, ChatSessionID: 10, SenderID: 1, ReceiverID: 2},
	})

	frames := drainFrames(t, receiver)
	notification, ok := frameByEvent(frames, EventNotification)
	require.True(t, ok)
	var notificationEvent NotificationEvent
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Empty(t, notificationEvent.UnreadMessages)

	// The deleted id stays queued until the receiver's next markAsRead.
	assert.Equal(t, []int64{100}, f.ledger.UnreadIDs(2, 10))
	f.sessions.AssertNotCalled(t, "UpdateUnreadMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertExpectations(t)
}

func TestEngineHardRemoveNewestLookupFailureAborts(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	f.hub.Join(sender, UserRoom(1))
	f.hub.Join(sender, SessionRoom(10))

	f.messages.On("GetNewestMessage", mock.Anything, int64(10)).Return(nil, errors.New("db down"))

	f.engine.HandleSendMessage(context.Background(), SendMessageEvent{
		Action:  ActionHardRemove,
		Message: models.Message{ID: 100, ChatSessionID: 10, SenderID: 1, ReceiverID: 2},
	})

	frames := drainFrames(t, sender)
	_, ok := frameByEvent(frames, EventReceiveMessage)
	assert.True(t, ok, "removal is announced before the lookup")
	_, ok = frameByEvent(frames, EventNotification)
	assert.False(t, ok)
	f.messages.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}

func TestEngineFriendRequestSend(t *testing.T) {
	f := newEngineFixture()

	receiver := testClient(2)
	f.hub.Join(receiver, UserRoom(2))

	created := models.FriendRequest{ID: 50, SenderID: 1, ReceiverID: 2, Title: "alice", Status: models.FriendRequestPending}
	f.friendRequests.On("CreateFriendRequest", mock.Anything, mock.Anything).Return(created, nil)

	f.engine.HandleFriendRequest(context.Background(), FriendRequestEvent{
		Action:        ActionSend,
		FriendRequest: models.FriendRequest{SenderID: 1, ReceiverID: 2, Title: "alice"},
	})

	frames := drainFrames(t, receiver)

	notification, ok := frameByEvent(frames, EventFriendRequestNotification)
	require.True(t, ok)
	var notificationEvent FriendRequestNotification
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Equal(t, ActionSend, notificationEvent.Action)
	assert.Equal(t, int64(50), notificationEvent.FriendRequest.ID)

	count, ok := frameByEvent(frames, EventFriendRequestCount)
	require.True(t, ok)
	var countEvent FriendRequestCountEvent
	require.NoError(t, json.Unmarshal(count.Data, &countEvent))
	assert.Equal(t, 1, countEvent.UnseenFriendRequests)

	assert.Equal(t, 1, f.ledger.FriendRequestCount(2))
}

func TestEngineFriendRequestAccept(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	f.hub.Join(sender, UserRoom(1))

	updated := models.FriendRequest{ID: 50, SenderID: 1, ReceiverID: 2, Status: models.FriendRequestAccepted}
	f.friendRequests.On("UpdateStatusToAccepted", mock.Anything, int64(50)).Return(updated, nil)
	f.users.On("AddFriend", mock.Anything, int64(2), int64(1)).Return(nil)
	f.users.On("GetUser", mock.Anything, int64(2)).Return(models.User{ID: 2, Username: "bob"}, nil)

	f.engine.HandleFriendRequest(context.Background(), FriendRequestEvent{
		Action:        ActionAccept,
		FriendRequest: models.FriendRequest{ID: 50},
	})

	frames := drainFrames(t, sender)
	notification, ok := frameByEvent(frames, EventFriendRequestNotification)
	require.True(t, ok)
	var notificationEvent FriendRequestNotification
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Equal(t, ActionAccept, notificationEvent.Action)
	assert.Equal(t, "bob has accepted your friend request.", notificationEvent.Message)

	f.users.AssertExpectations(t)
	f.friendRequests.AssertExpectations(t)
}

func TestEngineFriendRequestDecline(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	f.hub.Join(sender, UserRoom(1))

	updated := models.FriendRequest{ID: 50, SenderID: 1, ReceiverID: 2, Status: models.FriendRequestDeclined}
	f.friendRequests.On("UpdateStatusToDeclined", mock.Anything, int64(50)).Return(updated, nil)
	f.users.On("GetUser", mock.Anything, int64(2)).Return(models.User{ID: 2, Username: "bob"}, nil)

	f.engine.HandleFriendRequest(context.Background(), FriendRequestEvent{
		Action:        ActionDecline,
		FriendRequest: models.FriendRequest{ID: 50},
	})

	frames := drainFrames(t, sender)
	notification, ok := frameByEvent(frames, EventFriendRequestNotification)
	require.True(t, ok)
	var notificationEvent FriendRequestNotification
	require.NoError(t, json.Unmarshal(notification.Data, &notificationEvent))
	assert.Equal(t, "bob has declined your friend request.", notificationEvent.Message)

	f.users.AssertNotCalled(t, "AddFriend", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineFriendRequestResolutionOnTerminalStateIsSilent(t *testing.T) {
	f := newEngineFixture()

	sender := testClient(1)
	f.hub.Join(sender, UserRoom(1))

	f.friendRequests.On("UpdateStatusToAccepted", mock.Anything, int64(50)).
		Return(models.FriendRequest{}, repositories.ErrFriendRequestNotPending)

	f.engine.HandleFriendRequest(context.Background(), FriendRequestEvent{
		Action:        ActionAccept,
		FriendRequest: models.FriendRequest{ID: 50},
	})

	assert.Empty(t, drainFrames(t, sender))
	f.users.AssertNotCalled(t, "AddFriend", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineFriendRequestsMarkAsSeen(t *testing.T) {
	f := newEngineFixture()

	receiver := testClient(2)
	f.hub.Join(receiver, UserRoom(2))

	f.ledger.AppendFriendRequest(2, 50)
	f.ledger.AppendFriendRequest(2, 51)

	f.friendRequests.On("MarkSeen", mock.Anything, []int64{50, 51}).Return(nil)

	f.engine.HandleFriendRequest(context.Background(), FriendRequestEvent{
		Action:        ActionMarkAsSeen,
		FriendRequest: models.FriendRequest{ReceiverID: 2},
	})

	frames := drainFrames(t, receiver)
	count, ok := frameByEvent(frames, EventFriendRequestCount)
	require.True(t, ok)
	var countEvent FriendRequestCountEvent
	require.NoError(t, json.Unmarshal(count.Data, &countEvent))
	assert.Equal(t, 0, countEvent.UnseenFriendRequests)

	assert.Equal(t, 0, f.ledger.FriendRequestCount(2))
	f.friendRequests.AssertExpectations(t)
}

func TestEngineFriendRequestsMarkAsSeenStillResetsBadgeOnPersistFailure(t *testing.T) {
	f := newEngineFixture()

	receiver := testClient(2)
	f.hub.Join(receiver, UserRoom(2))

	f.ledger.AppendFriendRequest(2, 50)
	f.friendRequests.On("MarkSeen", mock.Anything, []int64{50}).Return(errors.New("db down"))

	f.engine.HandleFriendRequest(context.Background(), FriendRequestEvent{
		Action:        ActionMarkAsSeen,
		FriendRequest: models.FriendRequest{ReceiverID: 2},
	})

	frames := drainFrames(t, receiver)
	_, ok := frameByEvent(frames, EventFriendRequestCount)
	assert.True(t, ok, "clients reflect the action even when storage lags")
}

func TestEnginePrimeUser(t *testing.T) {
	f := newEngineFixture()

	f.sessions.On("ListUnreadForUser", mock.Anything, int64(2)).Return([]repositories.SessionUnread{
		{SessionID: 10, MessageIDs: pq.Int64Array{100, 101}, Seen: false},
		{SessionID: 11, MessageIDs: pq.Int64Array{200}, Seen: true},
	}, nil)
	f.friendRequests.On("ListUnseenIDsForUser", mock.Anything, int64(2)).Return([]int64{50}, nil)

	f.engine.PrimeUser(context.Background(), 2)

	assert.Equal(t, []int64{100, 101}, f.ledger.UnreadIDs(2, 10))
	assert.Equal(t, []int64{200}, f.ledger.UnreadIDs(2, 11))
	assert.Equal(t, 1, f.ledger.UnseenSessionCount(2))
	assert.Equal(t, 1, f.ledger.FriendRequestCount(2))
}

func TestEngineCanJoinSession(t *testing.T) {
	f := newEngineFixture()

	f.sessions.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(true, nil)
	f.sessions.On("IsParticipant", mock.Anything, int64(10), int64(3)).Return(false, nil)
	f.sessions.On("IsParticipant", mock.Anything, int64(11), int64(1)).Return(false, errors.New("db down"))

	assert.True(t, f.engine.CanJoinSession(context.Background(), 1, 10))
	assert.False(t, f.engine.CanJoinSession(context.Background(), 3, 10))
	assert.False(t, f.engine.CanJoinSession(context.Background(), 1, 11), "lookup failures fail closed")
}
