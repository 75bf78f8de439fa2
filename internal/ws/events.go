package ws

import (
	"encoding/json"
	"fmt"
	"strconv"

	"messenger-service/internal/models"
)

// Inbound event names. Wire-stable.
const (
	EventJoinPrivateRoom  = "joinPrivateRoom"
	EventLeavePrivateRoom = "leavePrivateRoom"
	EventJoinGroupRoom    = "joinGroupRoom"
	EventLeaveGroupRoom   = "leaveGroupRoom"
	EventSendMessage      = "sendMessage"
	EventFriendRequest    = "send-friend-request"
)

// Outbound event names. Wire-stable.
const (
	EventReceiveMessage            = "receiveMessage"
	EventNotification              = "notification"
	EventConversationCount         = "conversationCount"
	EventFriendRequestCount        = "friendRequestCount"
	EventFriendRequestNotification = "friend-request-notification"
)

// Message actions carried by sendMessage / receiveMessage.
const (
	ActionCreate     = "create"
	ActionMarkAsRead = "markAsRead"
	ActionHardRemove = "hardRemove"
)

// Friend request actions carried by send-friend-request.
const (
	ActionSend       = "send"
	ActionAccept     = "accept"
	ActionDecline    = "decline"
	ActionMarkAsSeen = "markAsSeen"
)

// Envelope frames every event on the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessageEvent is the inbound payload of sendMessage.
type SendMessageEvent struct {
	Action           string            `json:"action"`
	Message          models.Message    `json:"message"`
	ParticipantsData map[string]string `json:"participantsData,omitempty"`
}

// FriendRequestEvent is the inbound payload of send-friend-request.
type FriendRequestEvent struct {
	Action        string               `json:"action"`
	FriendRequest models.FriendRequest `json:"friendRequest"`
}

// ReceiveMessageEvent is broadcast to conversation rooms.
type ReceiveMessageEvent struct {
	Action     string      `json:"action"`
	Data       interface{} `json:"data"`
	MessageIDs []int64     `json:"messageIds,omitempty"`
}

// RemovedMessage is the receiveMessage payload of a hardRemove.
type RemovedMessage struct {
	ID            int64 `json:"id"`
	ChatSessionID int64 `json:"chatSessionId"`
}

// MarkedAsRead is the receiveMessage payload of a markAsRead.
type MarkedAsRead struct {
	SenderID      int64 `json:"senderId"`
	ReceiverID    int64 `json:"receiverId"`
	ChatSessionID int64 `json:"chatSessionId"`
}

// LastMessage is the chat-list summary of a session's newest message.
type LastMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NotificationData identifies the session a notification refers to.
type NotificationData struct {
	ID          int64        `json:"id"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
}

// Chat-list notification types.
const (
	NotifyChatListAddition    = "updateChatListOnAddition"
	NotifyChatListMarkAsRead  = "markAsReadOnChatListUpdate"
	NotifyChatListHardRemoval = "updateChatListOnHardRemoval"
)

// NotificationEvent updates open chat-list UIs without requiring the
// conversation room to be joined.
type NotificationEvent struct {
	Type             string            `json:"type"`
	SenderID         int64             `json:"senderId,omitempty"`
	ParticipantsData map[string]string `json:"participantsData,omitempty"`
	UnreadMessages   []int64           `json:"unreadMessages,omitempty"`
	Data             NotificationData  `json:"data"`
}

// ConversationCountEvent carries the unseen-session badge count.
type ConversationCountEvent struct {
	UnseenConversations int `json:"unseenConversations"`
}

// FriendRequestCountEvent carries the unseen friend-request badge count.
type FriendRequestCountEvent struct {
	UnseenFriendRequests int `json:"unseenFriendRequests"`
}

// FriendRequestNotification is sent to personal rooms on request lifecycle
// changes.
type FriendRequestNotification struct {
	Action        string               `json:"action"`
	FriendRequest models.FriendRequest `json:"friendRequest"`
	Message       string               `json:"message,omitempty"`
}

// parseRoomID accepts the room-intent payload as a JSON number or a quoted
// numeric string; clients send both.
func parseRoomID(data json.RawMessage) (int64, error) {
	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		return asNumber, nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return 0, fmt.Errorf("room id is neither number nor string: %s", data)
	}
	id, err := strconv.ParseInt(asString, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("room id %q is not numeric", asString)
	}
	return id, nil
}
