package ws

import (
	"context"
	"errors"
	"fmt"
	"log"

	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// Engine turns inbound realtime events into persistence calls, ledger
// mutations and room broadcasts. Each handler is one best-effort sequence:
// a failed persistence step aborts the remaining steps of that event and
// nothing else — the connection and the process stay up, and broadcasts
// already sent are not compensated.
type Engine struct {
	hub            *Hub
	ledger         Ledger
	messages       repositories.MessageRepository
	sessions       repositories.SessionRepository
	friendRequests repositories.FriendRequestRepository
	users          repositories.UserRepository
}

// NewEngine wires the fan-out engine.
func NewEngine(hub *Hub, ledger Ledger, messages repositories.MessageRepository, sessions repositories.SessionRepository, friendRequests repositories.FriendRequestRepository, users repositories.UserRepository) *Engine {
	return &Engine{
		hub:            hub,
		ledger:         ledger,
		messages:       messages,
		sessions:       sessions,
		friendRequests: friendRequests,
		users:          users,
	}
}

// HandleSendMessage routes a sendMessage event by action.
func (e *Engine) HandleSendMessage(ctx context.Context, event SendMessageEvent) {
	switch event.Action {
	case ActionCreate:
		e.handleCreate(ctx, event)
	case ActionMarkAsRead:
		e.handleMarkAsRead(ctx, event)
	case ActionHardRemove:
		e.handleHardRemove(ctx, event)
	default:
		log.Printf("unknown sendMessage action %q", event.Action)
	}
}

func (e *Engine) handleCreate(ctx context.Context, event SendMessageEvent) {
	msg, err := e.messages.CreateMessage(ctx, event.Message)
	if err != nil {
		log.Printf("create message failed session=%d: %v", event.Message.ChatSessionID, err)
		observability.IncFanout("message_create", "persist_error")
		return
	}

	room := SessionRoom(msg.ChatSessionID)
	e.hub.Broadcast(room, EventReceiveMessage, ReceiveMessageEvent{Action: ActionCreate, Data: msg})

	notification := NotificationEvent{
		Type:             NotifyChatListAddition,
		SenderID:         msg.SenderID,
		ParticipantsData: event.ParticipantsData,
		Data: NotificationData{
			ID:          msg.ChatSessionID,
			LastMessage: &LastMessage{Content: msg.Content, Timestamp: msg.Timestamp},
		},
	}

	if e.hub.IsUserPresent(msg.ReceiverID, room) {
		// Receiver is watching the conversation; the message is read the
		// moment it lands, no unread bookkeeping.
		if err := e.messages.MarkMessageAsRead(ctx, msg.ID); err != nil {
			log.Printf("mark message %d as read failed: %v", msg.ID, err)
			observability.IncFanout("message_create", "persist_error")
			return
		}
	} else {
		unread := e.ledger.AppendUnread(msg.ReceiverID, msg.ChatSessionID, msg.ID)
		notification.UnreadMessages = unread

		if count, added := e.ledger.MarkSessionUnseen(msg.ReceiverID, msg.ChatSessionID); added {
			if err := e.sessions.MarkSessionUnseen(ctx, msg.ChatSessionID); err != nil {
				log.Printf("mark session %d unseen failed: %v", msg.ChatSessionID, err)
			}
			e.hub.Broadcast(UserRoom(msg.ReceiverID), EventConversationCount, ConversationCountEvent{UnseenConversations: count})
		}

		if err := e.sessions.UpdateUnreadMessages(ctx, msg.ChatSessionID, msg.ReceiverID, unread); err != nil {
			log.Printf("persist unread snapshot for session %d failed: %v", msg.ChatSessionID, err)
			observability.IncFanout("message_create", "persist_error")
			return
		}
	}

	e.hub.BroadcastMany([]string{UserRoom(msg.SenderID), UserRoom(msg.ReceiverID)}, EventNotification, notification)
	observability.IncFanout("message_create", "ok")
}

func (e *Engine) handleMarkAsRead(ctx context.Context, event SendMessageEvent) {
	msg := event.Message
	unread := e.ledger.UnreadIDs(msg.ReceiverID, msg.ChatSessionID)

	e.hub.Broadcast(SessionRoom(msg.ChatSessionID), EventReceiveMessage, ReceiveMessageEvent{
		Action: ActionMarkAsRead,
		Data: MarkedAsRead{
			SenderID:      msg.SenderID,
			ReceiverID:    msg.ReceiverID,
			ChatSessionID: msg.ChatSessionID,
		},
		MessageIDs: unread,
	})

	if err := e.messages.MarkMessagesAsRead(ctx, unread); err != nil {
		log.Printf("mark messages as read failed session=%d: %v", msg.ChatSessionID, err)
		observability.IncFanout("message_mark_as_read", "persist_error")
		return
	}

	e.ledger.ClearUnread(msg.ReceiverID, msg.ChatSessionID)
	if err := e.sessions.UpdateUnreadMessages(ctx, msg.ChatSessionID, msg.ReceiverID, nil); err != nil {
		log.Printf("persist cleared unread snapshot for session %d failed: %v", msg.ChatSessionID, err)
		observability.IncFanout("message_mark_as_read", "persist_error")
		return
	}

	if count, removed := e.ledger.ClearUnseen(msg.ReceiverID, msg.ChatSessionID); removed {
		if err := e.sessions.MarkSessionSeen(ctx, msg.ChatSessionID); err != nil {
			log.Printf("mark session %d seen failed: %v", msg.ChatSessionID, err)
		}
		e.hub.Broadcast(UserRoom(msg.ReceiverID), EventConversationCount, ConversationCountEvent{UnseenConversations: count})
	}

	e.hub.Broadcast(UserRoom(msg.ReceiverID), EventNotification, NotificationEvent{
		Type: NotifyChatListMarkAsRead,
		Data: NotificationData{ID: msg.ChatSessionID},
	})
	observability.IncFanout("message_mark_as_read", "ok")
}

func (e *Engine) handleHardRemove(ctx context.Context, event SendMessageEvent) {
	msg := event.Message
	present := e.hub.IsUserPresent(msg.ReceiverID, SessionRoom(msg.ChatSessionID))

	// Removal is announced before the row goes away so clients never render
	// a message the server has already deleted.
	e.hub.Broadcast(SessionRoom(msg.ChatSessionID), EventReceiveMessage, ReceiveMessageEvent{
		Action: ActionHardRemove,
		Data:   RemovedMessage{ID: msg.ID, ChatSessionID: msg.ChatSessionID},
	})

	newest, err := e.messages.GetNewestMessage(ctx, msg.ChatSessionID)
	if err != nil {
		log.Printf("fetch newest message for session %d failed: %v", msg.ChatSessionID, err)
		observability.IncFanout("message_hard_remove", "persist_error")
		return
	}

	notification := NotificationEvent{
		Type:     NotifyChatListHardRemoval,
		SenderID: msg.SenderID,
		Data:     NotificationData{ID: msg.ChatSessionID},
	}
	if newest != nil {
		notification.Data.LastMessage = &LastMessage{Content: newest.Content, Timestamp: newest.Timestamp}
	}

	// The ledger is only spliced when the receiver is away. A receiver who
	// is in the room but has not yet acknowledged keeps the deleted id in
	// their unread list until the next markAsRead flushes it; marking a
	// deleted row read is a harmless no-op.
	if !present {
		if unread, removed := e.ledger.RemoveUnread(msg.ReceiverID, msg.ChatSessionID, msg.ID); removed {
			notification.UnreadMessages = unread
			if err := e.sessions.UpdateUnreadMessages(ctx, msg.ChatSessionID, msg.ReceiverID, unread); err != nil {
				log.Printf("persist unread snapshot for session %d failed: %v", msg.ChatSessionID, err)
			}
		}
	}

	e.hub.BroadcastMany([]string{UserRoom(msg.SenderID), UserRoom(msg.ReceiverID)}, EventNotification, notification)

	// Deletion failures are final: the removal was already announced, so a
	// leftover row is logged loudly instead of retried.
	if err := e.messages.DeleteMessage(ctx, msg.ID); err != nil {
		log.Printf("FATAL delete of message %d failed after removal broadcast: %v", msg.ID, err)
		observability.IncFanout("message_hard_remove", "persist_error")
		return
	}
	observability.IncFanout("message_hard_remove", "ok")
}

// HandleFriendRequest routes a send-friend-request event by action.
func (e *Engine) HandleFriendRequest(ctx context.Context, event FriendRequestEvent) {
	switch event.Action {
	case ActionSend:
		e.handleFriendRequestSend(ctx, event)
	case ActionAccept:
		e.handleFriendRequestResolution(ctx, event, true)
	case ActionDecline:
		e.handleFriendRequestResolution(ctx, event, false)
	case ActionMarkAsSeen:
		e.handleFriendRequestsSeen(ctx, event)
	default:
		log.Printf("unknown friend request action %q", event.Action)
	}
}

func (e *Engine) handleFriendRequestSend(ctx context.Context, event FriendRequestEvent) {
	created, err := e.friendRequests.CreateFriendRequest(ctx, event.FriendRequest)
	if err != nil {
		log.Printf("create friend request failed sender=%d: %v", event.FriendRequest.SenderID, err)
		observability.IncFanout("friend_request_send", "persist_error")
		return
	}

	receiverRoom := UserRoom(created.ReceiverID)
	e.hub.Broadcast(receiverRoom, EventFriendRequestNotification, FriendRequestNotification{
		Action:        ActionSend,
		FriendRequest: created,
	})

	count := e.ledger.AppendFriendRequest(created.ReceiverID, created.ID)
	e.hub.Broadcast(receiverRoom, EventFriendRequestCount, FriendRequestCountEvent{UnseenFriendRequests: count})
	observability.IncFanout("friend_request_send", "ok")
}

func (e *Engine) handleFriendRequestResolution(ctx context.Context, event FriendRequestEvent, accepted bool) {
	action, outcome := ActionDecline, "friend_request_decline"
	transition := e.friendRequests.UpdateStatusToDeclined
	if accepted {
		action, outcome = ActionAccept, "friend_request_accept"
		transition = e.friendRequests.UpdateStatusToAccepted
	}

	updated, err := transition(ctx, event.FriendRequest.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrFriendRequestNotPending) {
			log.Printf("friend request %d already resolved, %s rejected", event.FriendRequest.ID, action)
			observability.IncFanout(outcome, "rejected")
			return
		}
		log.Printf("%s friend request %d failed: %v", action, event.FriendRequest.ID, err)
		observability.IncFanout(outcome, "persist_error")
		return
	}

	if accepted {
		if err := e.users.AddFriend(ctx, updated.ReceiverID, updated.SenderID); err != nil {
			log.Printf("add friend link %d<->%d failed: %v", updated.ReceiverID, updated.SenderID, err)
			observability.IncFanout(outcome, "persist_error")
			return
		}
	}

	user, err := e.users.GetUser(ctx, updated.ReceiverID)
	if err != nil {
		log.Printf("load user %d for friend request notification failed: %v", updated.ReceiverID, err)
		observability.IncFanout(outcome, "persist_error")
		return
	}

	verb := "declined"
	if accepted {
		verb = "accepted"
	}
	e.hub.Broadcast(UserRoom(updated.SenderID), EventFriendRequestNotification, FriendRequestNotification{
		Action:        action,
		FriendRequest: updated,
		Message:       fmt.Sprintf("%s has %s your friend request.", user.Username, verb),
	})
	observability.IncFanout(outcome, "ok")
}

func (e *Engine) handleFriendRequestsSeen(ctx context.Context, event FriendRequestEvent) {
	receiverID := event.FriendRequest.ReceiverID
	ids := e.ledger.ClearFriendRequests(receiverID)
	if err := e.friendRequests.MarkSeen(ctx, ids); err != nil {
		// The badge reset is still sent: clients reflect the action even
		// when storage lags behind.
		log.Printf("mark friend requests seen failed user=%d: %v", receiverID, err)
		observability.IncFanout("friend_request_seen", "persist_error")
	} else {
		observability.IncFanout("friend_request_seen", "ok")
	}

	e.hub.Broadcast(UserRoom(receiverID), EventFriendRequestCount, FriendRequestCountEvent{UnseenFriendRequests: 0})
}

// PrimeUser seeds the ledger from persisted counters when a user connects,
// so badges survive a process restart. Best-effort.
func (e *Engine) PrimeUser(ctx context.Context, userID int64) {
	snapshots, err := e.sessions.ListUnreadForUser(ctx, userID)
	if err != nil {
		log.Printf("prime unread ledger for user %d failed: %v", userID, err)
	} else {
		for _, snap := range snapshots {
			e.ledger.PrimeUnread(userID, snap.SessionID, snap.MessageIDs, snap.Seen)
		}
	}

	requestIDs, err := e.friendRequests.ListUnseenIDsForUser(ctx, userID)
	if err != nil {
		log.Printf("prime friend requests for user %d failed: %v", userID, err)
		return
	}
	e.ledger.PrimeFriendRequests(userID, requestIDs)
}

// CanJoinSession verifies the user participates in the session before a
// joinPrivateRoom is honored. Enumeration failures fail closed.
func (e *Engine) CanJoinSession(ctx context.Context, userID, sessionID int64) bool {
	member, err := e.sessions.IsParticipant(ctx, sessionID, userID)
	if err != nil {
		log.Printf("participant check failed session=%d user=%d: %v", sessionID, userID, err)
		return false
	}
	return member
}
