package ws

import (
	"sync"

	"github.com/samber/lo"

	"messenger-service/internal/observability"
)

// Ledger is the process-wide unread/unseen bookkeeping consulted by the
// fan-out engine. Mutations that feed a persistence call return the
// resulting snapshot so the caller persists exactly the state produced by
// its own mutation, never a torn view.
//
// The interface exists so a shared external store can replace the in-memory
// default if the service ever runs as more than one process.
type Ledger interface {
	AppendUnread(userID, sessionID, messageID int64) []int64
	RemoveUnread(userID, sessionID, messageID int64) ([]int64, bool)
	ClearUnread(userID, sessionID int64) []int64
	UnreadIDs(userID, sessionID int64) []int64

	MarkSessionUnseen(userID, sessionID int64) (count int, added bool)
	ClearUnseen(userID, sessionID int64) (count int, removed bool)
	UnseenSessionCount(userID int64) int

	AppendFriendRequest(userID, requestID int64) int
	ClearFriendRequests(userID int64) []int64
	FriendRequestCount(userID int64) int

	PrimeUnread(userID, sessionID int64, messageIDs []int64, seen bool)
	PrimeFriendRequests(userID int64, requestIDs []int64)
}

// MemoryLedger is the single-process default. One mutex guards all three
// maps; handlers run on parallel goroutines, so unlike an event-loop
// runtime the ledger cannot rely on cooperative scheduling.
type MemoryLedger struct {
	mu             sync.Mutex
	unread         map[int64]map[int64][]int64 // user -> session -> message ids
	unseenSessions map[int64][]int64           // user -> session ids
	friendRequests map[int64][]int64           // user -> request ids
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		unread:         make(map[int64]map[int64][]int64),
		unseenSessions: make(map[int64][]int64),
		friendRequests: make(map[int64][]int64),
	}
}

// AppendUnread queues a message id for the user and returns the session's
// updated unread snapshot.
func (l *MemoryLedger) AppendUnread(userID, sessionID, messageID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.unread[userID]; !ok {
		l.unread[userID] = make(map[int64][]int64)
	}
	l.unread[userID][sessionID] = append(l.unread[userID][sessionID], messageID)
	observability.AddUnreadLedgerSize(1)
	return snapshot(l.unread[userID][sessionID])
}

// RemoveUnread splices one message id out, reporting whether it was queued.
func (l *MemoryLedger) RemoveUnread(userID, sessionID, messageID int64) ([]int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.unread[userID][sessionID]
	index := lo.IndexOf(ids, messageID)
	if index == -1 {
		return snapshot(ids), false
	}
	ids = append(ids[:index], ids[index+1:]...)
	l.unread[userID][sessionID] = ids
	observability.AddUnreadLedgerSize(-1)
	return snapshot(ids), true
}

// ClearUnread empties the user's unread list for a session and returns the
// ids that were outstanding.
func (l *MemoryLedger) ClearUnread(userID, sessionID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := snapshot(l.unread[userID][sessionID])
	if len(ids) > 0 {
		delete(l.unread[userID], sessionID)
		observability.AddUnreadLedgerSize(-float64(len(ids)))
	}
	return ids
}

// UnreadIDs returns the current unread snapshot without mutating it.
func (l *MemoryLedger) UnreadIDs(userID, sessionID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return snapshot(l.unread[userID][sessionID])
}

// MarkSessionUnseen adds the session to the user's unseen set. added is
// false when it was already there.
func (l *MemoryLedger) MarkSessionUnseen(userID, sessionID int64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lo.Contains(l.unseenSessions[userID], sessionID) {
		return len(l.unseenSessions[userID]), false
	}
	l.unseenSessions[userID] = append(l.unseenSessions[userID], sessionID)
	return len(l.unseenSessions[userID]), true
}

// ClearUnseen removes the session from the user's unseen set. removed is
// false when it was not there.
func (l *MemoryLedger) ClearUnseen(userID, sessionID int64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.unseenSessions[userID]
	index := lo.IndexOf(ids, sessionID)
	if index == -1 {
		return len(ids), false
	}
	l.unseenSessions[userID] = append(ids[:index], ids[index+1:]...)
	return len(l.unseenSessions[userID]), true
}

// UnseenSessionCount returns the size of the user's unseen set.
func (l *MemoryLedger) UnseenSessionCount(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.unseenSessions[userID])
}

// AppendFriendRequest queues an unseen friend request id and returns the
// new count.
func (l *MemoryLedger) AppendFriendRequest(userID, requestID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !lo.Contains(l.friendRequests[userID], requestID) {
		l.friendRequests[userID] = append(l.friendRequests[userID], requestID)
	}
	return len(l.friendRequests[userID])
}

// ClearFriendRequests empties the user's unseen friend-request list and
// returns the ids that were queued.
func (l *MemoryLedger) ClearFriendRequests(userID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := snapshot(l.friendRequests[userID])
	delete(l.friendRequests, userID)
	return ids
}

// FriendRequestCount returns the user's unseen friend-request count.
func (l *MemoryLedger) FriendRequestCount(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.friendRequests[userID])
}

// PrimeUnread seeds the ledger from a persisted snapshot after a restart.
// Existing in-memory state for the session wins over the snapshot.
func (l *MemoryLedger) PrimeUnread(userID, sessionID int64, messageIDs []int64, seen bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.unread[userID]; !ok {
		l.unread[userID] = make(map[int64][]int64)
	}
	if len(l.unread[userID][sessionID]) > 0 || len(messageIDs) == 0 {
		return
	}
	l.unread[userID][sessionID] = snapshot(messageIDs)
	observability.AddUnreadLedgerSize(float64(len(messageIDs)))
	if !seen && !lo.Contains(l.unseenSessions[userID], sessionID) {
		l.unseenSessions[userID] = append(l.unseenSessions[userID], sessionID)
	}
}

// PrimeFriendRequests seeds the unseen friend-request list after a restart.
func (l *MemoryLedger) PrimeFriendRequests(userID int64, requestIDs []int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.friendRequests[userID]) > 0 {
		return
	}
	l.friendRequests[userID] = snapshot(requestIDs)
}

func snapshot(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}
