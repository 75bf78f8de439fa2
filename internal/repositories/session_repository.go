package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrSessionNotFound = errors.New("chat session not found")

// SessionUnread is the persisted unread snapshot of one session, used to
// prime the in-memory ledger after a restart.
type SessionUnread struct {
	SessionID  int64         `db:"id"`
	MessageIDs pq.Int64Array `db:"unread_messages"`
	Seen       bool          `db:"seen"`
}

// SessionRepository abstracts chat session persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, participantIDs []int64) (models.ChatSession, error)
	GetSession(ctx context.Context, sessionID int64) (models.ChatSession, error)
	ListSessionIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	GetParticipants(ctx context.Context, sessionID int64) ([]int64, error)
	IsParticipant(ctx context.Context, sessionID int64, userID int64) (bool, error)
	UpdateUnreadMessages(ctx context.Context, sessionID int64, userID int64, messageIDs []int64) error
	MarkSessionSeen(ctx context.Context, sessionID int64) error
	MarkSessionUnseen(ctx context.Context, sessionID int64) error
	ListUnreadForUser(ctx context.Context, userID int64) ([]SessionUnread, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, creation_date, last_active_date, unread_messages, unread_user_id, seen`

// CreateSession creates a session and its participant links in one
// transaction.
func (r *SessionRepo) CreateSession(ctx context.Context, participantIDs []int64) (models.ChatSession, error) {
	if len(participantIDs) < 2 {
		return models.ChatSession{}, errors.New("a chat session needs at least two participants")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ChatSession{}, err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	var session models.ChatSession
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO chat_sessions (creation_date, last_active_date) VALUES ($1, $1) RETURNING `+sessionColumns, now).
		StructScan(&session); err != nil {
		return models.ChatSession{}, err
	}

	for _, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_session_participants (chat_session_id, user_id) VALUES ($1, $2)`,
			session.ID, userID); err != nil {
			return models.ChatSession{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.ChatSession{}, err
	}
	return session, nil
}

// GetSession fetches a session by id.
func (r *SessionRepo) GetSession(ctx context.Context, sessionID int64) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// ListSessionIDsForUser returns the ids of sessions the user participates
// in, most recently active first.
func (r *SessionRepo) ListSessionIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT s.id FROM chat_sessions s
         JOIN chat_session_participants p ON p.chat_session_id = s.id
         WHERE p.user_id=$1
         ORDER BY s.last_active_date DESC`, userID)
	return ids, err
}

// GetParticipants returns the user ids belonging to a session.
func (r *SessionRepo) GetParticipants(ctx context.Context, sessionID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM chat_session_participants WHERE chat_session_id=$1`, sessionID)
	return ids, err
}

// IsParticipant checks whether a user belongs to the session.
func (r *SessionRepo) IsParticipant(ctx context.Context, sessionID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM chat_session_participants WHERE chat_session_id=$1 AND user_id=$2)`,
		sessionID, userID)
	return exists, err
}

// UpdateUnreadMessages overwrites the denormalized unread snapshot for the
// session. An empty snapshot clears the owning user as well.
func (r *SessionRepo) UpdateUnreadMessages(ctx context.Context, sessionID int64, userID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		_, err := r.db.ExecContext(ctx,
			`UPDATE chat_sessions SET unread_messages='{}', unread_user_id=NULL WHERE id=$1`, sessionID)
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET unread_messages=$1, unread_user_id=$2 WHERE id=$3`,
		pq.Int64Array(messageIDs), userID, sessionID)
	return err
}

// MarkSessionSeen persists seen=true.
func (r *SessionRepo) MarkSessionSeen(ctx context.Context, sessionID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET seen = TRUE WHERE id=$1`, sessionID)
	return err
}

// MarkSessionUnseen persists seen=false.
func (r *SessionRepo) MarkSessionUnseen(ctx context.Context, sessionID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET seen = FALSE WHERE id=$1`, sessionID)
	return err
}

// ListUnreadForUser returns sessions whose persisted unread snapshot belongs
// to the user.
func (r *SessionRepo) ListUnreadForUser(ctx context.Context, userID int64) ([]SessionUnread, error) {
	var result []SessionUnread
	err := r.db.SelectContext(ctx, &result,
		`SELECT id, unread_messages, seen FROM chat_sessions
         WHERE unread_user_id=$1 AND cardinality(unread_messages) > 0`, userID)
	return result, err
}
