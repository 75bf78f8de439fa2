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

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListBySession(ctx context.Context, sessionID int64) ([]models.Message, error)
	GetNewestMessage(ctx context.Context, sessionID int64) (*models.Message, error)
	MarkMessageAsRead(ctx context.Context, messageID int64) error
	MarkMessagesAsRead(ctx context.Context, messageIDs []int64) error
	UpdateMessage(ctx context.Context, messageID int64, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_session_id, group_id, sender_id, receiver_id, content, edited, read_status, timestamp`

// CreateMessage stores a message and bumps the session's last activity.
// The returned message carries the assigned id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	now := time.Now().UnixMilli()
	var created models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (chat_session_id, group_id, sender_id, receiver_id, content, timestamp)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING `+messageColumns,
		msg.ChatSessionID, msg.GroupID, msg.SenderID, msg.ReceiverID, msg.Content, now).
		StructScan(&created)
	if err != nil {
		return models.Message{}, err
	}

	_, err = r.db.ExecContext(ctx, `UPDATE chat_sessions SET last_active_date=$1 WHERE id=$2`, now, msg.ChatSessionID)
	return created, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListBySession returns the session's messages in chronological order.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE chat_session_id=$1 ORDER BY timestamp ASC, id ASC`, sessionID)
	return msgs, err
}

// GetNewestMessage returns the most recent message of a session, or nil when
// the session is empty.
func (r *MessageRepo) GetNewestMessage(ctx context.Context, sessionID int64) (*models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE chat_session_id=$1 ORDER BY timestamp DESC, id DESC LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkMessageAsRead flips read_status for one message.
func (r *MessageRepo) MarkMessageAsRead(ctx context.Context, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET read_status = TRUE WHERE id=$1`, messageID)
	return err
}

// MarkMessagesAsRead flips read_status for a batch of messages.
func (r *MessageRepo) MarkMessagesAsRead(ctx context.Context, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET read_status = TRUE WHERE id = ANY($1)`, pq.Int64Array(messageIDs))
	return err
}

// UpdateMessage replaces the content and marks the message edited.
func (r *MessageRepo) UpdateMessage(ctx context.Context, messageID int64, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$1, edited=TRUE WHERE id=$2 RETURNING `+messageColumns,
		content, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage removes the row entirely.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
