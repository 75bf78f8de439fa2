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

var (
	ErrFriendRequestNotFound = errors.New("friend request not found")

	// ErrFriendRequestNotPending is returned when an accept or decline
	// targets a request that already reached a terminal state.
	ErrFriendRequestNotPending = errors.New("friend request is not pending")
)

// FriendRequestRepository abstracts friend request persistence.
type FriendRequestRepository interface {
	CreateFriendRequest(ctx context.Context, req models.FriendRequest) (models.FriendRequest, error)
	GetFriendRequest(ctx context.Context, requestID int64) (models.FriendRequest, error)
	ListForUser(ctx context.Context, userID int64) ([]models.FriendRequest, error)
	UpdateStatusToAccepted(ctx context.Context, requestID int64) (models.FriendRequest, error)
	UpdateStatusToDeclined(ctx context.Context, requestID int64) (models.FriendRequest, error)
	MarkSeen(ctx context.Context, requestIDs []int64) error
	CountUnseenForUser(ctx context.Context, userID int64) (int, error)
	ListUnseenIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

// FriendRequestRepo is a sqlx implementation of FriendRequestRepository.
type FriendRequestRepo struct {
	db *sqlx.DB
}

// NewFriendRequestRepo constructs a FriendRequestRepo.
func NewFriendRequestRepo(db *sqlx.DB) *FriendRequestRepo {
	return &FriendRequestRepo{db: db}
}

const friendRequestColumns = `id, sender_id, receiver_id, title, image, seen, status, timestamp`

// CreateFriendRequest stores a new pending request.
func (r *FriendRequestRepo) CreateFriendRequest(ctx context.Context, req models.FriendRequest) (models.FriendRequest, error) {
	var created models.FriendRequest
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO friend_requests (sender_id, receiver_id, title, image, timestamp)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING `+friendRequestColumns,
		req.SenderID, req.ReceiverID, req.Title, req.Image, time.Now().UnixMilli()).
		StructScan(&created)
	return created, err
}

// GetFriendRequest fetches one request by id.
func (r *FriendRequestRepo) GetFriendRequest(ctx context.Context, requestID int64) (models.FriendRequest, error) {
	var req models.FriendRequest
	err := r.db.GetContext(ctx, &req, `SELECT `+friendRequestColumns+` FROM friend_requests WHERE id=$1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FriendRequest{}, ErrFriendRequestNotFound
	}
	return req, err
}

// ListForUser returns requests addressed to the user, newest first.
func (r *FriendRequestRepo) ListForUser(ctx context.Context, userID int64) ([]models.FriendRequest, error) {
	var reqs []models.FriendRequest
	err := r.db.SelectContext(ctx, &reqs,
		`SELECT `+friendRequestColumns+` FROM friend_requests WHERE receiver_id=$1 ORDER BY timestamp DESC`, userID)
	return reqs, err
}

// UpdateStatusToAccepted transitions PENDING → ACCEPTED. The guard on the
// current status makes terminal states final.
func (r *FriendRequestRepo) UpdateStatusToAccepted(ctx context.Context, requestID int64) (models.FriendRequest, error) {
	return r.transition(ctx, requestID, models.FriendRequestAccepted)
}

// UpdateStatusToDeclined transitions PENDING → DECLINED.
func (r *FriendRequestRepo) UpdateStatusToDeclined(ctx context.Context, requestID int64) (models.FriendRequest, error) {
	return r.transition(ctx, requestID, models.FriendRequestDeclined)
}

func (r *FriendRequestRepo) transition(ctx context.Context, requestID int64, status models.FriendRequestStatus) (models.FriendRequest, error) {
	var req models.FriendRequest
	err := r.db.QueryRowxContext(ctx,
		`UPDATE friend_requests SET status=$1 WHERE id=$2 AND status='PENDING' RETURNING `+friendRequestColumns,
		status, requestID).StructScan(&req)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetFriendRequest(ctx, requestID); getErr != nil {
			return models.FriendRequest{}, getErr
		}
		return models.FriendRequest{}, ErrFriendRequestNotPending
	}
	return req, err
}

// MarkSeen flips the seen flag for a batch of requests.
func (r *FriendRequestRepo) MarkSeen(ctx context.Context, requestIDs []int64) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE friend_requests SET seen = TRUE WHERE id = ANY($1)`, pq.Int64Array(requestIDs))
	return err
}

// CountUnseenForUser returns the user's unseen request count.
func (r *FriendRequestRepo) CountUnseenForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM friend_requests WHERE receiver_id=$1 AND seen = FALSE`, userID)
	return count, err
}

// ListUnseenIDsForUser returns ids of unseen requests for ledger priming.
func (r *FriendRequestRepo) ListUnseenIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM friend_requests WHERE receiver_id=$1 AND seen = FALSE ORDER BY timestamp ASC`, userID)
	return ids, err
}
