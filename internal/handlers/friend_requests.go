package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
)

// FriendRequestHandler manages the friend request REST surface. Lifecycle
// transitions that need realtime fan-out go through the websocket engine;
// this covers listing and creation by email.
type FriendRequestHandler struct {
	friendRequests repositories.FriendRequestRepository
	users          repositories.UserRepository
	audit          *telemetry.AuditEmitter
}

// NewFriendRequestHandler builds a FriendRequestHandler.
func NewFriendRequestHandler(friendRequests repositories.FriendRequestRepository, users repositories.UserRepository, audit *telemetry.AuditEmitter) *FriendRequestHandler {
	return &FriendRequestHandler{friendRequests: friendRequests, users: users, audit: audit}
}

// ListOwn returns requests addressed to the caller.
func (h *FriendRequestHandler) ListOwn(c *gin.Context) {
	userID := c.GetInt64("userID")
	reqs, err := h.friendRequests.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load friend requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendRequests": reqs})
}

// Create sends a friend request to the user owning the given email.
func (h *FriendRequestHandler) Create(c *gin.Context) {
	userID := c.GetInt64("userID")

	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	receiver, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}
	if receiver.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot send a friend request to yourself"})
		return
	}

	created, err := h.friendRequests.CreateFriendRequest(c.Request.Context(), models.FriendRequest{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Title:      sender.Username,
		Image:      sender.ProfilePicture,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create friend request"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "friend request created", requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, created)
}

// UnseenCount returns the caller's unseen friend-request badge count.
func (h *FriendRequestHandler) UnseenCount(c *gin.Context) {
	userID := c.GetInt64("userID")
	count, err := h.friendRequests.CountUnseenForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count friend requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unseenFriendRequests": count})
}
