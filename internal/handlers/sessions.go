package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// SessionHandler manages chat session endpoints.
type SessionHandler struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions repositories.SessionRepository, messages repositories.MessageRepository, users repositories.UserRepository) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages, users: users}
}

// CreateSession starts a conversation between the caller and a friend.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID := c.GetInt64("userID")

	var req struct {
		ParticipantIDs []int64 `json:"participantIds" binding:"required,min=2"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !lo.Contains(req.ParticipantIDs, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "caller must be a participant"})
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.ParticipantIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat session"})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// ListSessions returns the caller's chat list with last-message summaries.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID := c.GetInt64("userID")

	sessionIDs, err := h.sessions.ListSessionIDsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat sessions"})
		return
	}

	summaries := make([]models.SessionSummary, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		session, err := h.sessions.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat sessions"})
			return
		}

		participants, err := h.sessions.GetParticipants(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat sessions"})
			return
		}
		friendID, _ := lo.Find(participants, func(id int64) bool { return id != userID })

		newest, err := h.messages.GetNewestMessage(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat sessions"})
			return
		}

		summaries = append(summaries, models.SessionSummary{
			SessionID:      session.ID,
			FriendID:       friendID,
			LastMessage:    newest,
			UnreadMessages: session.UnreadMessages,
			Seen:           session.Seen,
			LastActiveDate: session.LastActiveDate,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

// GetSessionMessages returns the messages of one session, participant-gated.
func (h *SessionHandler) GetSessionMessages(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "session_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	userID := c.GetInt64("userID")
	member, err := h.sessions.IsParticipant(c.Request.Context(), sessionID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return
	}

	msgs, err := h.messages.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
