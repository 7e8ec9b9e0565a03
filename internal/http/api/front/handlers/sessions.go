package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/sessions"
	log "github.com/sirupsen/logrus"
)

// SessionHandler reports research session state.
type SessionHandler struct {
	sessions *sessions.Manager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(m *sessions.Manager) *SessionHandler {
	return &SessionHandler{sessions: m}
}

// Get reports whether the caller holds an active session for the component.
func (h *SessionHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	component := strings.TrimSpace(c.Param("component"))
	if component == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing component"})
		return
	}
	session, errFind := h.sessions.FindActive(c.Request.Context(), userID, component)
	if errFind != nil {
		log.WithError(errFind).Error("session handler: find active failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"active": false, "component": component})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":       true,
		"component":    component,
		"session_id":   session.SessionID,
		"credits_used": session.CreditsUsed,
		"unlocked_at":  session.UnlockedAt,
		"expires_at":   session.ExpiresAt,
	})
}
