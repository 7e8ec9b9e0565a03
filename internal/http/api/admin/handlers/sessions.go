package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/sessions"
	log "github.com/sirupsen/logrus"
)

// SessionHandler lists and revokes research sessions.
type SessionHandler struct {
	sessions *sessions.Manager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(m *sessions.Manager) *SessionHandler {
	return &SessionHandler{sessions: m}
}

// List returns every active session with its owner's tier.
func (h *SessionHandler) List(c *gin.Context) {
	rows, errList := h.sessions.ListActiveWithTier(c.Request.Context())
	if errList != nil {
		log.WithError(errList).Error("session handler: list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list sessions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": rows})
}

// Expire force-expires one session.
func (h *SessionHandler) Expire(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session id"})
		return
	}
	expired, errExpire := h.sessions.ForceExpire(c.Request.Context(), sessionID)
	if errExpire != nil {
		log.WithError(errExpire).Error("session handler: expire failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "expire session failed"})
		return
	}
	if expired == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "active session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}
