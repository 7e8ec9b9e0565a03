package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Sweeper runs every background sweep once.
type Sweeper interface {
	RunOnce(ctx context.Context) error
}

// CleanupHandler triggers sweeps on demand.
type CleanupHandler struct {
	sweeper Sweeper
}

// NewCleanupHandler constructs a CleanupHandler.
func NewCleanupHandler(sweeper Sweeper) *CleanupHandler {
	return &CleanupHandler{sweeper: sweeper}
}

// Run executes all sweeps synchronously.
func (h *CleanupHandler) Run(c *gin.Context) {
	if errRun := h.sweeper.RunOnce(c.Request.Context()); errRun != nil {
		log.WithError(errRun).Warn("cleanup handler: sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": errRun.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
