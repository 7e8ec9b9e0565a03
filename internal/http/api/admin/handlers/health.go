package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	internalsettings "github.com/hrvstr/datagate/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Pinger checks storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service health.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Healthz pings storage.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if errPing := h.store.Ping(ctx); errPing != nil {
		log.WithError(errPing).Warn("healthz: storage ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": internalsettings.ServiceName})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": internalsettings.ServiceName})
}
