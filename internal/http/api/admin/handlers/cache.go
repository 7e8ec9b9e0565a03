package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/cachestore"
	log "github.com/sirupsen/logrus"
)

// CacheHandler exposes cache maintenance endpoints.
type CacheHandler struct {
	store *cachestore.Store
}

// NewCacheHandler constructs a CacheHandler.
func NewCacheHandler(store *cachestore.Store) *CacheHandler {
	return &CacheHandler{store: store}
}

// Stats returns row counts by data type and the hit rate since start.
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, errStats := h.store.Stats(c.Request.Context())
	if errStats != nil {
		log.WithError(errStats).Error("cache handler: stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// clearCacheRequest optionally scopes a clear to one user.
type clearCacheRequest struct {
	UserID uint64 `json:"user_id"` // 0 clears every user.
}

// Clear deletes cache rows.
func (h *CacheHandler) Clear(c *gin.Context) {
	var body clearCacheRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	deleted, errClear := h.store.Clear(c.Request.Context(), body.UserID)
	if errClear != nil {
		log.WithError(errClear).Error("cache handler: clear failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache clear failed"})
		return
	}
	log.WithFields(log.Fields{"user_id": body.UserID, "deleted": deleted}).Info("cache cleared")
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
