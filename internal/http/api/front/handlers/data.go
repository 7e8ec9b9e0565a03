package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/access"
	"github.com/hrvstr/datagate/internal/keylock"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/metrics"
	"github.com/hrvstr/datagate/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// DataHandler serves metered data requests.
type DataHandler struct {
	access  *access.Controller
	limiter *ratelimit.Manager
}

// NewDataHandler constructs a DataHandler. limiter may be nil.
func NewDataHandler(controller *access.Controller, limiter *ratelimit.Manager) *DataHandler {
	return &DataHandler{access: controller, limiter: limiter}
}

// Get runs one access request for the data type in the path.
func (h *DataHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	refresh := false
	if raw := strings.TrimSpace(c.Query("refresh")); raw != "" {
		parsed, errParse := strconv.ParseBool(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refresh"})
			return
		}
		refresh = parsed
	}
	dataType := strings.TrimSpace(c.Param("dataType"))

	if h.limiter != nil {
		result, errLimit := h.limiter.AllowDataType(c.Request.Context(), userID, dataType)
		if errLimit != nil {
			log.WithError(errLimit).Warn("data handler: rate limit check failed")
		} else if !result.Allowed {
			RejectRateLimited(c, result)
			return
		}
	}

	resp, errAccess := h.access.Access(c.Request.Context(), access.Request{
		UserID:       userID,
		Tier:         getUserTier(c),
		DataType:     dataType,
		TimeRange:    c.Query("range"),
		Ticker:       c.Query("ticker"),
		Component:    c.Query("component"),
		ForceRefresh: refresh,
	})
	if errAccess != nil {
		var accessErr *access.Error
		switch {
		case errors.As(errAccess, &accessErr):
			c.JSON(StatusForKind(accessErr.Kind), resp)
		case errors.Is(errAccess, access.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": errAccess.Error()})
		case errors.Is(errAccess, ledger.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(errAccess, keylock.ErrLockTimeout):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request busy, retry later"})
		default:
			log.WithError(errAccess).WithField("data_type", dataType).Error("data handler: access failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "access failed"})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RejectRateLimited aborts with a 429 and writes the window reset hint.
func RejectRateLimited(c *gin.Context, result ratelimit.Result) {
	metrics.RateLimitedTotal.Inc()
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Reset.IsZero() {
		c.Header("Retry-After", strconv.Itoa(result.RetryAfter(time.Now())))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
}
