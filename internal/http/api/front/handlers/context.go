package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/access"
	"github.com/hrvstr/datagate/internal/tier"
)

// Context keys set by the front auth middleware.
const (
	ContextUserID   = "userID"
	ContextUserTier = "userTier"
)

// getUserID returns the authenticated user id, or 0.
func getUserID(c *gin.Context) uint64 {
	if v, ok := c.Get(ContextUserID); ok {
		if id, okID := v.(uint64); okID {
			return id
		}
	}
	return 0
}

// getUserTier returns the tier loaded by the auth middleware.
func getUserTier(c *gin.Context) tier.Tier {
	if v, ok := c.Get(ContextUserTier); ok {
		if t, okTier := v.(tier.Tier); okTier {
			return t
		}
	}
	return ""
}

// StatusForKind maps typed access errors to HTTP status codes.
func StatusForKind(kind access.Kind) int {
	switch kind {
	case access.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case access.KindTierRestricted, access.KindDataTypeDisabled:
		return http.StatusForbidden
	case access.KindDuplicateSession:
		return http.StatusConflict
	case access.KindStalePolicy:
		return http.StatusServiceUnavailable
	case access.KindFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
