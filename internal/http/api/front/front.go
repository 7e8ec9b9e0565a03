// Package front registers the user-facing routes.
package front

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/access"
	"github.com/hrvstr/datagate/internal/config"
	handlers "github.com/hrvstr/datagate/internal/http/api/front/handlers"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/ratelimit"
	"github.com/hrvstr/datagate/internal/security"
	"github.com/hrvstr/datagate/internal/sessions"
	"github.com/hrvstr/datagate/internal/tier"
	log "github.com/sirupsen/logrus"
)

// Deps are the services behind the front routes.
type Deps struct {
	Access    *access.Controller
	Ledger    *ledger.Ledger
	Sessions  *sessions.Manager
	Limiter   *ratelimit.Manager
	Snapshots config.Provider
	JWT       config.JWTConfig
}

// RegisterFrontRoutes registers user routes and the billing notification endpoint.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Access == nil || deps.Ledger == nil {
		return
	}

	billingHandler := handlers.NewBillingHandler(deps.Ledger, deps.Snapshots)
	r.POST("/v0/billing/payments", billingHandler.Payment)

	authed := r.Group("/v1")
	authed.Use(userAuthMiddleware(deps.Ledger, deps.JWT))
	authed.Use(rateLimitMiddleware(deps.Limiter))

	dataHandler := handlers.NewDataHandler(deps.Access, deps.Limiter)
	authed.GET("/data/:dataType", dataHandler.Get)

	creditHandler := handlers.NewCreditHandler(deps.Ledger)
	authed.GET("/credits", creditHandler.Balance)
	authed.GET("/credits/transactions", creditHandler.Transactions)

	if deps.Sessions != nil {
		sessionHandler := handlers.NewSessionHandler(deps.Sessions)
		authed.GET("/sessions/:component", sessionHandler.Get)
	}
}

// userAuthMiddleware validates user JWTs and loads the caller's current tier.
func userAuthMiddleware(l *ledger.Ledger, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token, ok := security.BearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, jwtCfg.Issuer, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, errSubject := claims.UserID()
		if errSubject != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			return
		}

		bal, errBalance := l.Balance(c.Request.Context(), userID)
		if errBalance != nil {
			if errors.Is(errBalance, ledger.ErrAccountNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
				return
			}
			log.WithError(errBalance).Error("front auth: load account failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load account failed"})
			return
		}

		c.Set(handlers.ContextUserID, userID)
		c.Set(handlers.ContextUserTier, tier.Tier(bal.Tier))
		c.Next()
	}
}

// rateLimitMiddleware applies the per-user tier limit. Limiter failures let the
// request through.
func rateLimitMiddleware(limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, _ := c.Get(handlers.ContextUserID)
		tierName, _ := c.Get(handlers.ContextUserTier)
		id, _ := userID.(uint64)
		t, _ := tierName.(tier.Tier)

		result, errLimit := limiter.AllowUser(c.Request.Context(), id, string(t))
		if errLimit != nil {
			log.WithError(errLimit).Warn("front rate limit: check failed")
			c.Next()
			return
		}
		if !result.Allowed {
			handlers.RejectRateLimited(c, result)
			return
		}
		c.Next()
	}
}
