package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/cachestore"
	"github.com/hrvstr/datagate/internal/config"
	handlers "github.com/hrvstr/datagate/internal/http/api/admin/handlers"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/security"
	"github.com/hrvstr/datagate/internal/sessions"
	"github.com/hrvstr/datagate/internal/tier"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services behind the admin routes.
type Deps struct {
	Cache    *cachestore.Store
	Ledger   *ledger.Ledger
	Sessions *sessions.Manager
	Policies *tier.Table
	Sweeper  handlers.Sweeper // Optional.
	JWT      config.JWTConfig
}

// RegisterAdminRoutes registers health, metrics and admin routes.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Cache == nil || deps.Ledger == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.Cache)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(deps.JWT))

	cacheHandler := handlers.NewCacheHandler(deps.Cache)
	authed.GET("/cache/stats", cacheHandler.Stats)
	authed.POST("/cache/clear", cacheHandler.Clear)

	userHandler := handlers.NewUserHandler(deps.Ledger, deps.Policies)
	authed.POST("/users", userHandler.Create)
	authed.GET("/users/:id", userHandler.Get)
	authed.PUT("/users/:id/tier", userHandler.SetTier)
	authed.POST("/users/:id/credits", userHandler.Grant)

	if deps.Sessions != nil {
		sessionHandler := handlers.NewSessionHandler(deps.Sessions)
		authed.GET("/sessions", sessionHandler.List)
		authed.POST("/sessions/:sessionID/expire", sessionHandler.Expire)
	}
	if deps.Sweeper != nil {
		cleanupHandler := handlers.NewCleanupHandler(deps.Sweeper)
		authed.POST("/cleanup/run", cleanupHandler.Run)
	}
}

// adminAuthMiddleware validates JWTs and requires the admin claim.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
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
		if !claims.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin required"})
			return
		}
		c.Set("adminSubject", claims.Subject)
		c.Next()
	}
}
