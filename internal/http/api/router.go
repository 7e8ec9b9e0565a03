// Package api assembles the HTTP surface.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/http/api/admin"
	"github.com/hrvstr/datagate/internal/http/api/front"
	log "github.com/sirupsen/logrus"
)

// Services wires the route groups.
type Services struct {
	Front front.Deps
	Admin admin.Deps
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc Services) *gin.Engine {
	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())

	admin.RegisterAdminRoutes(engine, svc.Admin)
	front.RegisterFrontRoutes(engine, svc.Front)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

// requestLogger logs one line per request. Health and metrics scrapes log at debug.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if userID, ok := c.Get("userID"); ok {
			entry = entry.WithField("user_id", userID)
		}
		switch {
		case isProbe(c.Request.URL.Path):
			entry.Debug("request")
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func isProbe(requestPath string) bool {
	return requestPath == "/healthz" || requestPath == "/metrics" || strings.HasPrefix(requestPath, "/healthz/")
}
