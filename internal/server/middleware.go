// Package server wires the gateway's HTTP routes onto gin (spec §6).
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
)

// CORSMiddleware allows any origin, mirroring the teacher's permissive
// browser-facing default.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// APIKeyAuthMiddleware validates the bearer/X-API-Key header for /v1/* and
// /v1beta/* routes when cfg.APIKey is set.
func APIKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		var provided string
		auth := c.GetHeader("Authorization")
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			provided = strings.TrimPrefix(auth, "Bearer ")
		case c.GetHeader("X-API-Key") != "":
			provided = c.GetHeader("X-API-Key")
		}

		if provided == "" || provided != cfg.APIKey {
			logging.Warn("[server] unauthorized request from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type":  "error",
				"error": gin.H{"type": "authentication_error", "message": "Invalid or missing API key"},
			})
			return
		}
		c.Next()
	}
}

// RequestLoggingMiddleware logs every request, demoting chatty endpoints to
// debug level the way the teacher's logger does.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		if strings.HasPrefix(path, "/v1/messages/count_tokens") || path == "/healthz" {
			if logging.IsDebug() {
				logging.Debug("[%s] %s %d (%dms)", c.Request.Method, path, status, duration.Milliseconds())
			}
			return
		}

		switch {
		case status >= 500:
			logging.Error("[%s] %s %d (%dms)", c.Request.Method, path, status, duration.Milliseconds())
		case status >= 400:
			logging.Warn("[%s] %s %d (%dms)", c.Request.Method, path, status, duration.Milliseconds())
		default:
			logging.Info("[%s] %s %d (%dms)", c.Request.Method, path, status, duration.Milliseconds())
		}
	}
}
