package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/gateway"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
	"github.com/poemonsense/antigravity-proxy-go/internal/server/handlers"
	"github.com/poemonsense/antigravity-proxy-go/internal/warmup"
)

// requestBodyLimit caps incoming bodies at 10MB, matching the teacher's
// global body-size guard.
const requestBodyLimit = 10 << 20

// Server wraps the gin engine and the http.Server it runs on.
type Server struct {
	engine *gin.Engine
	cfg    *config.Config
	http   *http.Server
}

// New builds the engine and registers every route in spec §6.
func New(cfg *config.Config, dispatcher *gateway.Dispatcher, poolMgr *pool.Manager, warmupSched *warmup.Scheduler) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware())
	engine.Use(RequestLoggingMiddleware())
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, requestBodyLimit)
		c.Next()
	})

	h := &handlers.Handlers{
		Dispatcher: dispatcher,
		Cfg:        cfg,
		Pool:       poolMgr,
		Warmup:     warmupSched,
	}

	engine.GET("/healthz", h.Healthz)

	v1 := engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(cfg))
	{
		v1.POST("/chat/completions", h.ChatCompletions)
		v1.POST("/completions", h.Completions)
		v1.POST("/messages", h.Messages)
		v1.POST("/messages/count_tokens", h.CountTokens)
		v1.POST("/images/generations", h.ImagesGenerations)
		v1.POST("/images/edits", h.ImagesEdits)
		v1.POST("/audio/transcriptions", h.AudioTranscriptions)
		v1.GET("/models", h.Models)
	}

	v1beta := engine.Group("/v1beta")
	v1beta.Use(APIKeyAuthMiddleware(cfg))
	{
		// The model and action share one path segment ("{model}:generateContent"),
		// so this is parsed manually rather than split across two gin params.
		v1beta.POST("/models/:modelAction", func(c *gin.Context) {
			model, action, ok := splitModelAction(c.Param("modelAction"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown action"}})
				return
			}
			c.Params = append(c.Params, gin.Param{Key: "model", Value: model})
			switch action {
			case "generateContent":
				h.GenerateContent(c)
			case "streamGenerateContent":
				h.StreamGenerateContent(c)
			default:
				c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown action"}})
			}
		})
	}

	engine.POST("/internal/warmup", h.Warmup)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("Endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})

	return &Server{engine: engine, cfg: cfg}
}

// splitModelAction splits "{model}:{action}" on its last colon, since model
// ids never contain one but the action always follows it.
func splitModelAction(raw string) (model, action string, ok bool) {
	idx := strings.LastIndexByte(raw, ':')
	if idx < 0 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}

// Engine exposes the gin engine for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	logging.Info("[server] listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline (spec §5
// "Graceful shutdown cancels the auto-cleanup task and awaits completion
// within the caller-supplied timeout").
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
