package http

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/voice-overlay/internal/config"
	"github.com/saker-ai/voice-overlay/internal/session/fsm"
	"github.com/saker-ai/voice-overlay/internal/voice"
	"github.com/saker-ai/voice-overlay/internal/ws"
	"github.com/saker-ai/voice-overlay/webassets"
)

// SessionInfo is the part of the overlay client the router reports on.
type SessionInfo interface {
	State() fsm.State
	GuildID() string
	ChannelID() string
}

// NewRouter mounts health, state, the viewer websocket and the overlay page.
// session may be nil before the overlay connection is up.
func NewRouter(cfg appconfig.Config, wsHandler *ws.Handler, tracker *voice.Tracker, session SessionInfo, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok", "viewers": wsHandler.ViewerCount()}
		status := http.StatusOK
		if session == nil || session.State() != fsm.StateReady {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
		if session != nil {
			body["overlay_state"] = session.State()
			body["guild_id"] = session.GuildID()
			body["channel_id"] = session.ChannelID()
		}
		c.JSON(status, body)
	})

	router.GET("/state", func(c *gin.Context) {
		snap, version := tracker.Snapshot()
		c.Header("X-State-Version", strconv.FormatUint(version, 10))
		c.JSON(http.StatusOK, snap)
	})

	router.GET("/overlay-ws", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	if !mountEmbeddedFrontend(router, logger) {
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.Viewer.FrontendDir, "index.html"))
		})
		router.Static("/overlay", cfg.Viewer.FrontendDir)
	}

	return router
}

func mountEmbeddedFrontend(router *gin.Engine, logger *zap.Logger) bool {
	embeddedRoot, err := webassets.Subdir("overlay")
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded overlay page; falling back to disk", zap.Error(err))
		}
		return false
	}

	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded index.html; falling back to disk", zap.Error(err))
		}
		return false
	}
	if logger != nil {
		logger.Info("serving embedded overlay page", zap.String("source", "webassets/overlay"))
	}

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	router.StaticFS("/overlay", http.FS(embeddedRoot))
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
