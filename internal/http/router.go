package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/frame"
	"github.com/saker-ai/presence-engine/internal/mood"
	"github.com/saker-ai/presence-engine/internal/observe"
	"github.com/saker-ai/presence-engine/internal/provider"
	"github.com/saker-ai/presence-engine/internal/turn"
	"github.com/saker-ai/presence-engine/webassets"
)

// Conversation is the control surface exposed over HTTP.
type Conversation interface {
	Submit(text string) (string, bool)
	Interrupt()
	StartListening(ctx context.Context) error
	StopListening()
	Snapshot() turn.Snapshot
}

// Options wires the router.
type Options struct {
	Conversation   Conversation
	Catalog        *mood.Catalog
	LastFrame      func() frame.Params
	WebSocket      http.HandlerFunc
	Metrics        *observe.Metrics
	MetricsHandler http.Handler
	// FrontendDir serves the renderer from disk instead of the embedded copy.
	FrontendDir string
	Logger      *zap.Logger
}

type turnRequest struct {
	Text string `json:"text"`
}

// NewRouter builds the HTTP surface.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if opts.Metrics != nil {
		router.Use(observe.GinMiddleware(opts.Metrics))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.WebSocket != nil {
		router.GET("/client-ws", func(c *gin.Context) {
			opts.WebSocket(c.Writer, c.Request)
		})
	}
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	api := router.Group("/api")
	api.GET("/moods", func(c *gin.Context) {
		catalog := opts.Catalog
		if catalog == nil {
			catalog = mood.Default()
		}
		c.JSON(http.StatusOK, gin.H{"moods": catalog.Profiles()})
	})
	if opts.LastFrame != nil {
		api.GET("/frame", func(c *gin.Context) {
			c.JSON(http.StatusOK, opts.LastFrame())
		})
	}
	if conv := opts.Conversation; conv != nil {
		mountConversation(api, conv)
	}

	if opts.FrontendDir == "" && mountEmbeddedFrontend(router, logger) {
		return router
	}
	if opts.FrontendDir != "" {
		router.Static("/frontend", opts.FrontendDir)
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(opts.FrontendDir, "index.html"))
		})
	}
	return router
}

func mountConversation(api *gin.RouterGroup, conv Conversation) {
	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, conv.Snapshot())
	})
	api.POST("/turn", func(c *gin.Context) {
		var req turnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		id, ok := conv.Submit(req.Text)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is empty"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"turn_id": id})
	})
	api.POST("/interrupt", func(c *gin.Context) {
		conv.Interrupt()
		c.JSON(http.StatusOK, gin.H{"status": conv.Snapshot().Status})
	})
	api.POST("/listen/start", func(c *gin.Context) {
		if err := conv.StartListening(c.Request.Context()); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, provider.ErrUnsupportedCapability) {
				code = http.StatusConflict
			}
			c.JSON(code, gin.H{"error": err.Error(), "status": conv.Snapshot().Status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": conv.Snapshot().Status})
	})
	api.POST("/listen/stop", func(c *gin.Context) {
		conv.StopListening()
		c.JSON(http.StatusOK, gin.H{"status": conv.Snapshot().Status})
	})
}

func mountEmbeddedFrontend(router *gin.Engine, logger *zap.Logger) bool {
	embeddedRoot, err := webassets.Subdir("renderer")
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded renderer assets", zap.Error(err))
		}
		return false
	}

	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded index.html", zap.Error(err))
		}
		return false
	}
	if logger != nil {
		logger.Info("serving embedded renderer assets", zap.String("source", "webassets/renderer"))
	}
	router.StaticFS("/frontend", http.FS(embeddedRoot))
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
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
