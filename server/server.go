// Package server exposes ytrelay over HTTP: transfers, previews,
// automation control and the OAuth exchange, under /api/v1.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"ytrelay/automation"
	"ytrelay/formats"
	"ytrelay/platform"
	"ytrelay/storage"
	"ytrelay/transfer"
	"ytrelay/youtube"
)

// Options wires a Server.
type Options struct {
	Transfers  *transfer.Orchestrator
	Automation *automation.Manager
	Store      storage.Store
	Preview    *Previewer
	// OAuth enables the auth endpoints when set.
	OAuth *oauth2.Config
}

// Server holds the API handlers.
type Server struct {
	opts Options
}

// New creates a server.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.GET("/platforms", s.listPlatforms)
	api.POST("/detect_platform", s.detectPlatform)
	api.POST("/metadata", s.previewMetadata)
	api.POST("/qualities", s.previewQualities)
	api.GET("/transfers/:id", s.getTransfer)
	api.GET("/stats", s.poolStats)

	user := api.Group("/users/:user")
	user.POST("/transfers", s.createTransfer)
	user.GET("/transfers", s.listTransfers)
	user.GET("/history", s.listHistory)

	user.GET("/settings", s.getSettings)
	user.PUT("/settings", s.putSettings)
	user.GET("/channels", s.listChannels)
	user.POST("/channels", s.addChannel)
	user.DELETE("/channels/:channel", s.removeChannel)
	user.POST("/channel_info", s.channelInfo)
	user.GET("/logs", s.getLogs)
	user.DELETE("/logs", s.clearLogs)
	user.POST("/automation/start", s.startAutomation)
	user.POST("/automation/stop", s.stopAutomation)
	user.GET("/automation/status", s.automationStatus)

	user.GET("/auth/url", s.authURL)
	user.POST("/auth/exchange", s.authExchange)
	return r
}

// HTTPServer wraps Router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).Debugln("server: request")
	}
}

// errStatus maps package errors onto HTTP codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, transfer.ErrPoolFull):
		return http.StatusTooManyRequests
	case errors.Is(err, transfer.ErrPoolClosed), errors.Is(err, automation.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, transfer.ErrJobNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, youtube.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, automation.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrInvalidRequest),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, youtube.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, youtube.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := errStatus(err)
	if status >= 500 {
		log.WithField("path", c.FullPath()).Errorf("server: %v", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

type urlBody struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) listPlatforms(c *gin.Context) {
	type entry struct {
		ID    platform.ID `json:"id"`
		Name  string      `json:"name"`
		Hosts []string    `json:"hosts,omitempty"`
	}
	ids := platform.Supported()
	out := make([]entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, entry{ID: id, Name: platform.DisplayName(id), Hosts: platform.Hosts(id)})
	}
	c.JSON(http.StatusOK, gin.H{"platforms": out})
}

func (s *Server) detectPlatform(c *gin.Context) {
	var body urlBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "url is required")
		return
	}
	cls := s.opts.Preview.Classify(c.Request.Context(), body.URL)
	resp := gin.H{
		"platform":     cls.Platform,
		"display_name": platform.DisplayName(cls.Platform),
		"outcome":      cls.Outcome.String(),
	}
	if cls.Err != nil {
		resp["warning"] = cls.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) previewMetadata(c *gin.Context) {
	var body urlBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "url is required")
		return
	}
	entry, err := s.opts.Preview.Load(c.Request.Context(), body.URL)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": previewKind(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": entry.Metadata})
}

func (s *Server) previewQualities(c *gin.Context) {
	var body urlBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "url is required")
		return
	}
	entry, err := s.opts.Preview.Load(c.Request.Context(), body.URL)
	if err != nil {
		// Listing degrades to the fallback row instead of failing.
		log.WithField("url", body.URL).Warnf("server: quality listing: %v", err)
		c.JSON(http.StatusOK, gin.H{"qualities": formats.Fallback(), "recommended": formats.Fallback()})
		return
	}
	qualities := s.opts.Preview.Qualities(entry)
	c.JSON(http.StatusOK, gin.H{
		"qualities":   qualities,
		"recommended": formats.Recommended(qualities),
		"title":       entry.Metadata.Title,
		"duration":    entry.Metadata.Duration,
	})
}
