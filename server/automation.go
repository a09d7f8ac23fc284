package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ytrelay/automation"
	"ytrelay/storage"
)

const defaultLogLimit = 100

type settingsBody struct {
	MonitorInterval int    `json:"monitor_interval"`
	DefaultQuality  string `json:"default_quality"`
	APIKey          string `json:"api_key"`
	Privacy         string `json:"privacy"`
}

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.opts.Automation.Settings(c.Request.Context(), c.Param("user"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) putSettings(c *gin.Context) {
	var body settingsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid settings")
		return
	}
	if body.MonitorInterval < 0 {
		badRequest(c, "monitor_interval must not be negative")
		return
	}
	switch body.Privacy {
	case "", "public", "unlisted", "private":
	default:
		badRequest(c, "privacy must be public, unlisted or private")
		return
	}
	settings := &storage.Settings{
		UserID:          c.Param("user"),
		MonitorInterval: body.MonitorInterval,
		DefaultQuality:  body.DefaultQuality,
		APIKey:          body.APIKey,
		Privacy:         body.Privacy,
	}
	if err := s.opts.Store.PutSettings(c.Request.Context(), settings); err != nil {
		fail(c, err)
		return
	}
	s.getSettings(c)
}

func (s *Server) listChannels(c *gin.Context) {
	channels, err := s.opts.Store.ListChannels(c.Request.Context(), c.Param("user"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

type channelBody struct {
	Channel string `json:"channel" binding:"required"`
	Quality string `json:"quality"`
}

func (s *Server) addChannel(c *gin.Context) {
	var body channelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "channel is required")
		return
	}
	ch, err := s.opts.Automation.AddChannel(c.Request.Context(), c.Param("user"), body.Channel, body.Quality)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) removeChannel(c *gin.Context) {
	if err := s.opts.Automation.RemoveChannel(c.Request.Context(), c.Param("user"), c.Param("channel")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) channelInfo(c *gin.Context) {
	var body channelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "channel is required")
		return
	}
	info, err := s.opts.Automation.Lookup(c.Request.Context(), c.Param("user"), body.Channel)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getLogs(c *gin.Context) {
	limit := defaultLogLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	user := c.Param("user")
	logs, err := s.opts.Store.ListLogs(ctx, user, limit)
	if err != nil {
		fail(c, err)
		return
	}
	enabled, err := s.opts.Store.ServiceEnabled(ctx, user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "service_status": enabled})
}

func (s *Server) clearLogs(c *gin.Context) {
	if err := s.opts.Store.ClearLogs(c.Request.Context(), c.Param("user")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startAutomation(c *gin.Context) {
	user := c.Param("user")
	if err := s.opts.Automation.Start(c.Request.Context(), user); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.opts.Automation.Status(user))
}

func (s *Server) stopAutomation(c *gin.Context) {
	user := c.Param("user")
	err := s.opts.Automation.Stop(c.Request.Context(), user)
	if err != nil && !errors.Is(err, automation.ErrNotRunning) {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopping": err == nil})
}

func (s *Server) automationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Automation.Status(c.Param("user")))
}
