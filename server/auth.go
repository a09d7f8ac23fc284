package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ytrelay/youtube"
)

func (s *Server) authURL(c *gin.Context) {
	if s.opts.OAuth == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "oauth is not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": youtube.AuthURL(s.opts.OAuth, c.Param("user"))})
}

type exchangeBody struct {
	Code string `json:"code" binding:"required"`
}

// authExchange trades the code from the consent redirect for tokens and
// stores them, so that uploads and automation can refresh on their own.
func (s *Server) authExchange(c *gin.Context) {
	if s.opts.OAuth == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "oauth is not configured"})
		return
	}
	var body exchangeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "code is required")
		return
	}
	creds, err := youtube.Exchange(c.Request.Context(), s.opts.OAuth, s.opts.Store, c.Param("user"), body.Code)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":           creds.UserID,
		"expiry":            creds.Expiry,
		"has_refresh_token": creds.RefreshToken != "",
	})
}
