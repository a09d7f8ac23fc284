package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ytrelay/transfer"
)

type transferBody struct {
	URL         string   `json:"url" binding:"required"`
	FormatID    string   `json:"format_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Privacy     string   `json:"privacy"`
}

func (s *Server) createTransfer(c *gin.Context) {
	var body transferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "url is required")
		return
	}
	job, err := s.opts.Transfers.Submit(c.Request.Context(), transfer.Request{
		UserID:      c.Param("user"),
		URL:         body.URL,
		FormatID:    body.FormatID,
		Title:       body.Title,
		Description: body.Description,
		Tags:        body.Tags,
		Privacy:     body.Privacy,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) getTransfer(c *gin.Context) {
	job, err := s.opts.Transfers.Store().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listTransfers(c *gin.Context) {
	jobs, err := s.opts.Transfers.Store().List(c.Request.Context(), c.Param("user"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": jobs})
}

func (s *Server) poolStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Transfers.Pool().Stats())
}

func (s *Server) listHistory(c *gin.Context) {
	history, err := s.opts.Store.ListHistory(c.Request.Context(), c.Param("user"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
