package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visite/visite-admin/internal/models"
)

func (s *Server) listDrafts(c *gin.Context) {
	drafts, err := s.sessionService.ListDrafts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if drafts == nil {
		drafts = []models.Draft{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"drafts":  drafts,
		"count":   len(drafts),
	})
}

func (s *Server) sendNotification(c *gin.Context) {
	var req struct {
		Title    string   `json:"title" binding:"required"`
		Message  string   `json:"message" binding:"required"`
		Tags     []string `json:"tags"`
		Priority int      `json:"priority" binding:"omitempty,min=1,max=5"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	if err := s.notificationService.SendCustomNotification(req.Title, req.Message, req.Tags, req.Priority); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Notification sent",
	})
}

func (s *Server) sendTestNotification(c *gin.Context) {
	if err := s.notificationService.SendTestNotification(); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Test notification sent",
	})
}

func (s *Server) sendTestEmail(c *gin.Context) {
	var req struct {
		To string `json:"to" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	if err := s.emailService.SendTestEmail(req.To); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Test email sent to " + req.To,
	})
}
