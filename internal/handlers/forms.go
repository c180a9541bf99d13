package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visite/visite-admin/internal/models"
	"github.com/visite/visite-admin/internal/services"
)

// Version is reported by /health and set at build time
var Version = "dev"

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

func (s *Server) listForms(c *gin.Context) {
	forms, err := s.formService.GetAvailableForms(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"forms":   forms,
	})
}

func (s *Server) getForm(c *gin.Context) {
	form, err := s.formService.GetFormView(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"form":    form,
	})
}

func (s *Server) startSession(c *gin.Context) {
	var req struct {
		FormUUID string `json:"form_uuid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	view, err := s.sessionService.Start(c.Request.Context(), req.FormUUID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": view,
	})
}

func (s *Server) getSession(c *gin.Context) {
	view, err := s.sessionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

func (s *Server) reloadSession(c *gin.Context) {
	view, err := s.sessionService.Reload(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

func (s *Server) discardSession(c *gin.Context) {
	if err := s.sessionService.Discard(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Session discarded",
	})
}

func (s *Server) setValue(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	view, err := s.sessionService.SetValue(c.Request.Context(), c.Param("id"), req.Key, req.Value)
	if err != nil {
		// The raw value is kept; the client gets the session back with the error
		var verr *services.ValidationError
		if errors.As(err, &verr) && view != nil {
			resp := errorResponse(err)
			c.JSON(resp.Code, gin.H{
				"success": false,
				"error":   resp.Error,
				"code":    resp.Code,
				"fields":  resp.Fields,
				"session": view,
			})
			return
		}
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

func (s *Server) setLocation(c *gin.Context) {
	var fix models.GeoFix
	if err := c.ShouldBindJSON(&fix); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	view, err := s.sessionService.SetLocation(c.Request.Context(), c.Param("id"), fix)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

func (s *Server) validateSession(c *gin.Context) {
	result, err := s.sessionService.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"is_valid": result.IsValid,
		"errors":   result.Errors,
	})
}

func (s *Server) submitSession(c *gin.Context) {
	var req models.SubmitRequest
	// An empty body submits anonymously
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
	}

	result, err := s.submissionService.Submit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		resp := errorResponse(err)
		if resp.Code >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		body := gin.H{
			"success": false,
			"error":   resp.Error,
			"code":    resp.Code,
		}
		if resp.Fields != nil {
			body["fields"] = resp.Fields
		}
		if result != nil {
			body["result"] = result
		}
		c.JSON(resp.Code, body)
		return
	}

	message := result.Message
	if message == "" {
		message = "Visit submitted successfully"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"result":  result,
	})
}
