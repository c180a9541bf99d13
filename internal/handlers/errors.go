package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visite/visite-admin/internal/backend"
	"github.com/visite/visite-admin/internal/forms"
	"github.com/visite/visite-admin/internal/mapview"
	"github.com/visite/visite-admin/internal/models"
	"github.com/visite/visite-admin/internal/services"
)

// errorResponse maps a service error onto the JSON error envelope
func errorResponse(err error) models.ErrorResponse {
	resp := models.ErrorResponse{
		Success: false,
		Error:   err.Error(),
		Code:    http.StatusInternalServerError,
	}

	var verr *services.ValidationError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &verr):
		resp.Code = http.StatusUnprocessableEntity
		resp.Error = verr.Message
		resp.Fields = verr.Fields
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrFormNotFound),
		errors.Is(err, mapview.ErrMarkerNotFound):
		resp.Code = http.StatusNotFound
	case errors.Is(err, forms.ErrUnknownField):
		resp.Code = http.StatusBadRequest
	case errors.Is(err, services.ErrSessionLoading),
		errors.Is(err, services.ErrSessionSuperseded),
		errors.Is(err, services.ErrSubmitInFlight):
		resp.Code = http.StatusConflict
	case errors.As(err, &apiErr):
		resp.Error = apiErr.Message
		resp.Code = http.StatusBadGateway
		if apiErr.StatusCode == http.StatusNotFound {
			resp.Code = http.StatusNotFound
		}
	case errors.Is(err, services.ErrSubmitFailed):
		resp.Code = http.StatusBadGateway
	case errors.Is(err, services.ErrNotificationsDisabled),
		errors.Is(err, services.ErrEmailDisabled):
		resp.Code = http.StatusServiceUnavailable
	}
	return resp
}

func (s *Server) respondError(c *gin.Context, err error) {
	resp := errorResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(resp.Code, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error:   msg,
		Code:    http.StatusBadRequest,
	})
}
