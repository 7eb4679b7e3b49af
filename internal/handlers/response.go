package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps the domain error taxonomy onto HTTP statuses so every
// handler reports failures the same way.
func RespondAppError(c *gin.Context, err error) {
	var verr *apperr.ValidationError
	var inUse *apperr.FieldInUseError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperr.ErrRebuildInProgress):
		RespondError(c, http.StatusConflict, "rebuild_in_progress", err)
	case errors.As(err, &verr):
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
	case errors.As(err, &inUse):
		RespondError(c, http.StatusConflict, "field_in_use", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
