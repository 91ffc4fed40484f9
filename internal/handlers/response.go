package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/surveyforge/codeframe-backend/internal/services"
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

// RespondServiceError maps pipeline error kinds onto HTTP statuses so
// handlers don't each re-implement the mapping.
func RespondServiceError(c *gin.Context, err error) {
	var perr *services.PipelineError
	if !errors.As(err, &perr) {
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	switch perr.Kind {
	case services.ErrKindInput:
		RespondError(c, http.StatusBadRequest, perr.Kind, err)
	case services.ErrKindApplyConflict:
		RespondError(c, http.StatusConflict, perr.Kind, err)
	default:
		RespondError(c, http.StatusInternalServerError, perr.Kind, err)
	}
}
