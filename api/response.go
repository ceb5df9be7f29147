package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Skryldev/parkd/auth"
	"github.com/Skryldev/parkd/parking"
)

// Envelope wraps every JSON body the API writes.
type Envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func success(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Status: true, Message: message, Data: data})
}

func failure(c *gin.Context, status int, code, message, detail string) {
	c.AbortWithStatusJSON(status, Envelope{
		Status:  false,
		Message: message,
		Error:   detail,
		Code:    code,
	})
}

// badRequest reports malformed input that never reached the engine.
func badRequest(c *gin.Context, detail string) {
	failure(c, http.StatusBadRequest, "ERR_BAD_REQUEST", "invalid request", detail)
}

// fail maps err onto a status code and writes it. Internal errors are logged
// and replaced by a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "request failed",
			"request_id", requestID(c), "route", c.FullPath(), "error", err)
		failure(c, status, code, "internal error", "")
		return
	}
	failure(c, status, code, http.StatusText(status), err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "ERR_TOKEN_INVALID"
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, "ERR_USER_EXISTS"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "ERR_VALIDATION_ERROR"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "ERR_FORBIDDEN"
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, "ERR_NOT_FOUND"
	}

	kind := parking.KindOf(err)
	code := "ERR_" + strings.ToUpper(kind.String())
	switch kind {
	case parking.KindNotFound:
		return http.StatusNotFound, code
	case parking.KindInvalidState, parking.KindCapacityViolation, parking.KindConflictViolation:
		return http.StatusConflict, code
	case parking.KindForbidden:
		return http.StatusForbidden, code
	case parking.KindValidation:
		return http.StatusBadRequest, code
	default:
		return http.StatusInternalServerError, code
	}
}
