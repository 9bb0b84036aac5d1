// Response helpers shared by every endpoint. Errors always use the
// ErrorResponse envelope with a stable code from errors.go; 5xx responses are
// logged through the request-scoped logger and never echo internal causes.
//
//	HTTP/1.1 404 Not Found
//	{"request_id":"123e4567-e89b-12d3-a456-426614174000","code":"unknown_recipient","message":"unknown recipient"}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints and mirrored
// by the websocket error event.
type ErrorResponse struct {
	// Echo of X-Request-ID, for correlating client reports with server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code.
	Code string `json:"code" example:"not_found"`
	// Human-readable message, safe to display.
	Message string `json:"message" example:"resource not found"`
}

// fail aborts with the envelope. Server errors are logged at error level.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error through ErrorFor and writes the envelope.
// Server errors carry a generic message to the client; the cause is kept
// in the request log.
func failErr(c *gin.Context, err error) {
	status, code := ErrorFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		msg = http.StatusText(status)
		if errors.Is(err, services.ErrPersistence) {
			msg = services.ErrPersistence.Error()
		}
	}
	fail(c, status, code, msg)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
