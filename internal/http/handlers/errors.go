// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. The same
// codes travel inside websocket "error" events, so ErrorFor is exported for
// the gateway.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "unknown_recipient",
//	  "message": "unknown recipient"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/go-dm-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotAuthenticated   = "not_authenticated"
	ErrCodeAlreadyIdentified  = "already_identified"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUsernameTaken      = "username_taken"
	ErrCodeInvalidUsername    = "invalid_username"
	ErrCodeWeakPassword       = "weak_password"
	ErrCodeInvalidRecipient   = "invalid_recipient"
	ErrCodeUnknownRecipient   = "unknown_recipient"
	ErrCodeEmptyMessage       = "empty_message"
	ErrCodeTooLong            = "too_long"
	ErrCodeInvalidMedia       = "invalid_media"
	ErrCodeUnsupportedMedia   = "unsupported_media"
	ErrCodeMediaTooLarge      = "media_too_large"
	ErrCodePersistence        = "persistence_failure"
	ErrCodeUnknownEvent       = "unknown_event"
)

type errMapping struct {
	target error
	status int
	code   string
}

var errTable = []errMapping{
	{services.ErrNotAuthenticated, http.StatusUnauthorized, ErrCodeNotAuthenticated},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
	{services.ErrUsernameTaken, http.StatusConflict, ErrCodeUsernameTaken},
	{services.ErrInvalidUsername, http.StatusBadRequest, ErrCodeInvalidUsername},
	{services.ErrWeakPassword, http.StatusBadRequest, ErrCodeWeakPassword},
	{services.ErrInvalidRecipient, http.StatusBadRequest, ErrCodeInvalidRecipient},
	{services.ErrUnknownRecipient, http.StatusNotFound, ErrCodeUnknownRecipient},
	{services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeEmptyMessage},
	{services.ErrTooLong, http.StatusBadRequest, ErrCodeTooLong},
	{services.ErrInvalidMedia, http.StatusBadRequest, ErrCodeInvalidMedia},
	{services.ErrNotParticipant, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrMessageNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrUnsupportedMedia, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia},
	{services.ErrMediaTooLarge, http.StatusRequestEntityTooLarge, ErrCodeMediaTooLarge},
	{services.ErrMediaNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrPersistence, http.StatusInternalServerError, ErrCodePersistence},
}

// ErrorFor maps a service error to an HTTP status and stable code. Unknown
// errors map to 500 internal_error.
func ErrorFor(err error) (status int, code string) {
	for _, m := range errTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
