// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. A valid
// "Authorization: Bearer <token>" header resolves to a username which is
// stored in the Gin context under "userID", where the logger, rate limiter,
// idempotency validator, and handlers pick it up.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/auth"
)

// ctxKeyUser is the Gin context key holding the authenticated username.
const ctxKeyUser = "userID"

// Authenticator resolves a session token to a username.
type Authenticator func(ctx context.Context, token string) (string, error)

// Auth rejects requests without a valid bearer token with 401 and the
// standard error envelope.
func Auth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "missing bearer token")
			return
		}
		user, err := authn(c.Request.Context(), tok)
		if err != nil || user == "" {
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ctxKeyUser, user)

		// Enrich the request-scoped logger now that the caller is known.
		l := LoggerFrom(c).With().Str("user_id", user).Logger()
		c.Set(loggerKey, &l)

		c.Next()
	}
}

// Username returns the authenticated username, or "" when the request did
// not pass through Auth.
func Username(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUser); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
