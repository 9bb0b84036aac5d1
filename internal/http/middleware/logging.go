// Package middleware contains the Gin middleware shared by the REST API and
// the websocket upgrade route.
//
// This file covers request correlation, access logging and panic recovery:
//
//   - RequestID reuses or mints the X-Request-ID correlation id.
//   - AccessLog stores a request-scoped zerolog.Logger under "logger" and,
//     once the handler returns, emits one access line with secrets scrubbed.
//   - Recovery turns a panic into the standard 500 envelope.
//   - LoggerFrom hands the scoped logger to handlers and the ws gateway.
//
// Mount order: RequestID, AccessLog, Recovery. Auth runs later in the chain,
// so the access line reads the username after c.Next returns.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the logged raw query, in bytes.
	maxQueryLogLength = 2048

	redacted = "[REDACTED]"
)

// RequestID propagates the caller's X-Request-ID or generates a UUIDv4, and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// AccessLogOptions tunes AccessLog.
//
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced entirely. Authorization, Cookie and Set-Cookie are always masked.
// LogHeaders adds the scrubbed request headers to the access line.
type AccessLogOptions struct {
	MaskHeaders []string
	LogHeaders  bool
}

// AccessLog writes one structured line per request. Bodies are never logged.
// Query strings and header values go through a scrubber that masks session
// tokens (the ws upgrade carries ?access_token=), UUIDs, emails and phone
// numbers.
//
// Level follows the outcome: error for 5xx or collected gin errors, warn for
// 4xx, info otherwise.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	scrub := newScrubber()
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		scoped := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", route).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &scoped)

		var headers map[string]string
		if opts.LogHeaders {
			headers = make(map[string]string, len(c.Request.Header))
			for k, vv := range c.Request.Header {
				if _, ok := masked[strings.ToLower(k)]; ok {
					headers[k] = redacted
					continue
				}
				headers[k] = scrub(strings.Join(vv, ", "))
			}
		}

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = scoped.Error().Str("errors", scrub(c.Errors.String()))
		case status >= http.StatusInternalServerError:
			ev = scoped.Error()
		case status >= http.StatusBadRequest:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}
		if u := Username(c); u != "" {
			ev = ev.Str("user_id", u)
		}
		if headers != nil {
			ev = ev.Interface("headers", headers)
		}
		ev.
			Str("query", truncate(scrub(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("user_agent", c.Request.UserAgent()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// newScrubber returns a func that masks secrets and obvious PII. UUIDs are
// replaced before phone numbers so the loose phone pattern never eats the
// digit groups of an id.
func newScrubber() func(string) string {
	tokenRE := regexp.MustCompile(`(?i)\b(access_token|token)=[^&\s]*`)
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	return func(s string) string {
		if s == "" {
			return s
		}
		s = tokenRE.ReplaceAllString(s, "$1="+redacted)
		s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
		return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	}
}

// Recovery logs the panic with its stack and answers with the 500 envelope
// when nothing has been written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// AccessLog is not mounted. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
