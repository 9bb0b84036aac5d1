// Package middleware contains the Gin middleware shared by the REST API and
// the websocket upgrade route.
//
// This file sets response hardening headers. API responses carry private
// data (conversations, session tokens), so shared caches must not keep them
// and clients must revalidate, which keeps the history ETag useful. Media
// downloads opt out so the handler's immutable Cache-Control survives.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// exposedHeaders are readable by browser clients across origins.
var exposedHeaders = []string{requestIDHeader, "ETag", "Idempotency-Replayed", "Retry-After"}

// SecurityOptions configures SecurityHeaders.
//
// HSTS is only sent on HTTPS requests (direct TLS or X-Forwarded-Proto) and
// HSTSMaxAge defaults to 180 days. Private marks responses
// "private, no-cache" except under the CacheablePrefixes paths.
type SecurityOptions struct {
	EnableHSTS        bool
	HSTSMaxAge        time.Duration
	Private           bool
	CacheablePrefixes []string
	EnablePolicy      bool
}

// SecurityHeaders returns the hardening middleware.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour) / time.Second)
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			// Uploads come from file pickers, never from device capture.
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.Private && !hasAnyPrefix(c.Request.URL.Path, opt.CacheablePrefixes) {
			h.Set("Cache-Control", "private, no-cache")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		exposeHeaders(h)

		c.Next()
	}
}

// exposeHeaders merges exposedHeaders into Access-Control-Expose-Headers
// without dropping names set earlier (for example by CORS).
func exposeHeaders(h http.Header) {
	const key = "Access-Control-Expose-Headers"
	have := map[string]bool{}
	var out []string
	for _, part := range strings.Split(h.Get(key), ",") {
		if p := strings.TrimSpace(part); p != "" && !have[strings.ToLower(p)] {
			have[strings.ToLower(p)] = true
			out = append(out, p)
		}
	}
	for _, n := range exposedHeaders {
		if !have[strings.ToLower(n)] {
			out = append(out, n)
		}
	}
	h.Set(key, strings.Join(out, ", "))
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
