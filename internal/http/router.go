// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, route handlers and the websocket gateway. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, access logging,
// panic recovery, metrics, compression, CORS, security headers, idempotency,
// authentication and rate limiting.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/http/ws"
	"github.com/tbourn/go-dm-backend/internal/media"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// defaultBodyLimit caps JSON request bodies.
const defaultBodyLimit = 1 << 20

// RegisterRoutes attaches all middleware and endpoints to r and returns the
// websocket gateway so the caller can drain it on shutdown.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: structured request logs with tokens and PII scrubbed
//  4. Recovery: capture panics after logger
//  5. Body size limiter (larger for media uploads)
//  6. Metrics
//  7. Gzip (never on the websocket or metrics endpoints)
//  8. CORS and security headers
//
// Per group: public routes are rate limited by client IP; authenticated
// routes run Auth, then the idempotency validator (so replays can bypass),
// then the rate limiter keyed by username.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, store media.Store, cfg config.Config) *ws.Gateway {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath
	wsPath := strings.TrimSuffix(apiBase, "/") + "/ws"
	mediaPath := strings.TrimSuffix(apiBase, "/") + "/media"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Access log with secrets scrubbed
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-API-Key", "Sec-WebSocket-Protocol"},
		LogHeaders:  cfg.LogLevel == "debug",
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limits
	r.Use(limitBody(defaultBodyLimit, map[string]int64{
		mediaPath: cfg.Media.MaxBytes + defaultBodyLimit,
	}))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{wsPath, "/metrics", mediaPath + "/"}),
	))

	// 8) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even without an Origin header (simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:        cfg.Security.EnableHSTS,
		HSTSMaxAge:        cfg.Security.HSTSMaxAge,
		Private:           true,
		CacheablePrefixes: []string{mediaPath + "/"},
		EnablePolicy:      true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/registry/store
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	users := services.NewUserService(db, tokens)
	reg := presence.NewRegistry()
	msgs := services.NewMessageService(db, reg, cfg.MaxContentRunes)
	pres := services.NewPresenceService(reg)
	idem := idempotencyShim{db: db, ttl: cfg.IdempotencyTTL}

	h := handlers.New(handlers.Services{
		Users:    users,
		Messages: msgs,
		Presence: pres,
		Media:    services.NewMediaService(store, cfg.Media.MaxBytes),
		Idem:     idem,
	})
	gw := ws.NewGateway(users, msgs, pres, ws.Options{
		PingInterval:   cfg.WS.PingInterval,
		SendBuffer:     cfg.WS.SendBuffer,
		AllowedOrigins: cfg.WS.AllowedOrigins,
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api := groupWithPrefix(r, apiBase)

	public := api.Group("", rl.Handler())
	{
		public.POST("/signup", h.Signup)
		public.POST("/login", h.Login)
		public.GET("/media/:locator", h.GetMedia)
		public.GET("/ws", gw.Handle)
	}

	authed := api.Group("",
		middleware.Auth(users.Authenticate),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idem.exists),
		rl.Handler(),
	)
	{
		authed.GET("/online", h.Online)
		authed.POST("/messages", h.PostMessage)
		authed.GET("/messages/:peer", h.Conversation)
		authed.GET("/history/:userA/:userB", h.History)
		authed.POST("/media", h.Upload)
	}

	return gw
}

// limitBody caps the request body with http.MaxBytesReader. Paths listed in
// overrides get their own cap instead of def.
func limitBody(def int64, overrides map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := def
		if n, ok := overrides[c.Request.URL.Path]; ok {
			limit = n
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
