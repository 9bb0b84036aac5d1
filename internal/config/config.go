// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, session tokens, media storage, the realtime event
// channel, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-dm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret  string        // JWT_SECRET (HMAC key)
	SessionTTL time.Duration // SESSION_TTL
}

// S3Config configures the S3-compatible media backend (AWS, MinIO).
type S3Config struct {
	Bucket     string        // S3_BUCKET
	Region     string        // S3_REGION
	Endpoint   string        // S3_ENDPOINT (empty = AWS default resolver)
	AccessKey  string        // S3_ACCESS_KEY
	SecretKey  string        // S3_SECRET_KEY
	PresignTTL time.Duration // S3_PRESIGN_TTL
}

// MediaConfig selects and configures where uploaded media is stored.
type MediaConfig struct {
	Backend   string // disk|s3
	UploadDir string // UPLOAD_DIR (disk backend)
	MaxBytes  int64  // MEDIA_MAX_BYTES
	S3        S3Config
}

// WSConfig tunes the websocket event channel.
type WSConfig struct {
	PingInterval   time.Duration // WS_PING_INTERVAL
	SendBuffer     int           // WS_SEND_BUFFER (queued events per connection)
	AllowedOrigins []string      // WS_ALLOWED_ORIGINS (falls back to CORS list)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Messaging
	MaxContentRunes int // upper bound for text content

	Auth  AuthConfig
	Media MediaConfig
	WS    WSConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "app.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		MaxContentRunes: getint("MAX_CONTENT_RUNES", 4000),

		Auth: AuthConfig{
			JWTSecret:  getenv("JWT_SECRET", "change-me"),
			SessionTTL: getdur("SESSION_TTL", 24*time.Hour),
		},

		Media: MediaConfig{
			Backend:   strings.ToLower(getenv("MEDIA_BACKEND", "disk")),
			UploadDir: getenv("UPLOAD_DIR", "static/uploads"),
			MaxBytes:  int64(getint("MEDIA_MAX_BYTES", 25<<20)),
			S3: S3Config{
				Bucket:     getenv("S3_BUCKET", ""),
				Region:     getenv("S3_REGION", "us-east-1"),
				Endpoint:   getenv("S3_ENDPOINT", ""),
				AccessKey:  getenv("S3_ACCESS_KEY", ""),
				SecretKey:  getenv("S3_SECRET_KEY", ""),
				PresignTTL: getdur("S3_PRESIGN_TTL", 15*time.Minute),
			},
		},

		WS: WSConfig{
			PingInterval:   getdur("WS_PING_INTERVAL", 15*time.Second),
			SendBuffer:     getint("WS_SEND_BUFFER", 64),
			AllowedOrigins: splitCSV(getenv("WS_ALLOWED_ORIGINS", "")),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-dm-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.Validate()
}

// normalize folds accepted aliases into their canonical spelling.
func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.DBDriver == "postgresql" || c.DBDriver == "pg" {
		c.DBDriver = "postgres"
	}
	if len(c.WS.AllowedOrigins) == 0 {
		c.WS.AllowedOrigins = c.CORS.AllowedOrigins
	}
}

// Validate reports every invalid setting at once, joined with errors.Join,
// so a bad deployment surfaces all of its mistakes in one log line.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	check(oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	check(!blank(c.Port), "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DBDriver {
	case "sqlite":
		check(!blank(c.DBPath), "DB_PATH must not be empty")
	case "postgres":
		check(!blank(c.DatabaseURL), "DATABASE_URL must be set when DB_DRIVER=postgres")
	default:
		errs = append(errs, errors.New("DB_DRIVER must be one of: sqlite, postgres"))
	}
	check(c.MaxContentRunes > 0, "MAX_CONTENT_RUNES must be > 0")

	check(!blank(c.Auth.JWTSecret), "JWT_SECRET must not be empty")
	check(c.Auth.SessionTTL > 0, "SESSION_TTL must be > 0")

	switch c.Media.Backend {
	case "disk":
		check(!blank(c.Media.UploadDir), "UPLOAD_DIR must not be empty")
	case "s3":
		check(!blank(c.Media.S3.Bucket), "S3_BUCKET must be set when MEDIA_BACKEND=s3")
		check(c.Media.S3.PresignTTL > 0, "S3_PRESIGN_TTL must be > 0")
	default:
		errs = append(errs, errors.New("MEDIA_BACKEND must be one of: disk, s3"))
	}
	check(c.Media.MaxBytes > 0, "MEDIA_MAX_BYTES must be > 0")

	check(c.WS.PingInterval > 0, "WS_PING_INTERVAL must be > 0")
	check(c.WS.SendBuffer >= 1, "WS_SEND_BUFFER must be >= 1")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
