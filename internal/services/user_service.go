// Package services – UserService
//
// UserService owns the user directory: signup with bcrypt-hashed passwords,
// login issuing a signed session token, and token verification for the HTTP
// middleware and the websocket gateway.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

const (
	minUsernameRunes = 3
	maxUsernameRunes = 64
)

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// UserService manages accounts and session tokens.
type UserService struct {
	DB     *gorm.DB
	Tokens *auth.Tokens
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, tokens *auth.Tokens) *UserService {
	return &UserService{DB: db, Tokens: tokens}
}

// NormalizeUsername trims and NFC-normalizes raw and checks it against the
// username rules: 3..64 runes of letters, digits, '_', '-' or '.'.
func NormalizeUsername(raw string) (string, error) {
	u := norm.NFC.String(strings.TrimSpace(raw))
	n := utf8.RuneCountInString(u)
	if n < minUsernameRunes || n > maxUsernameRunes {
		return "", ErrInvalidUsername
	}
	for _, r := range u {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.') {
			return "", ErrInvalidUsername
		}
	}
	return u, nil
}

// canonicalUsername returns the stored spelling of raw and whether raw is a
// valid username at all. Invalid input is still trimmed and NFC-folded so it
// compares consistently; it never matches a stored user.
func canonicalUsername(raw string) (string, bool) {
	if u, err := NormalizeUsername(raw); err == nil {
		return u, true
	}
	return norm.NFC.String(strings.TrimSpace(raw)), false
}

// Signup creates a new user.
func (s *UserService) Signup(ctx context.Context, username, password string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Signup")
	defer span.End()

	username, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.name", username))

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, ErrWeakPassword
	}

	u, err := repo.CreateUser(ctx, s.DB, username, hash)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return u, nil
}

// Login verifies credentials and issues a session token.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	username, err := NormalizeUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.name", username))

	u, err := repo.GetUserByUsername(ctx, s.DB, username)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := auth.ComparePassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	tok, exp, err := s.Tokens.Issue(u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, Username: u.Username}, nil
}

// Authenticate resolves a session token to a username. The user must still
// exist in the directory.
func (s *UserService) Authenticate(ctx context.Context, token string) (string, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Authenticate")
	defer span.End()

	username, err := s.Tokens.Verify(token)
	if err != nil {
		return "", ErrNotAuthenticated
	}
	span.AddEvent("token.verified", trace.WithAttributes(attribute.String("user.name", username)))

	if _, err := repo.GetUserByUsername(ctx, s.DB, username); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return username, nil
}
