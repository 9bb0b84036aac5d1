// Package handlers exposes the REST surface of the messaging service:
//   - POST /signup, POST /login          (accounts and session tokens)
//   - GET  /online                       (presence snapshot)
//   - POST /messages                     (send a direct message)
//   - GET  /history/{userA}/{userB}      (paginated conversation, ETag)
//   - GET  /messages/{peer}              (full conversation with a peer)
//   - POST /media, GET /media/{locator}  (attachments)
//
// Handlers are transport-thin: they bind and validate input, call the
// application services through narrow interfaces, and translate results into
// the standard JSON envelopes.
package handlers

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/media"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService covers account creation and login.
type UserService interface {
	// Signup registers a new user.
	Signup(ctx context.Context, username, password string) (*domain.User, error)
	// Login verifies credentials and issues a session token.
	Login(ctx context.Context, username, password string) (*services.Session, error)
}

// MessageService covers sending and reading direct messages.
//
// Implementations must be safe for concurrent use and honor ctx.
type MessageService interface {
	Send(ctx context.Context, sender, recipient string, content *string, md *domain.MediaDescriptor) (*domain.Message, error)
	History(ctx context.Context, caller, userA, userB string, page, pageSize int) ([]domain.Message, int64, error)
	Conversation(ctx context.Context, caller, peer string) ([]domain.Message, error)
	Stats(ctx context.Context, caller, userA, userB string) (int64, uint64, error)
	Get(ctx context.Context, caller string, id uint64) (*domain.Message, error)
}

// PresenceService reports who is connected.
type PresenceService interface {
	Online() []string
}

// MediaService stores and resolves attachments.
type MediaService interface {
	Upload(ctx context.Context, filename string, body io.Reader, size int64) (*domain.MediaDescriptor, error)
	Locate(ctx context.Context, locator string) (media.Location, error)
}

// IdempotencyStore records which message a (user, scope, key) triple produced
// so retried POSTs replay the original result.
type IdempotencyStore interface {
	Lookup(ctx context.Context, username, scope, key string) (messageID uint64, status int, found bool, err error)
	Save(ctx context.Context, username, scope, key string, messageID uint64, status int) error
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers. Idem may be nil, which
// disables replay.
type Services struct {
	Users    UserService
	Messages MessageService
	Presence PresenceService
	Media    MediaService
	Idem     IdempotencyStore
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	users    UserService
	msgs     MessageService
	presence PresenceService
	media    MediaService
	idem     IdempotencyStore
}

// New constructs Handlers bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{
		users:    s.Users,
		msgs:     s.Messages,
		presence: s.Presence,
		media:    s.Media,
		idem:     s.Idem,
	}
}

// userID returns the authenticated username set by middleware.Auth.
func userID(c *gin.Context) string {
	return middleware.Username(c)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size; malformed values fall back to
// the defaults before clamping.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
