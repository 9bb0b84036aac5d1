package httpapi

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/repo"
)

// idempotencyShim adapts the repository free functions to the handlers'
// IdempotencyStore and to the middleware lookup callback.
type idempotencyShim struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency. A missing or expired record is not an
// error.
func (s idempotencyShim) Lookup(ctx context.Context, username, scope, key string) (uint64, int, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, username, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return rec.MessageID, rec.Status, true, nil
}

// Save proxies repo.CreateIdempotency. Losing a race to a concurrent retry
// with the same key is fine; the first record wins.
func (s idempotencyShim) Save(ctx context.Context, username, scope, key string, messageID uint64, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, username, scope, key, messageID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// exists matches middleware.IdempotencyLookup.
func (s idempotencyShim) exists(ctx context.Context, username, scope, key string, now time.Time) (bool, error) {
	_, err := repo.GetIdempotency(ctx, s.db, username, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
