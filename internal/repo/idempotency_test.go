package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func TestGetIdempotency_BlankScopeOrKey_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "alice", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank scope, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "alice", "/messages", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:        "expired",
		Username:  "alice",
		Scope:     "/api/v1/messages",
		Key:       "k1",
		Status:    201,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	if _, err := GetIdempotency(context.Background(), db, "alice", "/api/v1/messages", "k1", now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired, got %v", err)
	}
	if _, err := GetIdempotency(context.Background(), db, "alice", "/api/v1/messages", "nope", now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing, got %v", err)
	}
}

func TestCreateAndGetIdempotency_ScopedPerUser(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	scope := "/api/v1/messages"

	rec, err := CreateIdempotency(ctx, db, "alice", scope, "k1", 42, 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.MessageID != 42 || !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "alice", scope, "k1", time.Now().UTC())
	if err != nil || got.MessageID != 42 || got.Status != 201 {
		t.Fatalf("unexpected get: %+v err=%v", got, err)
	}

	// Same key for another user is independent.
	if _, err := GetIdempotency(ctx, db, "bob", scope, "k1", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "bob", scope, "k1", 43, 201, time.Hour); err != nil {
		t.Fatalf("other user same key: %v", err)
	}

	if _, err := CreateIdempotency(ctx, db, "alice", scope, "k1", 44, 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newRepoDB(t)
	if _, err := CreateIdempotency(context.Background(), db, "alice", "s", "k", 1, 201, time.Hour); err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected raw DB error, got %v", err)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, "alice", "s", "live", 1, 201, time.Hour); err != nil {
		t.Fatal(err)
	}
	old := &domain.Idempotency{ID: "old", Username: "alice", Scope: "s", Key: "old", Status: 201, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Minute)}
	if err := db.Create(old).Error; err != nil {
		t.Fatal(err)
	}

	n, err := PurgeExpiredIdempotency(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	var left int64
	db.Model(&domain.Idempotency{}).Count(&left)
	if left != 1 {
		t.Fatalf("expected 1 remaining, got %d", left)
	}
}
