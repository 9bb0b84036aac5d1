package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/event"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	// One connection keeps shared-cache table locks out of concurrent tests.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.User{}, &domain.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newUsers(t *testing.T, db *gorm.DB, names ...string) *UserService {
	t.Helper()
	us := NewUserService(db, auth.NewTokens("test-secret", time.Hour))
	for _, n := range names {
		if _, err := us.Signup(context.Background(), n, "password-"+n); err != nil {
			t.Fatalf("signup %s: %v", n, err)
		}
	}
	return us
}

func strp(s string) *string { return &s }

// recConn records every event pushed to it.
type recConn struct {
	id  string
	err error

	mu     sync.Mutex
	events []event.Event
}

func newRecConn() *recConn { return &recConn{id: uuid.NewString()} }

func (c *recConn) ID() string { return c.id }

func (c *recConn) Send(ev event.Event) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recConn) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *recConn) ofType(typ string) []event.Event {
	var out []event.Event
	for _, ev := range c.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var _ presence.Conn = (*recConn)(nil)
