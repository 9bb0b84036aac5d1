// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
//
// A conversation is the unordered pair {a, b}; every query matches both
// directions. Ordering is (created_at ASC, id ASC) so ties on the clock fall
// back to insertion order.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

const pairClause = "((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))"

func conversation(db *gorm.DB, a, b uint64) *gorm.DB {
	return db.Where(pairClause, a, b, b, a)
}

// CreateMessage inserts a new message row. sender and recipient must be loaded
// users; they are attached to the returned value but not re-saved.
func CreateMessage(ctx context.Context, db *gorm.DB, sender, recipient *domain.User, content *string, media *domain.MediaDescriptor) (*domain.Message, error) {
	m := &domain.Message{
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	if media != nil {
		kind, loc := media.Kind, media.StorageLocator
		m.MediaKind, m.MediaLocator = &kind, &loc
	}
	if err := db.WithContext(ctx).Omit("Sender", "Recipient").Create(m).Error; err != nil {
		return nil, err
	}
	m.Sender, m.Recipient = *sender, *recipient
	return m, nil
}

// ListConversation returns every message between a and b in order.
// limit <= 0 means no limit.
func ListConversation(ctx context.Context, db *gorm.DB, a, b uint64, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := conversation(db.WithContext(ctx), a, b).
		Preload("Sender").Preload("Recipient").
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountConversation uses a raw COUNT so a missing table surfaces as an error.
func CountConversation(ctx context.Context, db *gorm.DB, a, b uint64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE "+pairClause, a, b, b, a).
		Scan(&total).Error
	return total, err
}

// ListConversationPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListConversationPage(ctx context.Context, db *gorm.DB, a, b uint64, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := conversation(db.WithContext(ctx), a, b).
		Preload("Sender").Preload("Recipient").
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID with both participants loaded.
func GetMessage(ctx context.Context, db *gorm.DB, id uint64) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Preload("Sender").Preload("Recipient").
		Where("id = ?", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
