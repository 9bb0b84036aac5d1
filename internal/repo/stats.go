// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ConversationStats returns the number of messages between a and b and the
// highest message id among them. Since rows are append-only, the pair
// changes exactly when the conversation does.
//
// When the conversation is empty both values are 0.
func ConversationStats(ctx context.Context, db *gorm.DB, a, b uint64) (count int64, lastID uint64, err error) {
	q := conversation(db.WithContext(ctx).Model(&domain.Message{}), a, b)

	if err = q.Count(&count).Error; err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}

	var row struct {
		ID uint64
	}
	if err = q.Select("id").Order("id DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return count, row.ID, nil
}
