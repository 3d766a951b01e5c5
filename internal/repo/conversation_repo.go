// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// This repository is designed to be wrapped by a higher-level service
// (see services.ConversationService) which enforces business rules and
// owns the live correction state for each conversation.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a new Conversation row owned by userID with the
// given title and CEFR level. The ID is a randomly generated UUID (string),
// and CreatedAt is set to UTC.
//
// On success, it returns the persisted Conversation. On failure, it returns
// a DB error.
func CreateConversation(ctx context.Context, db *gorm.DB, userID, title, level string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns all conversations belonging to userID, ordered by
// creation time descending (most recent first). It returns an empty slice if
// the user has none. On DB error, it returns the error.
func ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountConversations returns the total number of conversations owned by
// userID. On DB error, it returns the error.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a paginated slice of conversations for
// userID, ordered by creation time descending. Use CountConversations to
// obtain the total for pagination metadata. On DB error, it returns the error.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetConversation fetches a single conversation by its ID and owner (userID).
// If the record does not exist, it returns ErrNotFound. On other DB errors,
// the raw error is returned.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConversationTitle updates the title of a conversation identified by
// id and owned by userID. If no rows are affected (conversation missing or
// not owned by userID), it returns ErrNotFound. On DB error, the raw error
// is returned.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
