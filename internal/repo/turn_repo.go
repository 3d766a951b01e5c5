// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Turn model.
package repo

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/domain"
)

// CreateTurn inserts a new turn row. The ID is supplied by the caller so it
// matches the ID the live correction state tracks for the same turn.
func CreateTurn(db *gorm.DB, id, conversationID, author, content string, audioOrigin bool) (*domain.Turn, error) {
	t := &domain.Turn{
		ID:             id,
		ConversationID: conversationID,
		Author:         author,
		Content:        content,
		AudioOrigin:    audioOrigin,
		CreatedAt:      time.Now().UTC(),
	}
	return t, db.Create(t).Error
}

// UpdateTurnContent overwrites the stored text of a turn. Retries and
// accepted suggestions rewrite the row in place; a turn never gets a second
// row. Returns ErrNotFound if the turn does not exist.
func UpdateTurnContent(db *gorm.DB, id, content string) error {
	res := db.Model(&domain.Turn{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTurns returns turns ordered deterministically (CreatedAt ASC, ID ASC).
func ListTurns(db *gorm.DB, conversationID string, limit int) ([]domain.Turn, error) {
	var out []domain.Turn
	q := db.Where("conversation_id = ?", conversationID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountTurns uses a raw COUNT so a missing table surfaces as an error (as tests expect).
func CountTurns(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM turns WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListTurnsPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListTurnsPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Turn, error) {
	var out []domain.Turn
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetTurn fetches a turn by ID.
func GetTurn(db *gorm.DB, id string) (*domain.Turn, error) {
	var t domain.Turn
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTurns hard-deletes every turn of a conversation. Used by the reset
// operation; corrections cascade with their turns.
func DeleteTurns(db *gorm.DB, conversationID string) error {
	return db.Unscoped().Where("conversation_id = ?", conversationID).Delete(&domain.Turn{}).Error
}
