// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Correction
// model, the durable log of analysis outcomes per learner turn.
//
// The repository follows a "thin" approach: it performs persistence and simple
// query composition, leaving business rules to the services package.
//
// Error semantics:
//   - On DB errors (connectivity, constraints, etc.), the raw gorm error is
//     propagated; the service layer translates where needed.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/domain"
)

// CreateCorrection inserts one correction row for a failed analysis of the
// given turn. Attempt is the 1-based attempt number the row records; the
// flagged categories and the human-readable summary come straight from the
// analysis verdict.
//
// On success, it returns nil. On failure, it returns a DB error.
func CreateCorrection(ctx context.Context, db *gorm.DB, turnID string, attempt int, grammar, vocabulary, pronunciation bool, summary, originalText string) error {
	c := &domain.Correction{
		ID:            uuid.NewString(),
		TurnID:        turnID,
		Attempt:       attempt,
		Grammar:       grammar,
		Vocabulary:    vocabulary,
		Pronunciation: pronunciation,
		Summary:       summary,
		OriginalText:  originalText,
		CreatedAt:     time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(c).Error
}

// ListCorrections returns the correction log for one turn, oldest first.
func ListCorrections(ctx context.Context, db *gorm.DB, turnID string) ([]domain.Correction, error) {
	var out []domain.Correction
	err := db.WithContext(ctx).
		Where("turn_id = ?", turnID).
		Order("created_at ASC, attempt ASC").
		Find(&out).Error
	return out, err
}

// ListConversationCorrections returns every correction logged for a
// conversation's turns, oldest first, for the learner's review view.
func ListConversationCorrections(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Correction, error) {
	var out []domain.Correction
	err := db.WithContext(ctx).
		Joins("JOIN turns ON turns.id = corrections.turn_id").
		Where("turns.conversation_id = ?", conversationID).
		Order("corrections.created_at ASC").
		Find(&out).Error
	return out, err
}
