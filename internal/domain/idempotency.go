// Package domain defines the persistence models for conversations, turns, and
// the correction log.
package domain

import "time"

// Idempotency records a completed learner-message submission keyed by
// (user_id, conversation_id, key). A client retry carrying the same
// Idempotency-Key is served from the stored outcome instead of re-running
// analysis and the partner reply. Rows expire after a TTL and are ignored
// once ExpiresAt has passed.
type Idempotency struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	UserID         string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_conversation_key,priority:1"`
	ConversationID string    `gorm:"type:char(36);not null;uniqueIndex:ux_user_conversation_key,priority:2"`
	Key            string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_user_conversation_key,priority:3"`
	TurnID         string    `gorm:"type:char(36);not null"`
	Status         int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for Idempotency.
func (Idempotency) TableName() string { return "idempotency" }
