// Package domain defines the persistence models for conversations, turns, and
// the correction log. These types are mapped with GORM and form the durable
// data layer of the practice backend; the live correction state machine keeps
// its own in-memory state and writes through to these rows.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation represents one practice chat owned by a learner. Each
// conversation has a generated title, a difficulty level, and an ordered set
// of turns exchanged between the learner and the AI partner.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the learner; indexed for efficient retrieval.
//   - Title: human-readable title (auto-generated from the first turn).
//   - Level: CEFR difficulty level the partner replies at (A1..C2).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Conversation struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"   gorm:"type:varchar(64);not null;index:idx_user_conversations"`
	Title     string         `json:"title"     gorm:"type:varchar(255);not null;default:'Neue Unterhaltung'"`
	Level     string         `json:"level"     gorm:"type:varchar(2);not null;default:'A2';check:level IN ('A1','A2','B1','B2','C1','C2')"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Turn represents a single utterance within a conversation, authored either
// by the "learner" or the "partner". Learner retries overwrite Content in
// place rather than inserting a new row, so the row always holds the latest
// accepted wording.
//
// Fields:
//   - ID: UUID primary key (char(36)); shared with the engine's turn ID.
//   - ConversationID: foreign key to the owning conversation (indexed).
//   - Author: "learner" or "partner" (enforced by DB constraint).
//   - Content: current text of the turn.
//   - AudioOrigin: whether the turn arrived as transcribed speech.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
//   - Conversation: FK association, ensures cascade delete/update.
type Turn struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_turns,priority:1"`
	Author         string         `json:"author"          gorm:"type:varchar(16);not null;check:author IN ('learner','partner')"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	AudioOrigin    bool           `json:"audio_origin"    gorm:"not null;default:false"`
	CreatedAt      time.Time      `json:"created_at" gorm:"index:idx_conversation_turns,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"          gorm:"index"`

	// Conversation is the parent chat. Turns are cascade-deleted if their
	// conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Turn.
func (Turn) TableName() string { return "turns" }

// Correction is one logged analysis outcome for a learner turn: which
// categories were flagged and the correction text shown to the learner. A
// turn accumulates one row per failed attempt, giving the learner a review
// trail of what they struggled with.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TurnID: foreign key to the corrected turn (indexed).
//   - Attempt: 1-based attempt number this row records.
//   - Grammar / Vocabulary / Pronunciation: flagged categories.
//   - Summary: human-readable correction text from the analysis.
//   - OriginalText: the learner's wording that produced this correction.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
//   - Turn: FK association, ensures cascade delete/update.
type Correction struct {
	ID            string         `json:"id"      gorm:"type:char(36);primaryKey"`
	TurnID        string         `json:"turn_id" gorm:"type:char(36);not null;index:idx_turn_corrections"`
	Attempt       int            `json:"attempt" gorm:"not null;check:attempt > 0"`
	Grammar       bool           `json:"grammar"       gorm:"not null;default:false"`
	Vocabulary    bool           `json:"vocabulary"    gorm:"not null;default:false"`
	Pronunciation bool           `json:"pronunciation" gorm:"not null;default:false"`
	Summary       string         `json:"summary"       gorm:"type:text;not null"`
	OriginalText  string         `json:"original_text" gorm:"type:text;not null"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Turn is the corrected learner turn. Corrections are cascade-deleted
	// if the underlying turn is removed.
	Turn Turn `json:"-" gorm:"foreignKey:TurnID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Correction.
func (Correction) TableName() string { return "corrections" }
