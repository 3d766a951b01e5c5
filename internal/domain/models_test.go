package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	if (Conversation{}).TableName() != "conversations" {
		t.Fatalf("Conversation.TableName() = %q; want %q", (Conversation{}).TableName(), "conversations")
	}
	if (Turn{}).TableName() != "turns" {
		t.Fatalf("Turn.TableName() = %q; want %q", (Turn{}).TableName(), "turns")
	}
	if (Correction{}).TableName() != "corrections" {
		t.Fatalf("Correction.TableName() = %q; want %q", (Correction{}).TableName(), "corrections")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Conversation{}, &Turn{}, &Correction{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&Conversation{}, &Turn{}, &Correction{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	if !m.HasIndex(&Conversation{}, "idx_user_conversations") {
		t.Fatalf("expected index idx_user_conversations on conversations")
	}
	if !m.HasIndex(&Turn{}, "idx_conversation_turns") {
		t.Fatalf("expected index idx_conversation_turns on turns")
	}
	if !m.HasIndex(&Correction{}, "idx_turn_corrections") {
		t.Fatalf("expected index idx_turn_corrections on corrections")
	}

	// Seed a conversation, two turns, and a correction tied to one turn.
	now := time.Now().UTC()

	conv := &Conversation{ID: "c1", UserID: "u1", Title: "T", Level: "A2", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	t1 := &Turn{ID: "t1", ConversationID: "c1", Author: "learner", Content: "Ich gehen zur Schule", CreatedAt: now, UpdatedAt: now}
	t2 := &Turn{ID: "t2", ConversationID: "c1", Author: "partner", Content: "Das klingt gut!", CreatedAt: now.Add(time.Second), UpdatedAt: now.Add(time.Second)}
	if err := db.Create(t1).Error; err != nil {
		t.Fatalf("insert t1: %v", err)
	}
	if err := db.Create(t2).Error; err != nil {
		t.Fatalf("insert t2: %v", err)
	}

	corr := &Correction{
		ID: "r1", TurnID: "t1", Attempt: 1, Grammar: true,
		Summary: "gehen → gehe", OriginalText: "Ich gehen zur Schule",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.Create(corr).Error; err != nil {
		t.Fatalf("insert correction: %v", err)
	}

	// CASCADE: deleting a turn should delete its corrections.
	if err := db.Unscoped().Delete(&Turn{}, "id = ?", "t1").Error; err != nil {
		t.Fatalf("delete t1: %v", err)
	}
	var cnt int64
	if err := db.Model(&Correction{}).Where("turn_id = ?", "t1").Count(&cnt).Error; err != nil {
		t.Fatalf("count corrections after turn delete: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected corrections to cascade-delete when turn deleted, got count=%d", cnt)
	}

	// CASCADE: deleting the conversation should delete remaining turns.
	if err := db.Unscoped().Delete(&Conversation{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	if err := db.Model(&Turn{}).Where("conversation_id = ?", "c1").Count(&cnt).Error; err != nil {
		t.Fatalf("count turns after conversation delete: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected turns to cascade-delete when conversation deleted, got count=%d", cnt)
	}
}

func TestTurnRetry_UpdatesContentInPlace(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Conversation{}, &Turn{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	if err := db.Create(&Conversation{ID: "c1", UserID: "u1", Title: "T", Level: "A2", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if err := db.Create(&Turn{ID: "t1", ConversationID: "c1", Author: "learner", Content: "Ich gehen", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert turn: %v", err)
	}

	if err := db.Model(&Turn{}).Where("id = ?", "t1").Update("content", "Ich gehe").Error; err != nil {
		t.Fatalf("update content: %v", err)
	}
	var got Turn
	if err := db.First(&got, "id = ?", "t1").Error; err != nil {
		t.Fatalf("reload turn: %v", err)
	}
	if got.Content != "Ich gehe" {
		t.Fatalf("content = %q; want %q", got.Content, "Ich gehe")
	}
	var cnt int64
	db.Model(&Turn{}).Where("conversation_id = ?", "c1").Count(&cnt)
	if cnt != 1 {
		t.Fatalf("retry must not create a second row, got %d", cnt)
	}
}
