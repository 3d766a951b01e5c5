package repo

import (
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-tandem-backend/internal/domain"
)

func TestCreateTurn_PersistsWithCallerID(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Turn{})
	seedConversation(t, db, "c1")

	turn, err := CreateTurn(db, "t1", "c1", "learner", "Ich gehe zur Schule", true)
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	if turn.ID != "t1" || turn.Author != "learner" || !turn.AudioOrigin {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	var got domain.Turn
	if err := db.First(&got, "id = ?", "t1").Error; err != nil {
		t.Fatalf("load turn: %v", err)
	}
	if got.Content != "Ich gehe zur Schule" || got.ConversationID != "c1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestUpdateTurnContent_InPlaceAndNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Turn{})
	seedConversation(t, db, "c1")
	if _, err := CreateTurn(db, "t1", "c1", "learner", "Ich gehen", false); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	if err := UpdateTurnContent(db, "t1", "Ich gehe"); err != nil {
		t.Fatalf("UpdateTurnContent: %v", err)
	}
	var got domain.Turn
	if err := db.First(&got, "id = ?", "t1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Content != "Ich gehe" {
		t.Fatalf("content = %q", got.Content)
	}

	var cnt int64
	db.Model(&domain.Turn{}).Where("conversation_id = ?", "c1").Count(&cnt)
	if cnt != 1 {
		t.Fatalf("update must not insert a row, got %d", cnt)
	}

	if err := UpdateTurnContent(db, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing turn, got %v", err)
	}
}

func TestListTurns_DeterministicOrderAndLimit(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Turn{})
	seedConversation(t, db, "c1")

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		turn := domain.Turn{
			ID: id, ConversationID: "c1", Author: "learner", Content: "x",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&turn).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	list, err := ListTurns(db, "c1", 0)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(list) != 3 || list[0].ID != "t1" || list[2].ID != "t3" {
		t.Fatalf("unexpected order: %+v", list)
	}

	limited, err := ListTurns(db, "c1", 2)
	if err != nil {
		t.Fatalf("ListTurns limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(limited))
	}
}

func TestCountTurns_Error_NoTable(t *testing.T) {
	db := newRepoDB(t /* no migrations */)
	if _, err := CountTurns(db, "c1"); err == nil {
		t.Fatalf("expected error when table missing")
	}
}

func TestDeleteTurns_RemovesAllForConversation(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Turn{})
	seedConversation(t, db, "c1")
	seedConversation(t, db, "c2")
	if _, err := CreateTurn(db, "t1", "c1", "learner", "a", false); err != nil {
		t.Fatalf("seed t1: %v", err)
	}
	if _, err := CreateTurn(db, "t2", "c1", "partner", "b", false); err != nil {
		t.Fatalf("seed t2: %v", err)
	}
	if _, err := CreateTurn(db, "t3", "c2", "learner", "c", false); err != nil {
		t.Fatalf("seed t3: %v", err)
	}

	if err := DeleteTurns(db, "c1"); err != nil {
		t.Fatalf("DeleteTurns: %v", err)
	}
	var cnt int64
	db.Model(&domain.Turn{}).Where("conversation_id = ?", "c1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected 0 turns for c1, got %d", cnt)
	}
	// The other conversation is untouched.
	db.Model(&domain.Turn{}).Where("conversation_id = ?", "c2").Count(&cnt)
	if cnt != 1 {
		t.Fatalf("expected 1 turn for c2, got %d", cnt)
	}
}
