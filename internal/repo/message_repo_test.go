package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

func TestUpsertBotMessage_CreateThenUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := UpsertBotMessage(ctx, db, 42, "status_message", 100, domain.HashContent("v1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.State != domain.MessageAdded {
		t.Fatalf("expected added state, got %q", created.State)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned uuid")
	}

	updated, err := UpsertBotMessage(ctx, db, 42, "status_message", 101, domain.HashContent("v2"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.State != domain.MessageUpdated {
		t.Fatalf("expected updated state, got %q", updated.State)
	}
	if updated.ID != created.ID {
		t.Fatalf("update must reuse the row: %q vs %q", updated.ID, created.ID)
	}
	if updated.MessageID != 101 {
		t.Fatalf("message id not refreshed: %d", updated.MessageID)
	}

	// Exactly one row per (chat, type).
	var count int64
	if err := db.Model(&domain.BotMessage{}).Where("chat_id = ?", 42).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 tracked message, got %d", count)
	}
}

func TestGetBotMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := GetBotMessage(ctx, db, 42, "status_message"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := UpsertBotMessage(ctx, db, 42, "status_message", 100, domain.HashContent("v1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := GetBotMessage(ctx, db, 42, "status_message")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageID != 100 || got.ContentHash != domain.HashContent("v1") {
		t.Fatalf("unexpected row: %+v", got)
	}

	// Message types are independent slots in the same chat.
	if _, err := GetBotMessage(ctx, db, 42, "pinned_message"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other type, got %v", err)
	}
}

func TestDeleteBotMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := UpsertBotMessage(ctx, db, 42, "status_message", 100, domain.HashContent("v1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := DeleteBotMessage(ctx, db, 42, "status_message"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetBotMessage(ctx, db, 42, "status_message"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
