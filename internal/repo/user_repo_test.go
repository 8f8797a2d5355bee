package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

func TestUpsertUser_PreservesStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u, err := UpsertUser(ctx, db, "user-1", 42, domain.UserAllowed)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Status != domain.UserAllowed || u.ChatID != 42 {
		t.Fatalf("unexpected user: %+v", u)
	}

	if err := SetUserStatus(ctx, db, "user-1", domain.UserDenied); err != nil {
		t.Fatalf("set status: %v", err)
	}

	// A repeated /start refreshes the chat id but keeps the revoked status.
	u, err = UpsertUser(ctx, db, "user-1", 99, domain.UserAllowed)
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if u.ChatID != 99 {
		t.Fatalf("chat id not refreshed: %d", u.ChatID)
	}
	if u.Status != domain.UserDenied {
		t.Fatalf("status must survive re-registration, got %q", u.Status)
	}
}

func TestSetUserStatus_Unknown(t *testing.T) {
	db := newTestDB(t)
	if err := SetUserStatus(context.Background(), db, "ghost", domain.UserDenied); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRequestProfile_Missing(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetRequestProfile(context.Background(), db, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertRequestProfile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.UserRequestProfile{
		UserID:             "user-1",
		RequestsPerDay:     24,
		RequestsPerHour:    2,
		RandomShiftMinutes: 10,
	}
	if err := UpsertRequestProfile(ctx, db, p); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	p.RequestsPerHour = 4
	if err := UpsertRequestProfile(ctx, db, p); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	got, err := GetRequestProfile(ctx, db, "user-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.RequestsPerHour != 4 || got.RequestsPerDay != 24 {
		t.Fatalf("unexpected profile: %+v", got)
	}

	// Invalid values are rejected before touching the database.
	bad := &domain.UserRequestProfile{UserID: "user-2", RequestsPerDay: 0, RequestsPerHour: 1}
	if err := UpsertRequestProfile(ctx, db, bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestListUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"b-user", "a-user"} {
		if _, err := UpsertUser(ctx, db, id, 1, domain.UserAllowed); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	users, err := ListUsers(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].UserID != "a-user" {
		t.Fatalf("unexpected listing: %+v", users)
	}
}
