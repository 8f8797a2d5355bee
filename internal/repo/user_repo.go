// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for registered
// users and their rate-limit request profiles.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

// GetUser returns a registered user, or ErrNotFound when the user has never
// started the bot.
func GetUser(ctx context.Context, db *gorm.DB, userID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser registers a user or refreshes the stored chat id. An existing
// status is preserved so revoking access survives a repeated /start.
func UpsertUser(ctx context.Context, db *gorm.DB, userID string, chatID int64, defaultStatus domain.UserStatus) (*domain.User, error) {
	if !defaultStatus.Valid() {
		return nil, errors.New("invalid default user status")
	}
	var out domain.User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.User
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = domain.User{UserID: userID, ChatID: chatID, Status: defaultStatus}
			return tx.Create(&out).Error
		case err != nil:
			return err
		}
		existing.ChatID = chatID
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetUserStatus changes a user's access status.
func SetUserStatus(ctx context.Context, db *gorm.DB, userID string, status domain.UserStatus) error {
	if !status.Valid() {
		return errors.New("invalid user status")
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ?", userID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all registered users.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var users []domain.User
	err := db.WithContext(ctx).Order("user_id ASC").Find(&users).Error
	return users, err
}

// GetRequestProfile returns a user's rate-limit profile, or ErrNotFound when
// the user was never provisioned. Callers must treat a missing profile as a
// hard error rather than fall back to implicit defaults.
func GetRequestProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.UserRequestProfile, error) {
	var p domain.UserRequestProfile
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertRequestProfile creates or replaces a user's rate-limit profile.
func UpsertRequestProfile(ctx context.Context, db *gorm.DB, p *domain.UserRequestProfile) error {
	if p.RequestsPerDay < 1 || p.RequestsPerHour < 1 || p.RandomShiftMinutes < 0 {
		return errors.New("invalid request profile values")
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.UserRequestProfile
		err := tx.Where("user_id = ?", p.UserID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(p).Error
		case err != nil:
			return err
		}
		existing.RequestsPerDay = p.RequestsPerDay
		existing.RequestsPerHour = p.RequestsPerHour
		existing.RandomShiftMinutes = p.RandomShiftMinutes
		return tx.Save(&existing).Error
	})
}
