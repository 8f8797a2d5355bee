// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the tracked
// bot messages table, which records the Telegram messages the bot owns so
// later edits can target them and redundant edits can be skipped via the
// stored content hash.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

// GetBotMessage returns the tracked message for a chat and message type, or
// ErrNotFound when the bot has not sent one yet.
func GetBotMessage(ctx context.Context, db *gorm.DB, chatID int64, messageType string) (*domain.BotMessage, error) {
	var m domain.BotMessage
	err := db.WithContext(ctx).
		Where("chat_id = ? AND message_type = ?", chatID, messageType).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertBotMessage records or refreshes the tracked message for a chat and
// message type. The first write creates the row in the added state; later
// writes update the Telegram message id and content hash and flip the state
// to updated. One row per (chat_id, message_type) is maintained.
func UpsertBotMessage(ctx context.Context, db *gorm.DB, chatID int64, messageType string, messageID int, contentHash string) (*domain.BotMessage, error) {
	var out domain.BotMessage
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.BotMessage
		err := tx.Where("chat_id = ? AND message_type = ?", chatID, messageType).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = domain.BotMessage{
				ID:          uuid.NewString(),
				MessageID:   messageID,
				ChatID:      chatID,
				MessageType: messageType,
				ContentHash: contentHash,
				State:       domain.MessageAdded,
			}
			return tx.Create(&out).Error
		case err != nil:
			return err
		}

		existing.MessageID = messageID
		existing.ContentHash = contentHash
		existing.State = domain.MessageUpdated
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

// DeleteBotMessage removes a tracked message, typically when the bot replaces
// an expired status message with a fresh one.
func DeleteBotMessage(ctx context.Context, db *gorm.DB, chatID int64, messageType string) error {
	return db.WithContext(ctx).
		Where("chat_id = ? AND message_type = ?", chatID, messageType).
		Delete(&domain.BotMessage{}).Error
}
