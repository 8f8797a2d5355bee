// Package telegram implements the bot front end: command handlers, the
// outbound messenger, and the pinned status message updater.
package telegram

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/rs/zerolog"

	"github.com/obervinov/instabot-downloader/internal/services"
)

// Messenger sends and edits Telegram messages. The interface exists so the
// status updater can be tested without the Bot API.
type Messenger interface {
	// Send delivers a new message and returns its Telegram message id.
	Send(ctx context.Context, chatID int64, text string) (int, error)

	// Edit replaces the text of an existing message. Editing with unchanged
	// content returns services.ErrMessageUnmodified.
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// BotMessenger is the production Messenger backed by the Bot API.
type BotMessenger struct {
	Bot *tgbot.Bot
	Log zerolog.Logger
}

// Send implements Messenger.
func (m *BotMessenger) Send(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := m.Bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return 0, services.Transient("telegram.send", err)
	}
	return msg.ID, nil
}

// Edit implements Messenger. The Bot API rejects edits whose content matches
// the current message; that case is surfaced as ErrMessageUnmodified so
// callers can treat it as a no-op.
func (m *BotMessenger) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := m.Bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return services.ErrMessageUnmodified
		}
		return services.Transient("telegram.edit", err)
	}
	return nil
}
