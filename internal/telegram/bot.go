package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/services"
)

// Bot is the Telegram front end. It registers users on /start and turns
// plain messages into queue submissions or reschedule requests.
type Bot struct {
	bot     *tgbot.Bot
	queue   *services.QueueService
	updater *StatusUpdater
	log     zerolog.Logger
}

// New constructs the bot and registers its handlers.
func New(token string, queue *services.QueueService, updater *StatusUpdater, log zerolog.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}

	b := &Bot{queue: queue, updater: updater, log: log}

	tb, err := tgbot.New(token, tgbot.WithDefaultHandler(b.handleMessage))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	tb.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, b.handleStart)

	b.bot = tb
	return b, nil
}

// Raw returns the underlying bot, used to build the production messenger.
func (b *Bot) Raw() *tgbot.Bot { return b.bot }

// Start runs the long-polling loop until ctx is canceled.
func (b *Bot) Start(ctx context.Context) {
	b.log.Info().Msg("telegram bot started")
	b.bot.Start(ctx)
	b.log.Info().Msg("telegram bot stopped")
}

// handleStart registers the user and provisions the rate-limit profile.
func (b *Bot) handleStart(ctx context.Context, tb *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	userID := strconv.FormatInt(update.Message.From.ID, 10)
	chatID := update.Message.Chat.ID

	user, err := b.queue.RegisterUser(ctx, userID, chatID)
	if err != nil {
		b.log.Error().Err(err).Str("user_id", userID).Msg("user registration failed")
		b.reply(ctx, tb, chatID, "Registration failed, please try again later.")
		return
	}
	b.log.Info().Str("user_id", userID).Str("status", string(user.Status)).Msg("user registered")

	if user.Status != domain.UserAllowed {
		b.reply(ctx, tb, chatID, "Your access request has been recorded and is pending approval.")
		return
	}
	b.reply(ctx, tb, chatID,
		"Send me an Instagram post link (or several, one per line) and I will back it up to your cloud storage.\n"+
			"An account link queues every post of that account.")
	b.updater.Refresh(ctx, userID, chatID)
}

// handleMessage routes a plain text message: a reschedule line edits an
// existing entry, anything else is treated as a link submission.
func (b *Bot) handleMessage(ctx context.Context, tb *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}
	userID := strconv.FormatInt(update.Message.From.ID, 10)
	chatID := update.Message.Chat.ID
	text := update.Message.Text

	if req, ok := ParseReschedule(text); ok {
		b.handleReschedule(ctx, tb, userID, chatID, req)
		return
	}

	entries, err := b.queue.Submit(ctx, userID, chatID, update.Message.ID, text)
	if err != nil {
		b.reply(ctx, tb, chatID, submitErrorText(err))
		return
	}
	switch {
	case len(entries) == 1 && entries[0].LinkType == domain.LinkTypeAccount:
		b.reply(ctx, tb, chatID, fmt.Sprintf("Account %s accepted, its posts will be queued shortly.", entries[0].PostOwner))
	case len(entries) == 1:
		b.reply(ctx, tb, chatID, fmt.Sprintf("Queued %s: scheduled for %s",
			entries[0].PostID, entries[0].ScheduledTime.UTC().Format(scheduleTimeLayout)))
	default:
		b.reply(ctx, tb, chatID, fmt.Sprintf("Queued %d posts.", len(entries)))
	}
	b.updater.Refresh(ctx, userID, chatID)
}

func (b *Bot) handleReschedule(ctx context.Context, tb *tgbot.Bot, userID string, chatID int64, req *RescheduleRequest) {
	err := b.queue.Reschedule(ctx, userID, req.PostID, req.NewTime)
	switch {
	case errors.Is(err, services.ErrTimeInPast):
		b.reply(ctx, tb, chatID, "The new time must be in the future (UTC).")
	case errors.Is(err, services.ErrPostNotFound):
		b.reply(ctx, tb, chatID, fmt.Sprintf("%s is not in your queue.", req.PostID))
	case errors.Is(err, services.ErrInvalidStateTransition):
		b.reply(ctx, tb, chatID, fmt.Sprintf("%s is already being processed and cannot be moved.", req.PostID))
	case err != nil:
		b.log.Error().Err(err).Str("user_id", userID).Msg("reschedule failed")
		b.reply(ctx, tb, chatID, "Reschedule failed, please try again later.")
	default:
		b.reply(ctx, tb, chatID, fmt.Sprintf("%s: scheduled for %s",
			req.PostID, req.NewTime.UTC().Format(scheduleTimeLayout)))
		b.updater.Refresh(ctx, userID, chatID)
	}
}

// submitErrorText maps service errors to user-facing replies.
func submitErrorText(err error) string {
	switch {
	case errors.Is(err, services.ErrUserDenied):
		return "You are not allowed to use this bot. Send /start to request access."
	case errors.Is(err, services.ErrDuplicateRequest):
		return "This post is already queued or has been backed up before."
	case errors.Is(err, services.ErrConfigurationMissing):
		return "Your account is not fully set up yet. Send /start first."
	case errors.Is(err, domain.ErrInvalidPostLink):
		return "That does not look like an Instagram post or account link."
	default:
		return "Something went wrong, please try again later."
	}
}

func (b *Bot) reply(ctx context.Context, tb *tgbot.Bot, chatID int64, text string) {
	if _, err := tb.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}
