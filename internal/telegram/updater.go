package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/repo"
	"github.com/obervinov/instabot-downloader/internal/services"
)

// statusMessageType is the slot key for the per-chat status message.
const statusMessageType = "status_message"

// statusMessageMaxAge forces a fresh status message before the Bot API's
// 48-hour edit window closes on the old one.
const statusMessageMaxAge = 23 * time.Hour

// StatusUpdater owns the per-chat status message: one pinned summary of the
// user's queue and history, edited in place as the queue changes. A content
// hash is stored with the tracked message so unchanged renders skip the edit
// entirely.
type StatusUpdater struct {
	DB        *gorm.DB
	Queue     *services.QueueService
	Messenger Messenger
	Log       zerolog.Logger

	// Interval is the periodic refresh period for Run.
	Interval time.Duration

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// NewStatusUpdater constructs a StatusUpdater with the wall clock.
func NewStatusUpdater(db *gorm.DB, queue *services.QueueService, m Messenger, log zerolog.Logger, interval time.Duration) *StatusUpdater {
	return &StatusUpdater{
		DB:        db,
		Queue:     queue,
		Messenger: m,
		Log:       log,
		Interval:  interval,
		Now:       time.Now,
	}
}

// Refresh re-renders the status message for one user. It is safe to call
// from any goroutine; failures are logged, never propagated, so a Telegram
// hiccup cannot affect queue processing.
func (u *StatusUpdater) Refresh(ctx context.Context, userID string, chatID int64) {
	if err := u.refresh(ctx, userID, chatID); err != nil {
		u.Log.Warn().Err(err).Str("user_id", userID).Msg("status message refresh failed")
	}
}

func (u *StatusUpdater) refresh(ctx context.Context, userID string, chatID int64) error {
	activity, err := u.Queue.Activity(ctx, userID)
	if err != nil {
		return err
	}
	text := RenderStatus(activity)
	hash := domain.HashContent(text)

	tracked, err := repo.GetBotMessage(ctx, u.DB, chatID, statusMessageType)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return u.send(ctx, chatID, text, hash)
	case err != nil:
		return err
	}

	// Unchanged content: nothing to do.
	if tracked.ContentHash == hash {
		return nil
	}

	// The Bot API stops allowing edits on old messages; renew with a fresh
	// message before that window closes.
	if u.Now().Sub(tracked.CreatedAt) > statusMessageMaxAge {
		if err := repo.DeleteBotMessage(ctx, u.DB, chatID, statusMessageType); err != nil {
			return err
		}
		return u.send(ctx, chatID, text, hash)
	}

	err = u.Messenger.Edit(ctx, chatID, tracked.MessageID, text)
	if errors.Is(err, services.ErrMessageUnmodified) {
		err = nil
	}
	if err != nil {
		return err
	}
	_, err = repo.UpsertBotMessage(ctx, u.DB, chatID, statusMessageType, tracked.MessageID, hash)
	return err
}

func (u *StatusUpdater) send(ctx context.Context, chatID int64, text, hash string) error {
	messageID, err := u.Messenger.Send(ctx, chatID, text)
	if err != nil {
		return err
	}
	_, err = repo.UpsertBotMessage(ctx, u.DB, chatID, statusMessageType, messageID, hash)
	return err
}

// Run refreshes every registered user's status message on a fixed interval
// until ctx is canceled. The periodic sweep catches changes made outside the
// processor's notifications, such as entries becoming due.
func (u *StatusUpdater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()

	u.Log.Info().Dur("interval", u.Interval).Msg("status updater started")
	for {
		select {
		case <-ctx.Done():
			u.Log.Info().Msg("status updater stopped")
			return ctx.Err()
		case <-ticker.C:
			users, err := repo.ListUsers(ctx, u.DB)
			if err != nil {
				u.Log.Error().Err(err).Msg("listing users failed")
				continue
			}
			for _, user := range users {
				if user.Status != domain.UserAllowed {
					continue
				}
				u.Refresh(ctx, user.UserID, user.ChatID)
			}
		}
	}
}

// RenderStatus formats the activity summary into the status message text.
// Queue lines use the exact reschedule syntax so a user can copy one, change
// the timestamp, and send it back. The render is a pure function of the
// activity, so an unchanged queue produces an identical text and the stored
// content hash short-circuits the edit.
func RenderStatus(a *services.Activity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Queue: %d\n", a.QueuedTotal)
	if len(a.Queued) == 0 {
		b.WriteString("  empty\n")
	}
	for _, e := range a.Queued {
		fmt.Fprintf(&b, "  %s: scheduled for %s\n", e.PostID, e.ScheduledTime.UTC().Format(scheduleTimeLayout))
	}

	fmt.Fprintf(&b, "\nProcessed: %d\n", a.ProcessedTotal)
	for _, e := range a.Processed {
		fmt.Fprintf(&b, "  %s: %s\n", e.PostID, e.State)
	}
	return strings.TrimRight(b.String(), "\n")
}
