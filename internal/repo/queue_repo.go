// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the backup
// queue and the processed-history table.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic beyond the
// state-transition rules that guard row integrity.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - ErrDuplicate signals an enqueue for a (user_id, post_id) pair that is
//     already queued or already backed up.
//   - ErrInvalidState signals a transition that the lifecycle forbids
//     (rescheduling a claimed row, mutating a terminal row, archiving a
//     non-terminal row).
//
// Concurrency:
//   - ClaimDue is the single locking discipline of the system. Claiming is a
//     guarded UPDATE (state = waiting → in_progress) per candidate row, so
//     two concurrent claimers can never obtain the same row: exactly one of
//     the updates matches the guard.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates an active or already processed entry exists for the
// same (user_id, post_id) pair.
var ErrDuplicate = errors.New("duplicate queue entry")

// ErrInvalidState indicates a state transition the lifecycle forbids.
var ErrInvalidState = errors.New("invalid state transition")

// EnqueueEntry inserts a new waiting queue entry. The uniqueness check and
// the insert run in one transaction: a pair that is already queued or
// already present in the processed history is rejected with ErrDuplicate so
// the same post is never backed up twice for the same user.
func EnqueueEntry(ctx context.Context, db *gorm.DB, e *domain.QueueEntry) error {
	if !e.LinkType.Valid() {
		return ErrInvalidState
	}
	if e.DownloadStatus == "" {
		e.DownloadStatus = domain.StatusNotStarted
	}
	if e.UploadStatus == "" {
		e.UploadStatus = domain.StatusNotStarted
	}
	if !e.DownloadStatus.Valid() || !e.UploadStatus.Valid() {
		return ErrInvalidState
	}
	e.State = domain.StateWaiting

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var queued int64
		if err := tx.Model(&domain.QueueEntry{}).
			Where("user_id = ? AND post_id = ?", e.UserID, e.PostID).
			Count(&queued).Error; err != nil {
			return err
		}
		var processed int64
		if err := tx.Model(&domain.ProcessedEntry{}).
			Where("user_id = ? AND post_id = ?", e.UserID, e.PostID).
			Count(&processed).Error; err != nil {
			return err
		}
		if queued > 0 || processed > 0 {
			return ErrDuplicate
		}
		return tx.Create(e).Error
	})
}

// ClaimDue atomically claims up to limit due waiting entries, ordered by
// scheduled time ascending (FIFO fairness), flipping each to in_progress.
// The guarded per-row update acts as a lease: a row claimed here is invisible
// to every other caller until it reaches a terminal state or is recovered.
func ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.QueueEntry, error) {
	var claimed []domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []domain.QueueEntry
		if err := tx.
			Where("state = ? AND scheduled_time <= ?", domain.StateWaiting, now).
			Order("scheduled_time ASC, id ASC").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return err
		}
		for _, c := range candidates {
			res := tx.Model(&domain.QueueEntry{}).
				Where("id = ? AND state = ?", c.ID, domain.StateWaiting).
				Update("state", domain.StateInProgress)
			if res.Error != nil {
				return res.Error
			}
			// Zero rows means another claimer won the race for this row.
			if res.RowsAffected == 1 {
				c.State = domain.StateInProgress
				claimed = append(claimed, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// StatusUpdate carries the partial updates applied by UpdateStatuses.
// Nil fields are left untouched.
type StatusUpdate struct {
	Download  *domain.ContentStatus
	Upload    *domain.ContentStatus
	PostOwner string // discovered during download; empty means unchanged
}

// UpdateStatuses applies a partial status update to a queue entry and derives
// the lifecycle state: both phases completed → processed, either phase failed
// → failed, otherwise the row stays in_progress. Terminal rows are immutable
// and yield ErrInvalidState.
func UpdateStatuses(ctx context.Context, db *gorm.DB, id uint64, upd StatusUpdate) (*domain.QueueEntry, error) {
	var entry domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&entry).Error; err != nil {
			return err
		}
		if entry.State.Terminal() {
			return ErrInvalidState
		}
		if upd.Download != nil {
			if !upd.Download.Valid() {
				return ErrInvalidState
			}
			entry.DownloadStatus = *upd.Download
		}
		if upd.Upload != nil {
			if !upd.Upload.Valid() {
				return ErrInvalidState
			}
			entry.UploadStatus = *upd.Upload
		}
		if upd.PostOwner != "" {
			entry.PostOwner = upd.PostOwner
		}

		switch {
		case entry.DownloadStatus == domain.StatusCompleted && entry.UploadStatus == domain.StatusCompleted:
			entry.State = domain.StateProcessed
		case entry.DownloadStatus == domain.StatusFailed || entry.UploadStatus == domain.StatusFailed:
			entry.State = domain.StateFailed
		default:
			entry.State = domain.StateInProgress
		}
		return tx.Save(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Reschedule moves a waiting entry to a new scheduled time. It is only legal
// while the entry is still waiting; a claimed or terminal entry yields
// ErrInvalidState, a missing one ErrNotFound.
func Reschedule(ctx context.Context, db *gorm.DB, userID, postID string, newTime time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.QueueEntry{}).
			Where("user_id = ? AND post_id = ? AND state = ?", userID, postID, domain.StateWaiting).
			Update("scheduled_time", newTime)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var count int64
		if err := tx.Model(&domain.QueueEntry{}).
			Where("user_id = ? AND post_id = ?", userID, postID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrInvalidState
		}
		return ErrNotFound
	})
}

// Archive moves a terminal queue entry into the processed table and deletes
// the active row in a single transaction, so there is no gap where the row
// exists in neither place. Archiving a non-terminal row yields ErrInvalidState.
func Archive(ctx context.Context, db *gorm.DB, id uint64) (*domain.ProcessedEntry, error) {
	var archived domain.ProcessedEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry domain.QueueEntry
		if err := tx.Where("id = ?", id).First(&entry).Error; err != nil {
			return err
		}
		if !entry.State.Terminal() {
			return ErrInvalidState
		}
		archived = domain.ProcessedEntry{
			UserID:         entry.UserID,
			PostID:         entry.PostID,
			PostURL:        entry.PostURL,
			PostOwner:      entry.PostOwner,
			LinkType:       entry.LinkType,
			MessageID:      entry.MessageID,
			ChatID:         entry.ChatID,
			ScheduledTime:  entry.ScheduledTime,
			DownloadStatus: entry.DownloadStatus,
			UploadStatus:   entry.UploadStatus,
			State:          entry.State,
			ProcessedAt:    time.Now().UTC(),
		}
		if err := tx.Create(&archived).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.QueueEntry{}, entry.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &archived, nil
}

// RecoverOrphaned resets rows left in_progress by a prior crash back to
// waiting with an immediate scheduled time. At-least-once recovery: a post
// may be re-downloaded after a crash, which the completed phase statuses on
// the row keep to a minimum.
func RecoverOrphaned(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Where("state = ?", domain.StateInProgress).
		Updates(map[string]interface{}{
			"state":          domain.StateWaiting,
			"scheduled_time": now,
		})
	return res.RowsAffected, res.Error
}

// GetQueueEntry fetches a single queue entry by id.
func GetQueueEntry(ctx context.Context, db *gorm.DB, id uint64) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ListUserQueue returns a user's queued entries ordered by scheduled time
// ascending, up to limit rows.
func ListUserQueue(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scheduled_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountUserQueue returns the number of active queue entries for a user.
func CountUserQueue(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListUserProcessed returns a user's archived entries, most recent first,
// up to limit rows.
func ListUserProcessed(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.ProcessedEntry, error) {
	var out []domain.ProcessedEntry
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("processed_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountUserProcessed returns the number of archived entries for a user.
func CountUserProcessed(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ProcessedEntry{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// LatestScheduled returns the latest scheduled time currently queued for a
// user, or ok=false when the user has no queued entries.
func LatestScheduled(ctx context.Context, db *gorm.DB, userID string) (time.Time, bool, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scheduled_time DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return e.ScheduledTime, true, nil
}

// RecentScheduleTimes returns all scheduled times for a user since the given
// instant, from both the active queue (including future slots) and the
// processed history. This is the rate limiter's view of the user's cadence.
func RecentScheduleTimes(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]time.Time, error) {
	var queued []domain.QueueEntry
	if err := db.WithContext(ctx).
		Select("scheduled_time").
		Where("user_id = ? AND scheduled_time >= ?", userID, since).
		Find(&queued).Error; err != nil {
		return nil, err
	}
	var processed []domain.ProcessedEntry
	if err := db.WithContext(ctx).
		Select("scheduled_time").
		Where("user_id = ? AND scheduled_time >= ?", userID, since).
		Find(&processed).Error; err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(queued)+len(processed))
	for _, e := range queued {
		out = append(out, e.ScheduledTime)
	}
	for _, e := range processed {
		out = append(out, e.ScheduledTime)
	}
	return out, nil
}

// CountQueue returns the total number of active queue entries.
func CountQueue(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.QueueEntry{}).Count(&total).Error
	return total, err
}

// CountProcessedByState returns the number of archived entries in the given
// final state.
func CountProcessedByState(ctx context.Context, db *gorm.DB, state domain.QueueState) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ProcessedEntry{}).
		Where("state = ?", state).
		Count(&total).Error
	return total, err
}
