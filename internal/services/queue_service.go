// Package services – QueueService
//
// This file implements the QueueService, the front door of the backup queue.
// It authorizes the requesting user, parses submitted links, asks the rate
// limiter for a schedule slot per accepted link, and persists the resulting
// queue entries. It also serves the user-facing views: the activity summary
// and the manual reschedule operation.
//
// Service-level errors (e.g., ErrDuplicateRequest, ErrUserDenied) are
// returned for predictable cases so the Telegram handlers can map them to
// user-facing replies consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/config"
	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/repo"
)

// QueueService provides the queue-facing operations: user registration,
// request submission, activity reporting, and manual rescheduling.
type QueueService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Limiter computes the schedule slot for each accepted request.
	Limiter *RateLimiter
	// Defaults are the rate-limit values provisioned for new users.
	Defaults config.RateLimitConfig
	// DefaultStatus is the access status granted at registration.
	DefaultStatus domain.UserStatus

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// NewQueueService constructs a QueueService with the wall clock and a
// time-seeded rate limiter.
func NewQueueService(db *gorm.DB, defaults config.RateLimitConfig, defaultStatus domain.UserStatus) *QueueService {
	return &QueueService{
		DB:            db,
		Limiter:       NewRateLimiter(),
		Defaults:      defaults,
		DefaultStatus: defaultStatus,
		Now:           time.Now,
	}
}

// RegisterUser records the user and chat on /start and provisions the
// rate-limit profile from the configured defaults when the user has none.
// An existing profile is never overwritten.
func (s *QueueService) RegisterUser(ctx context.Context, userID string, chatID int64) (*domain.User, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "RegisterUser",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	user, err := repo.UpsertUser(ctx, s.DB, userID, chatID, s.DefaultStatus)
	if err != nil {
		return nil, err
	}

	_, err = repo.GetRequestProfile(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		err = repo.UpsertRequestProfile(ctx, s.DB, &domain.UserRequestProfile{
			UserID:             userID,
			RequestsPerDay:     s.Defaults.RequestsPerDay,
			RequestsPerHour:    s.Defaults.RequestsPerHour,
			RandomShiftMinutes: s.Defaults.RandomShiftMinutes,
		})
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Submit parses a message's links, assigns each a rate-limited schedule slot,
// and enqueues the resulting entries. A message may carry a single post link,
// several post links (one per line), or an account link.
//
// Entries rejected as duplicates are skipped; when every link is a duplicate
// the call fails with ErrDuplicateRequest. A denied or unknown user gets
// ErrUserDenied, a user without a rate-limit profile ErrConfigurationMissing.
func (s *QueueService) Submit(ctx context.Context, userID string, chatID int64, messageID int, text string) ([]domain.QueueEntry, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := s.authorize(ctx, userID); err != nil {
		return nil, err
	}

	links, err := parseSubmission(text)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("links.count", len(links)))

	profile, err := repo.GetRequestProfile(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConfigurationMissing
	}
	if err != nil {
		return nil, err
	}

	linkType := links[0].LinkType
	if len(links) > 1 {
		linkType = domain.LinkTypeList
	}

	var accepted []domain.QueueEntry
	duplicates := 0
	for _, link := range links {
		now := s.Now()
		scheduled, err := s.nextSlot(ctx, userID, profile, now)
		if err != nil {
			return accepted, err
		}

		entry := domain.QueueEntry{
			UserID:        userID,
			PostID:        link.PostID,
			PostURL:       link.PostURL,
			LinkType:      linkType,
			MessageID:     messageID,
			ChatID:        chatID,
			ScheduledTime: scheduled,
		}
		if link.LinkType == domain.LinkTypeAccount {
			entry.LinkType = domain.LinkTypeAccount
			entry.PostOwner = link.PostID
		}

		err = repo.EnqueueEntry(ctx, s.DB, &entry)
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			duplicates++
			continue
		case err != nil:
			return accepted, err
		}
		accepted = append(accepted, entry)
	}

	if len(accepted) == 0 && duplicates > 0 {
		return nil, ErrDuplicateRequest
	}
	return accepted, nil
}

// EnqueueExpanded enqueues the posts discovered for an account entry. Each
// post receives its own rate-limited slot; duplicates already queued or
// processed are skipped silently.
func (s *QueueService) EnqueueExpanded(ctx context.Context, src *domain.QueueEntry, postIDs []string) (int, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "EnqueueExpanded",
		trace.WithAttributes(
			attribute.String("user.id", src.UserID),
			attribute.String("account", src.PostOwner),
			attribute.Int("posts.count", len(postIDs)),
		),
	)
	defer span.End()

	profile, err := repo.GetRequestProfile(ctx, s.DB, src.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrConfigurationMissing
	}
	if err != nil {
		return 0, err
	}

	added := 0
	for _, postID := range postIDs {
		scheduled, err := s.nextSlot(ctx, src.UserID, profile, s.Now())
		if err != nil {
			return added, err
		}
		entry := domain.QueueEntry{
			UserID:        src.UserID,
			PostID:        postID,
			PostURL:       "https://www.instagram.com/p/" + postID + "/",
			PostOwner:     src.PostOwner,
			LinkType:      domain.LinkTypePost,
			MessageID:     src.MessageID,
			ChatID:        src.ChatID,
			ScheduledTime: scheduled,
		}
		err = repo.EnqueueEntry(ctx, s.DB, &entry)
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Activity is the "last activity" view rendered into the status message.
type Activity struct {
	QueuedTotal    int64
	ProcessedTotal int64
	Queued         []domain.QueueEntry     // next slots, soonest first
	Processed      []domain.ProcessedEntry // most recent first
}

// activityListLimit caps the per-section entries in the status view.
const activityListLimit = 5

// Activity returns the user's queue and history summary.
func (s *QueueService) Activity(ctx context.Context, userID string) (*Activity, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Activity",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	queuedTotal, err := repo.CountUserQueue(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	processedTotal, err := repo.CountUserProcessed(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	queued, err := repo.ListUserQueue(ctx, s.DB, userID, activityListLimit)
	if err != nil {
		return nil, err
	}
	processed, err := repo.ListUserProcessed(ctx, s.DB, userID, activityListLimit)
	if err != nil {
		return nil, err
	}
	return &Activity{
		QueuedTotal:    queuedTotal,
		ProcessedTotal: processedTotal,
		Queued:         queued,
		Processed:      processed,
	}, nil
}

// Reschedule moves a waiting entry to an explicit future time, bypassing the
// rate limiter. The target time must be strictly in the future; claimed or
// archived entries cannot be moved.
func (s *QueueService) Reschedule(ctx context.Context, userID, postID string, newTime time.Time) error {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Reschedule",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("post.id", postID),
		),
	)
	defer span.End()

	if !newTime.After(s.Now()) {
		return ErrTimeInPast
	}
	err := repo.Reschedule(ctx, s.DB, userID, postID, newTime)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrPostNotFound
	case errors.Is(err, repo.ErrInvalidState):
		return ErrInvalidStateTransition
	}
	return err
}

// authorize verifies the user exists and is allowed to use the bot.
func (s *QueueService) authorize(ctx context.Context, userID string) error {
	user, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserDenied
	}
	if err != nil {
		return err
	}
	if user.Status != domain.UserAllowed {
		return ErrUserDenied
	}
	return nil
}

// nextSlot computes the schedule slot for one new entry given the user's
// current queue and recent history.
func (s *QueueService) nextSlot(ctx context.Context, userID string, profile *domain.UserRequestProfile, now time.Time) (time.Time, error) {
	last, ok, err := repo.LatestScheduled(ctx, s.DB, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		last = time.Time{}
	}
	recent, err := repo.RecentScheduleTimes(ctx, s.DB, userID, now.Add(-24*time.Hour))
	if err != nil {
		return time.Time{}, err
	}
	return s.Limiter.Next(profile, last, recent, now)
}

// parseSubmission splits a message into links. Every non-empty line must be a
// valid post link, except the single-line case where an account link is also
// accepted.
func parseSubmission(text string) ([]domain.PostLink, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return nil, domain.ErrInvalidPostLink
	}

	if len(lines) == 1 {
		if link, err := domain.ParsePostLink(lines[0]); err == nil {
			return []domain.PostLink{*link}, nil
		}
		link, err := domain.ParseAccountLink(lines[0])
		if err != nil {
			return nil, domain.ErrInvalidPostLink
		}
		return []domain.PostLink{*link}, nil
	}

	links := make([]domain.PostLink, 0, len(lines))
	for _, line := range lines {
		link, err := domain.ParsePostLink(line)
		if err != nil {
			return nil, domain.ErrInvalidPostLink
		}
		links = append(links, *link)
	}
	return links, nil
}
