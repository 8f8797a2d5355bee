// Package services – Processor
//
// This file implements the Processor, which drives one claimed queue entry
// through the download and upload phases to a terminal state. Phase progress
// is persisted after every transition, so a crash mid-entry loses at most the
// phase in flight: a recovered entry with a completed download skips straight
// to the upload.
//
// Collaborator failures are classified (see CollaboratorError). Transient
// failures consume the bounded retry budget with exponential backoff;
// permanent failures fail the phase immediately. Either way the entry always
// reaches processed or failed and is archived, so the queue can never wedge
// on a poisoned entry.
package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/repo"
)

// PostContent describes downloaded media sitting in the local staging area.
type PostContent struct {
	Owner string // account that published the post
	Dir   string // local directory holding the media files
	Files int    // number of media files written
}

// ContentSource fetches media from the origin. Implementations stage files
// under <temp>/<owner>/<post id> so a recovered entry can locate content
// downloaded before a crash.
type ContentSource interface {
	// FetchPost downloads all media of a post into the staging area.
	FetchPost(ctx context.Context, postID string) (*PostContent, error)

	// ListAccountPosts returns the shortcodes of all posts of an account.
	ListAccountPosts(ctx context.Context, owner string) ([]string, error)
}

// TargetStorage uploads staged media to the backup destination.
type TargetStorage interface {
	// Upload mirrors localDir into destDir on the remote side.
	Upload(ctx context.Context, localDir, destDir string) error
}

// Notifier is told when a user's queue visibly changed so the status message
// can be refreshed.
type Notifier interface {
	Refresh(ctx context.Context, userID string, chatID int64)
}

// AccountExpander enqueues the posts discovered for an account entry.
type AccountExpander interface {
	EnqueueExpanded(ctx context.Context, src *domain.QueueEntry, postIDs []string) (int, error)
}

// Processor executes claimed queue entries.
type Processor struct {
	DB       *gorm.DB
	Source   ContentSource
	Storage  TargetStorage
	Expander AccountExpander
	Notifier Notifier // optional
	Log      zerolog.Logger

	// TempDir is the staging root, shared with the content source.
	TempDir string
	// MaxAttempts bounds the retries of each phase.
	MaxAttempts int
	// RetryBaseDelay is doubled after every failed attempt.
	RetryBaseDelay time.Duration

	// Sleep waits between retries; overridable in tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// NewProcessor constructs a Processor with a context-aware sleep.
func NewProcessor(db *gorm.DB, source ContentSource, storage TargetStorage, expander AccountExpander, log zerolog.Logger, tempDir string, maxAttempts int, retryBase time.Duration) *Processor {
	return &Processor{
		DB:             db,
		Source:         source,
		Storage:        storage,
		Expander:       expander,
		Log:            log,
		TempDir:        tempDir,
		MaxAttempts:    maxAttempts,
		RetryBaseDelay: retryBase,
		Sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Process drives one claimed entry to a terminal state and archives it.
// The returned error reports why the entry failed; the entry itself has
// already been moved to the processed table in either case.
func (p *Processor) Process(ctx context.Context, entry *domain.QueueEntry) error {
	tr := otel.Tracer("services/Processor")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("post.id", entry.PostID),
			attribute.String("user.id", entry.UserID),
			attribute.String("link.type", string(entry.LinkType)),
		),
	)
	defer span.End()

	log := p.Log.With().
		Str("request_id", uuid.NewString()).
		Str("user_id", entry.UserID).
		Str("post_id", entry.PostID).
		Uint64("entry_id", entry.ID).
		Logger()

	var err error
	if entry.LinkType == domain.LinkTypeAccount {
		err = p.processAccount(ctx, log, entry)
	} else {
		err = p.processPost(ctx, log, entry)
	}

	if p.Notifier != nil {
		p.Notifier.Refresh(ctx, entry.UserID, entry.ChatID)
	}
	return err
}

// processPost runs the download and upload phases for a single post entry.
func (p *Processor) processPost(ctx context.Context, log zerolog.Logger, entry *domain.QueueEntry) error {
	owner := entry.PostOwner

	// A recovered entry may have a completed download whose staged files
	// were lost with the host. Verify before trusting the recorded status.
	needDownload := entry.DownloadStatus != domain.StatusCompleted
	if !needDownload {
		staged := filepath.Join(p.TempDir, owner, entry.PostID)
		if _, err := os.Stat(staged); err != nil {
			log.Warn().Str("dir", staged).Msg("staged media missing, downloading again")
			needDownload = true
		}
	}

	if needDownload {
		var content *PostContent
		err := p.withRetry(ctx, log, "download", func() error {
			var ferr error
			content, ferr = p.Source.FetchPost(ctx, entry.PostID)
			return ferr
		})
		if err != nil {
			return p.fail(ctx, log, entry, repo.StatusUpdate{Download: statusRef(domain.StatusFailed)}, err)
		}
		owner = content.Owner
		updated, uerr := repo.UpdateStatuses(ctx, p.DB, entry.ID, repo.StatusUpdate{
			Download:  statusRef(domain.StatusCompleted),
			PostOwner: content.Owner,
		})
		if uerr != nil {
			return uerr
		}
		*entry = *updated
		log.Info().Str("owner", content.Owner).Int("files", content.Files).Msg("download completed")
	} else {
		log.Info().Msg("download already completed, skipping")
	}

	localDir := filepath.Join(p.TempDir, owner, entry.PostID)
	err := p.withRetry(ctx, log, "upload", func() error {
		return p.Storage.Upload(ctx, localDir, owner)
	})
	if err != nil {
		return p.fail(ctx, log, entry, repo.StatusUpdate{Upload: statusRef(domain.StatusFailed)}, err)
	}

	updated, err := repo.UpdateStatuses(ctx, p.DB, entry.ID, repo.StatusUpdate{Upload: statusRef(domain.StatusCompleted)})
	if err != nil {
		return err
	}
	*entry = *updated
	if _, err := repo.Archive(ctx, p.DB, entry.ID); err != nil {
		return err
	}
	// Staged media is only removed once the entry is safely archived.
	if rmErr := os.RemoveAll(localDir); rmErr != nil {
		log.Warn().Err(rmErr).Str("dir", localDir).Msg("staging cleanup failed")
	}
	log.Info().Msg("entry processed and archived")
	return nil
}

// processAccount expands an account entry into one queue entry per post.
// The account entry itself completes once the expansion is enqueued; the
// individual posts are downloaded on their own schedule slots.
func (p *Processor) processAccount(ctx context.Context, log zerolog.Logger, entry *domain.QueueEntry) error {
	var posts []string
	err := p.withRetry(ctx, log, "list_account", func() error {
		var ferr error
		posts, ferr = p.Source.ListAccountPosts(ctx, entry.PostOwner)
		return ferr
	})
	if err != nil {
		return p.fail(ctx, log, entry, repo.StatusUpdate{Download: statusRef(domain.StatusFailed)}, err)
	}

	added, err := p.Expander.EnqueueExpanded(ctx, entry, posts)
	if err != nil {
		return p.fail(ctx, log, entry, repo.StatusUpdate{Download: statusRef(domain.StatusFailed)}, err)
	}

	if _, err := repo.UpdateStatuses(ctx, p.DB, entry.ID, repo.StatusUpdate{
		Download: statusRef(domain.StatusCompleted),
		Upload:   statusRef(domain.StatusCompleted),
	}); err != nil {
		return err
	}
	if _, err := repo.Archive(ctx, p.DB, entry.ID); err != nil {
		return err
	}
	log.Info().Int("posts", len(posts)).Int("enqueued", added).Msg("account expanded")
	return nil
}

// withRetry runs fn up to MaxAttempts times with exponential backoff.
// Permanent failures and context cancellation stop the retries early.
func (p *Processor) withRetry(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	var err error
	delay := p.RetryBaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsPermanent(err) {
			log.Warn().Err(err).Str("op", op).Msg("permanent failure, not retrying")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < p.MaxAttempts {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("transient failure, retrying")
			p.Sleep(ctx, delay)
			delay *= 2
		}
	}
	return err
}

// fail records the failed phase, archives the entry for audit, and returns
// the original cause.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, entry *domain.QueueEntry, upd repo.StatusUpdate, cause error) error {
	updated, err := repo.UpdateStatuses(ctx, p.DB, entry.ID, upd)
	if err != nil && !errors.Is(err, repo.ErrInvalidState) {
		log.Error().Err(err).Msg("failed to record failure")
		return cause
	}
	if updated != nil {
		*entry = *updated
	}
	if _, err := repo.Archive(ctx, p.DB, entry.ID); err != nil {
		log.Error().Err(err).Msg("failed to archive failed entry")
	}
	log.Error().Err(cause).Msg("entry failed")
	return cause
}

func statusRef(s domain.ContentStatus) *domain.ContentStatus { return &s }
