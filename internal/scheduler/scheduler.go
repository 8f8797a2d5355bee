// Package scheduler polls the queue for due entries and dispatches them to a
// bounded pool of processor workers.
//
// On startup the scheduler first recovers entries orphaned by a previous
// crash (claimed but never finished) by resetting them to waiting, then it
// ticks at a fixed interval. Each tick claims a batch of due entries; the
// claim itself is the locking step, so multiple workers never see the same
// entry. A per-entry failure is isolated: it is logged and the loop keeps
// going.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/repo"
)

// EntryProcessor drives one claimed entry to a terminal state.
type EntryProcessor interface {
	Process(ctx context.Context, entry *domain.QueueEntry) error
}

// Observer receives scheduler lifecycle events for metrics. All methods must
// be cheap and non-blocking.
type Observer interface {
	TickCompleted(claimed int)
	EntryFinished(err error, took time.Duration)
	WorkerBusy(delta int)
}

// Scheduler claims due queue entries on a fixed interval and runs them on a
// bounded worker pool.
type Scheduler struct {
	DB        *gorm.DB
	Processor EntryProcessor
	Log       zerolog.Logger
	Observer  Observer // optional

	// PollInterval is the tick period.
	PollInterval time.Duration
	// BatchLimit caps the entries claimed per tick.
	BatchLimit int
	// Workers bounds concurrent Process invocations.
	Workers int

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// New constructs a Scheduler with the wall clock.
func New(db *gorm.DB, p EntryProcessor, log zerolog.Logger, pollInterval time.Duration, batchLimit, workers int) *Scheduler {
	return &Scheduler{
		DB:           db,
		Processor:    p,
		Log:          log,
		PollInterval: pollInterval,
		BatchLimit:   batchLimit,
		Workers:      workers,
		Now:          time.Now,
	}
}

// Run recovers orphaned entries, then polls until ctx is canceled. It blocks
// until the final tick's workers have drained.
func (s *Scheduler) Run(ctx context.Context) error {
	recovered, err := repo.RecoverOrphaned(ctx, s.DB, s.Now())
	if err != nil {
		return err
	}
	if recovered > 0 {
		s.Log.Warn().Int64("entries", recovered).Msg("recovered orphaned queue entries")
	}

	sem := make(chan struct{}, s.Workers)
	var wg sync.WaitGroup

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	s.Log.Info().
		Dur("poll_interval", s.PollInterval).
		Int("workers", s.Workers).
		Int("batch_limit", s.BatchLimit).
		Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.Log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, sem, &wg)
		}
	}
}

// tick claims one batch of due entries and hands each to a worker slot.
// Acquiring a slot blocks, which naturally throttles claiming when all
// workers are busy.
func (s *Scheduler) tick(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	claimed, err := repo.ClaimDue(ctx, s.DB, s.Now(), s.BatchLimit)
	if err != nil {
		s.Log.Error().Err(err).Msg("claiming due entries failed")
		return
	}
	if s.Observer != nil {
		s.Observer.TickCompleted(len(claimed))
	}
	if len(claimed) == 0 {
		return
	}
	s.Log.Debug().Int("claimed", len(claimed)).Msg("claimed due entries")

	for i := range claimed {
		entry := claimed[i]
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if s.Observer != nil {
				s.Observer.WorkerBusy(1)
				defer s.Observer.WorkerBusy(-1)
			}
			start := s.Now()
			err := s.Processor.Process(ctx, &entry)
			if s.Observer != nil {
				s.Observer.EntryFinished(err, s.Now().Sub(start))
			}
			if err != nil {
				s.Log.Error().Err(err).
					Uint64("entry_id", entry.ID).
					Str("post_id", entry.PostID).
					Msg("entry processing failed")
			}
		}()
	}
}
