package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:scheduler_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// recordingProcessor archives entries and records which ones it saw.
type recordingProcessor struct {
	db   *gorm.DB
	mu   sync.Mutex
	seen map[string]int
	fail map[string]error
	done chan struct{} // receives one signal per processed entry
}

func newRecordingProcessor(db *gorm.DB) *recordingProcessor {
	return &recordingProcessor{
		db:   db,
		seen: map[string]int{},
		fail: map[string]error{},
		done: make(chan struct{}, 64),
	}
}

func (p *recordingProcessor) Process(ctx context.Context, entry *domain.QueueEntry) error {
	p.mu.Lock()
	p.seen[entry.PostID]++
	err := p.fail[entry.PostID]
	p.mu.Unlock()
	defer func() { p.done <- struct{}{} }()

	status := domain.StatusCompleted
	if err != nil {
		status = domain.StatusFailed
	}
	if _, uerr := repo.UpdateStatuses(ctx, p.db, entry.ID, repo.StatusUpdate{Download: &status, Upload: &status}); uerr != nil {
		return uerr
	}
	if _, aerr := repo.Archive(ctx, p.db, entry.ID); aerr != nil {
		return aerr
	}
	return err
}

func enqueue(t *testing.T, db *gorm.DB, postID string, scheduled time.Time) {
	t.Helper()
	err := repo.EnqueueEntry(context.Background(), db, &domain.QueueEntry{
		UserID:        "user-1",
		PostID:        postID,
		PostURL:       "https://www.instagram.com/p/" + postID + "/",
		LinkType:      domain.LinkTypePost,
		MessageID:     7,
		ChatID:        42,
		ScheduledTime: scheduled,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", postID, err)
	}
}

func waitFor(t *testing.T, p *recordingProcessor, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-p.done:
		case <-deadline:
			t.Fatalf("timed out waiting for %d processed entries", n)
		}
	}
}

func TestScheduler_ProcessesDueEntriesOnce(t *testing.T) {
	db := newTestDB(t)
	p := newRecordingProcessor(db)
	now := time.Now()

	enqueue(t, db, "aaaaaaaaaaa", now.Add(-time.Minute))
	enqueue(t, db, "bbbbbbbbbbb", now.Add(-time.Minute))
	enqueue(t, db, "zzzzzzzzzzz", now.Add(time.Hour)) // not due

	s := New(db, p, zerolog.Nop(), 10*time.Millisecond, 10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, p, 2)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen["aaaaaaaaaaa"] != 1 || p.seen["bbbbbbbbbbb"] != 1 {
		t.Fatalf("due entries not processed exactly once: %v", p.seen)
	}
	if p.seen["zzzzzzzzzzz"] != 0 {
		t.Fatalf("future entry must not run: %v", p.seen)
	}
}

func TestScheduler_RecoversOrphansOnStart(t *testing.T) {
	db := newTestDB(t)
	p := newRecordingProcessor(db)
	now := time.Now()
	ctx0 := context.Background()

	// An entry claimed by a previous run that never finished.
	enqueue(t, db, "aaaaaaaaaaa", now.Add(-time.Minute))
	if _, err := repo.ClaimDue(ctx0, db, now, 1); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	s := New(db, p, zerolog.Nop(), 10*time.Millisecond, 10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, p, 1)
	cancel()
	<-errc

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen["aaaaaaaaaaa"] != 1 {
		t.Fatalf("orphaned entry not recovered and processed: %v", p.seen)
	}
}

func TestScheduler_FailureIsolation(t *testing.T) {
	db := newTestDB(t)
	p := newRecordingProcessor(db)
	p.fail["aaaaaaaaaaa"] = errors.New("boom")
	now := time.Now()

	enqueue(t, db, "aaaaaaaaaaa", now.Add(-2*time.Minute))
	enqueue(t, db, "bbbbbbbbbbb", now.Add(-time.Minute))

	s := New(db, p, zerolog.Nop(), 10*time.Millisecond, 10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, p, 2)
	cancel()
	<-errc

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen["bbbbbbbbbbb"] != 1 {
		t.Fatalf("failure of one entry must not block others: %v", p.seen)
	}
}

// blockingProcessor holds entries until released to expose the pool bound.
type blockingProcessor struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
	db      *gorm.DB
}

func (p *blockingProcessor) Process(ctx context.Context, entry *domain.QueueEntry) error {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()

	<-p.release

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	status := domain.StatusCompleted
	if _, err := repo.UpdateStatuses(ctx, p.db, entry.ID, repo.StatusUpdate{Download: &status, Upload: &status}); err != nil {
		return err
	}
	_, err := repo.Archive(ctx, p.db, entry.ID)
	return err
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	db := newTestDB(t)
	p := &blockingProcessor{release: make(chan struct{}), db: db}
	now := time.Now()

	for _, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd"} {
		enqueue(t, db, id, now.Add(-time.Minute))
	}

	s := New(db, p, zerolog.Nop(), 10*time.Millisecond, 10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	// Give the pool time to saturate, then release everyone.
	time.Sleep(200 * time.Millisecond)
	close(p.release)
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-errc

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peak > 2 {
		t.Fatalf("worker pool exceeded bound: peak %d", p.peak)
	}
	if p.peak == 0 {
		t.Fatalf("no entries were processed")
	}
}
