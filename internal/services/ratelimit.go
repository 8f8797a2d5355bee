// Package services – rate limiter
//
// This file implements the per-user scheduling policy. Every accepted request
// is assigned a future scheduled time that honors the user's request profile:
// hourly spacing between consecutive slots, a rolling 24-hour cap, and a
// random forward jitter so the bot's traffic does not form a detectable
// regular pattern.
//
// The limiter is a pure computation over its inputs. Time and randomness are
// injected, which keeps the policy deterministic under test.
package services

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/obervinov/instabot-downloader/internal/domain"
)

// RateLimiter computes the next available schedule slot for a user.
type RateLimiter struct {
	// Rand supplies the jitter. Tests inject a seeded source.
	Rand *rand.Rand

	// mu serializes jitter draws; Next is called concurrently from the
	// Telegram handler goroutines and the scheduler workers, and *rand.Rand
	// is not safe for concurrent use.
	mu sync.Mutex
}

// NewRateLimiter constructs a limiter with a time-seeded jitter source.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the scheduled time for a new request.
//
// Inputs:
//   - profile: the user's request profile; must be present and positive.
//   - lastScheduled: the latest scheduled time currently queued for the user
//     (zero when the queue is empty).
//   - recent: every scheduled time the user holds in the last 24 hours and
//     the future, across both the active queue and the processed history.
//   - now: the current time.
//
// The result is always at or after now, spaced at least 1h/RequestsPerHour
// after lastScheduled, pushed past any full rolling 24-hour window, and
// shifted forward by a random jitter of up to RandomShiftMinutes.
func (l *RateLimiter) Next(profile *domain.UserRequestProfile, lastScheduled time.Time, recent []time.Time, now time.Time) (time.Time, error) {
	if profile == nil {
		return time.Time{}, ErrConfigurationMissing
	}
	if profile.RequestsPerDay < 1 || profile.RequestsPerHour < 1 || profile.RandomShiftMinutes < 0 {
		return time.Time{}, errors.New("request profile values out of range")
	}

	spacing := time.Hour / time.Duration(profile.RequestsPerHour)

	candidate := now
	if !lastScheduled.IsZero() && lastScheduled.Add(spacing).After(candidate) {
		candidate = lastScheduled.Add(spacing)
	}

	// Rolling 24-hour cap. When the window ending at the candidate is full,
	// the slot opens only once the oldest occupant leaves the window, so the
	// candidate jumps to oldest + 24h and the window is re-checked there.
	sorted := make([]time.Time, len(recent))
	copy(sorted, recent)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for {
		windowStart := candidate.Add(-24 * time.Hour)
		var inWindow []time.Time
		for _, ts := range sorted {
			if ts.After(windowStart) && !ts.After(candidate) {
				inWindow = append(inWindow, ts)
			}
		}
		if len(inWindow) < profile.RequestsPerDay {
			break
		}
		next := inWindow[0].Add(24 * time.Hour)
		if !next.After(candidate) {
			// Cannot make progress; the window data is degenerate.
			return time.Time{}, errors.New("rate window does not advance")
		}
		candidate = next
	}

	// Jitter is applied last and only moves the slot forward, so the spacing
	// and window guarantees still hold.
	if profile.RandomShiftMinutes > 0 {
		l.mu.Lock()
		shift := time.Duration(l.Rand.Intn(profile.RandomShiftMinutes+1)) * time.Minute
		l.mu.Unlock()
		candidate = candidate.Add(shift)
	}
	return candidate, nil
}
