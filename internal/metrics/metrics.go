// Package metrics exposes Prometheus instrumentation for the queue pipeline.
//
// Two kinds of signals live here with careful attention to label cardinality:
//
//   - event counters and histograms fed by the scheduler (ticks, claims,
//     per-entry processing outcome and duration)
//   - gauges polled from the database (queue length, processed/failed
//     totals), refreshed by Poller on a fixed interval
//
// The only label in use is the entry outcome ("processed"/"failed"), so
// cardinality stays constant regardless of traffic. All collectors are safe
// for concurrent use.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/domain"
	"github.com/obervinov/instabot-downloader/internal/repo"
)

var (
	// schedulerTicks counts completed scheduler polls.
	schedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler poll ticks.",
		},
	)

	// entriesClaimed counts queue entries claimed for processing.
	entriesClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_entries_claimed_total",
			Help: "Total number of queue entries claimed by the scheduler.",
		},
	)

	// entriesFinished counts terminal entries by outcome.
	entriesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_entries_finished_total",
			Help: "Total number of queue entries driven to a terminal state.",
		},
		[]string{"outcome"},
	)

	// processDuration records per-entry processing time. Entries involve
	// media downloads, so the buckets reach into minutes.
	processDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "queue_entry_process_duration_seconds",
			Help: "Duration of processing one queue entry in seconds.",
			Buckets: []float64{
				0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
			},
		},
	)

	// workersBusy gauges the processor workers currently occupied.
	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_workers_busy",
			Help: "Number of processor workers currently busy.",
		},
	)

	// queueLength gauges the active queue size, polled from the database.
	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_length",
			Help: "Current number of entries in the active queue.",
		},
	)

	// processedTotal gauges the archived entries by final state, polled
	// from the database.
	processedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "processed_entries",
			Help: "Number of archived entries by final state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		schedulerTicks,
		entriesClaimed,
		entriesFinished,
		processDuration,
		workersBusy,
		queueLength,
		processedTotal,
	)
}

// SchedulerObserver feeds the scheduler's lifecycle events into the
// collectors. It implements scheduler.Observer.
type SchedulerObserver struct{}

// TickCompleted records a completed poll and the entries it claimed.
func (SchedulerObserver) TickCompleted(claimed int) {
	schedulerTicks.Inc()
	entriesClaimed.Add(float64(claimed))
}

// EntryFinished records one entry's outcome and duration.
func (SchedulerObserver) EntryFinished(err error, took time.Duration) {
	outcome := "processed"
	if err != nil {
		outcome = "failed"
	}
	entriesFinished.WithLabelValues(outcome).Inc()
	processDuration.Observe(took.Seconds())
}

// WorkerBusy tracks worker occupancy.
func (SchedulerObserver) WorkerBusy(delta int) {
	workersBusy.Add(float64(delta))
}

// Poller refreshes the database-derived gauges on a fixed interval.
type Poller struct {
	DB       *gorm.DB
	Log      zerolog.Logger
	Interval time.Duration
}

// Run polls until ctx is canceled. An initial poll runs immediately so the
// gauges are populated before the first scrape.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if total, err := repo.CountQueue(ctx, p.DB); err == nil {
		queueLength.Set(float64(total))
	} else {
		p.Log.Warn().Err(err).Msg("queue length poll failed")
	}
	for _, state := range []domain.QueueState{domain.StateProcessed, domain.StateFailed} {
		if total, err := repo.CountProcessedByState(ctx, p.DB, state); err == nil {
			processedTotal.WithLabelValues(string(state)).Set(float64(total))
		} else {
			p.Log.Warn().Err(err).Str("state", string(state)).Msg("processed total poll failed")
		}
	}
}
