package game

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cell-arena/internal/game/arena"
)

// Simulation metrics. Labels are bounded: category and phase names only.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_phase_duration_seconds",
		Help:    "Time spent in each tick phase",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"phase"})

	entityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_entities",
		Help: "Live entities per category",
	}, []string{"category"})

	allocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_allocation_failures_total",
		Help: "Spawns skipped because the arena category was full",
	}, []string{"category"})

	workerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_worker_timeouts_total",
		Help: "Workers retired after missing a task deadline",
	})

	lockSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_lock_skips_total",
		Help: "Coordinator operations skipped because a slot lock stayed held",
	})

	collisionPairs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_collision_pairs",
		Help:    "Overlapping pairs found per tick",
		Buckets: prometheus.ExponentialBuckets(16, 4, 6),
	})

	deathsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_deaths_total",
		Help: "Users whose last cell was eaten",
	})

	journalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_journal_dropped_total",
		Help: "Journal entries dropped by rate or a full buffer",
	})
)

func observePhase(p Phase, start time.Time) {
	phaseDuration.WithLabelValues(p.String()).Observe(time.Since(start).Seconds())
}

func recordAllocationFailure(c arena.Category) {
	allocationFailures.WithLabelValues(c.String()).Inc()
}

func (w *World) recordCounts() {
	for c := arena.Category(0); c < arena.NumCategories; c++ {
		entityCount.WithLabelValues(c.String()).Set(float64(w.arena.Live(c)))
	}
}
