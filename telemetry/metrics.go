package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Interactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportpilot",
		Name:      "interactions_total",
		Help:      "Interactions by executed strategy and outcome kind.",
	}, []string{"strategy", "outcome"})

	InteractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reportpilot",
		Name:      "interaction_duration_seconds",
		Help:      "Wall time of RunInteraction by executed strategy.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"strategy"})

	StrategyFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportpilot",
		Name:      "strategy_fallbacks_total",
		Help:      "Strategy downgrades, by routed and executed strategy.",
	}, []string{"from", "to"})

	DegradedReplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reportpilot",
		Name:      "degraded_replies_total",
		Help:      "Interactions answered conversationally because inference failed.",
	})

	SessionsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reportpilot",
		Name:      "sessions_reclaimed_total",
		Help:      "Sessions whose working set was reclaimed by EndSession or idle expiry.",
	})

	SessionLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reportpilot",
		Name:      "session_lock_wait_seconds",
		Help:      "Time spent waiting for the per-session lock.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
