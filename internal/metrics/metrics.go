package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SweepCount       prometheus.Counter
	PushCount        prometheus.Counter
	MatchCount       prometheus.Counter
	ForwardSuccesses prometheus.Counter
	ForwardFailures  prometheus.Counter
	DuplicateSkips   prometheus.Counter
	PendingDrained   prometheus.Counter
	SweepDuration    prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SweepCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_sweep_count",
			Help: "Total number of scheduled sweep runs",
		}),
		PushCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_push_count",
			Help: "Total number of push notifications handled",
		}),
		MatchCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_match_count",
			Help: "Total number of emails that matched forwarding rules",
		}),
		ForwardSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_forward_successes",
			Help: "Total number of successful email forwards",
		}),
		ForwardFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_forward_failures",
			Help: "Total number of failed email forwards",
		}),
		DuplicateSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_duplicate_skips",
			Help: "Total number of forwards skipped because the (message, rule) pair was already processed",
		}),
		PendingDrained: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bill_relay_pending_drained",
			Help: "Total number of queued chat messages forwarded to email",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bill_relay_sweep_duration_seconds",
			Help:    "Time spent running the full sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
