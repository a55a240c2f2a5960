package authority

import "github.com/prometheus/client_golang/prometheus"

var (
	opsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcache_authority_ops_accepted_total",
			Help: "Total number of ops accepted by an instance actor, by kind.",
		},
		[]string{"kind"},
	)

	opsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcache_authority_ops_rejected_total",
			Help: "Total number of ops rejected by an instance actor, by kind and reason.",
		},
		[]string{"kind", "reason"},
	)

	broadcastFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mindcache_authority_broadcast_fanout",
			Help:    "Number of sessions a single accepted op was broadcast to.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		},
	)

	activeActors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mindcache_authority_active_actors",
			Help: "Number of instance actor goroutines currently running.",
		},
	)

	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mindcache_authority_active_sessions",
			Help: "Number of attached sessions per instance.",
		},
		[]string{"instance_id"},
	)
)

func init() {
	prometheus.MustRegister(opsAccepted, opsRejected, broadcastFanout, activeActors, activeSessions)
}
