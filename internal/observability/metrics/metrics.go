package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_events_dispatched_total",
			Help: "Total number of protocol events dispatched.",
		},
		[]string{"service", "event", "result"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "draft_active_connections",
			Help: "Number of live websocket connections.",
		},
	)

	RateLimitDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_rate_limit_drops_total",
			Help: "Connections dropped for exceeding the event-rate ceiling.",
		},
		[]string{"service"},
	)

	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_login_attempts_total",
			Help: "Total number of admin login attempts.",
		},
		[]string{"service", "result"},
	)

	SnapshotSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_snapshot_saves_total",
			Help: "Total number of snapshot save attempts.",
		},
		[]string{"result"},
	)

	SnapshotLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_snapshot_loads_total",
			Help: "Total number of snapshot load attempts.",
		},
		[]string{"result"},
	)

	ShardReconstructionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "draft_shard_reconstructions_total",
			Help: "Shards mathematically reconstructed during snapshot loads.",
		},
	)
)

func MustRegister(serviceName string) {
	EventsDispatchedTotal = EventsDispatchedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	RateLimitDropsTotal = RateLimitDropsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	LoginAttemptsTotal = LoginAttemptsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		EventsDispatchedTotal,
		ActiveConnections,
		RateLimitDropsTotal,
		LoginAttemptsTotal,
		SnapshotSavesTotal,
		SnapshotLoadsTotal,
		ShardReconstructionsTotal,
	)
}
