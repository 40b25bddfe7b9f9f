package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "farmdispatch"

var (
	PingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "pings_created_total", Help: "Offers created by dispatch",
	})
	DispatchesWithoutCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_no_candidates_total", Help: "Dispatches that found no eligible rider",
	})
	PingResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ping_responses_total", Help: "Offer responses by outcome"},
		[]string{"outcome"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "accept_latency_seconds", Help: "Latency of a winning accept including side effects",
	})
	RouteRecalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_recalculations_total", Help: "Route recalculations by result"},
		[]string{"result"},
	)
	DetourThresholdBreaches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "detour_threshold_breaches_total", Help: "Recalculated routes that grew past the detour ratio",
	})
	CapacityClamped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "capacity_clamped_total", Help: "Capacity deductions floored at zero",
	})
	PingsExpiredBySweeper = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sweeper_pings_expired_total", Help: "Offers expired by the background sweeper",
	})
	NotificationTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_tasks_total", Help: "Rider-matched tasks by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
