package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	reactionUpdatesTotal   *prometheus.CounterVec
	reactionConflictsTotal *prometheus.CounterVec

	broadcastSubscribers  prometheus.Gauge
	broadcastEventsTotal  *prometheus.CounterVec
	broadcastDroppedTotal prometheus.Counter

	messagesPostedTotal prometheus.Counter
	feedLatencySeconds  prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		reactionUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reaction_updates_total",
			Help: "Reaction toggles by kind, intent and outcome.",
		}, []string{"kind", "intent", "outcome"})

		reactionConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reaction_conflicts_total",
			Help: "Conditional reaction writes that lost a version race.",
		}, []string{"kind"})

		broadcastSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Live feed subscribers on this instance.",
		})

		broadcastEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcast_events_total",
			Help: "Feed events fanned out, by origin.",
		}, []string{"source"})

		broadcastDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Subscribers evicted because their buffer was full.",
		})

		messagesPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "community_messages_posted_total",
			Help: "Messages accepted into the community feed.",
		})

		feedLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_assembly_seconds",
			Help:    "Time spent assembling a feed page.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			reactionUpdatesTotal, reactionConflictsTotal,
			broadcastSubscribers, broadcastEventsTotal, broadcastDroppedTotal,
			messagesPostedTotal, feedLatencySeconds,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

func ReactionUpdates() *prometheus.CounterVec {
	RegisterMetrics()
	return reactionUpdatesTotal
}

func ReactionConflicts() *prometheus.CounterVec {
	RegisterMetrics()
	return reactionConflictsTotal
}

func BroadcastSubscribers() prometheus.Gauge {
	RegisterMetrics()
	return broadcastSubscribers
}

func BroadcastEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return broadcastEventsTotal
}

func BroadcastDropped() prometheus.Counter {
	RegisterMetrics()
	return broadcastDroppedTotal
}

func MessagesPosted() prometheus.Counter {
	RegisterMetrics()
	return messagesPostedTotal
}

// FeedLatency tracks end-to-end feed assembly, including identity resolution.
func FeedLatency() prometheus.Histogram {
	RegisterMetrics()
	return feedLatencySeconds
}
