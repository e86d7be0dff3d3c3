package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink is the one concrete Sink implementation, backed by
// prometheus/client_golang counters and histograms.
//
// Grounded on the teacher's
// pkg/agent/middleware/metrics.PrometheusRecorder (requestsTotal,
// throttleTotal, queueWaitTime via promauto.NewCounterVec/
// NewHistogramVec), generalized from "LLM requests" to "connection
// lifecycle and rate-limit events".
type PrometheusSink struct {
	connectionEvents *prometheus.CounterVec
	requestEvents    *prometheus.CounterVec
	rateLimitEvents  *prometheus.CounterVec
	queueWait        *prometheus.HistogramVec
}

// NewPrometheusSink registers its collectors against the default
// registry and returns a ready-to-use Sink.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{
		connectionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsresilient_connection_events_total",
			Help: "Count of connection lifecycle events by kind and component.",
		}, []string{"kind", "component"}),
		requestEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsresilient_request_events_total",
			Help: "Count of correlated request outcomes by kind and component.",
		}, []string{"kind", "component"}),
		rateLimitEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsresilient_rate_limit_events_total",
			Help: "Count of rate-limit rejections and handler failures by kind and component.",
		}, []string{"kind", "component"}),
		queueWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wsresilient_queue_wait_seconds",
			Help:    "Time a rate-limited request spent in the overflow queue before processing.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
	}
}

func (s *PrometheusSink) Observe(e Event) {
	switch e.Kind {
	case EventConnectionUp, EventConnectionDown, EventReconnectAttempt:
		s.connectionEvents.WithLabelValues(string(e.Kind), e.Component).Inc()
	case EventRequestSent, EventRequestReplied, EventRequestTimedOut:
		s.requestEvents.WithLabelValues(string(e.Kind), e.Component).Inc()
	case EventRateLimited, EventHandlerFailure:
		s.rateLimitEvents.WithLabelValues(string(e.Kind), e.Component).Inc()
	case EventQueueWait:
		s.queueWait.WithLabelValues(e.Component).Observe(e.Value)
	}
}

// ObserveQueueWaitSince is a convenience for timing a queued request's
// wait from arrival to processing.
func (s *PrometheusSink) ObserveQueueWaitSince(component string, arrival time.Time) {
	s.Observe(Event{Kind: EventQueueWait, Component: component, Value: time.Since(arrival).Seconds()})
}
