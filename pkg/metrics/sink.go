// Package metrics defines the external metrics/logging sink collaborator
// named in §1: out of scope as a core component, but given a defined
// contract here so the logging handler kind can forward telemetry to it.
// The Connection Actor also reports its own connection, reconnect,
// rate-limit, and reply events to the Sink it is given (NoopSink by
// default).
package metrics

// EventKind names the telemetry event being observed.
type EventKind string

const (
	EventConnectionUp     EventKind = "connection_up"
	EventConnectionDown   EventKind = "connection_down"
	EventReconnectAttempt EventKind = "reconnect_attempt"
	EventRequestSent      EventKind = "request_sent"
	EventRequestReplied   EventKind = "request_replied"
	EventRequestTimedOut  EventKind = "request_timed_out"
	EventRateLimited      EventKind = "rate_limited"
	EventQueueWait        EventKind = "queue_wait"
	EventHandlerFailure   EventKind = "handler_failure"
)

// Event is one observation forwarded to a Sink.
type Event struct {
	Kind      EventKind
	Component string
	Value     float64 // e.g. queue wait seconds, attempt count
	Labels    map[string]string
}

// Sink receives Events. Implementations must not block the caller for
// long; PrometheusSink's Observe is a fixed-cost counter/histogram
// update.
type Sink interface {
	Observe(e Event)
}

// NoopSink discards every Event; it is the default when no sink is
// configured.
type NoopSink struct{}

func (NoopSink) Observe(Event) {}
