package metrics

import "testing"

func TestNoopSinkDiscardsEvents(t *testing.T) {
	var s Sink = NoopSink{}
	s.Observe(Event{Kind: EventConnectionUp})
}

func TestPrometheusSinkObserveDoesNotPanicPerEventKind(t *testing.T) {
	sink := NewPrometheusSink()
	kinds := []EventKind{
		EventConnectionUp, EventConnectionDown, EventReconnectAttempt,
		EventRequestSent, EventRequestReplied, EventRequestTimedOut,
		EventRateLimited, EventHandlerFailure,
	}
	for _, k := range kinds {
		sink.Observe(Event{Kind: k, Component: "test"})
	}
	sink.Observe(Event{Kind: EventQueueWait, Component: "test", Value: 0.25})
}
