package connection

import (
	"time"

	"wsresilient/pkg/correlation"
	"wsresilient/pkg/transport"
)

// bufferedRequest is one entry in the RequestBuffer: a frame that could
// not be written to the wire because the actor was not
// WebsocketConnected at the time send_frame was called.
type bufferedRequest struct {
	frame       transport.Frame
	replyTo     chan<- correlation.Reply
	correlated  bool
	correlation correlation.ID
	enqueued    time.Time
}

// RequestBuffer is the spec's RequestBuffer (§3): an ordered, bounded
// FIFO of frames awaiting a WebsocketConnected transition, flushed in
// insertion order by the restoration pipeline.
//
// Grounded on the teacher's pkg/dispatch mailbox queue (bounded slice,
// push/drain-all) generalized from dispatched work items to buffered
// wire frames.
type RequestBuffer struct {
	limit int
	items []bufferedRequest
}

// NewRequestBuffer returns an empty buffer bounded at limit entries.
// limit <= 0 means unbounded.
func NewRequestBuffer(limit int) *RequestBuffer {
	return &RequestBuffer{limit: limit}
}

// Push appends req, returning false if the buffer is at capacity.
func (b *RequestBuffer) Push(req bufferedRequest) bool {
	if b.limit > 0 && len(b.items) >= b.limit {
		return false
	}
	b.items = append(b.items, req)
	return true
}

// DrainFIFO removes and returns every buffered entry in insertion order.
func (b *RequestBuffer) DrainFIFO() []bufferedRequest {
	items := b.items
	b.items = nil
	return items
}

// Len reports the number of buffered entries.
func (b *RequestBuffer) Len() int { return len(b.items) }
