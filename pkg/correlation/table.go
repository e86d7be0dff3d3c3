// Package correlation implements the JSON-RPC–style request/response
// matching described in §4.4: a table mapping a monotonic request id to
// the waiter expecting its reply, with per-request timeout timers and a
// drain-all operation for fatal shutdown.
//
// Grounded on the teacher's pkg/effect.BaseRuntime.ReceiveMessage
// (context-cancellable wait on a reply channel) and the correlation_id
// concept named by pkg/proto's KeyCorrelationID/KeyRequestID constants.
package correlation

import (
	"sync"
	"time"

	"wsresilient/pkg/wserrors"
)

// ID is a monotonic, positive, connection-lifetime-unique request id.
type ID uint64

// Reply is delivered to a waiter exactly once: either Payload or Err is set.
type Reply struct {
	Payload any
	Err     error
}

// PendingRequest is the record held for one in-flight correlated request.
type PendingRequest struct {
	ID              ID
	ReplyTo         chan<- Reply
	Deadline        time.Time
	OriginalPayload any
}

type pendingEntry struct {
	req   PendingRequest
	timer *time.Timer
}

// Table is the CorrelationTable: id -> waiter, with armed timeout timers.
// Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	pending map[ID]*pendingEntry
	seq     ID
}

// NewTable returns an empty correlation table.
func NewTable() *Table {
	return &Table{pending: make(map[ID]*pendingEntry)}
}

// NextID returns the next monotonic positive id for this table's lifetime.
func (t *Table) NextID() ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

// Insert records a pending request and arms its timeout timer. If
// deadline is in the past or zero, the request expires immediately on
// the next scheduler tick (via a timer firing at or before now).
func (t *Table) Insert(req PendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delay := time.Until(req.Deadline)
	if delay < 0 {
		delay = 0
	}
	entry := &pendingEntry{req: req}
	entry.timer = time.AfterFunc(delay, func() { t.expire(req.ID) })
	t.pending[req.ID] = entry
}

// Take removes and returns the pending request for id, cancelling its
// timer. The second return value is false if id is unknown (never
// inserted, already taken, expired, or drained) — a duplicate response
// for a completed id is silently dropped by the caller in that case.
func (t *Table) Take(id ID) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[id]
	if !ok {
		return PendingRequest{}, false
	}
	delete(t.pending, id)
	entry.timer.Stop()
	return entry.req, true
}

// expire is the timeout path: remove the entry (if still pending) and
// notify its waiter with a request_timeout error.
func (t *Table) expire(id ID) {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	deliver(entry.req.ReplyTo, Reply{Err: wserrors.NewTimeoutError(wserrors.ReasonRequestTimeout, nil)})
}

// DrainAll atomically removes every pending entry, cancels their timers,
// and notifies each waiter with reason. Used on close and fatal error.
func (t *Table) DrainAll(reason error) {
	t.mu.Lock()
	entries := make([]*pendingEntry, 0, len(t.pending))
	for id, entry := range t.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, entry := range entries {
		deliver(entry.req.ReplyTo, Reply{Err: reason})
	}
}

// Len reports the number of requests currently pending.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// deliver sends a reply without blocking forever if the waiter's
// channel has no room and no receiver left — callers are expected to
// size reply channels at 1 and receive at most once.
func deliver(ch chan<- Reply, reply Reply) {
	select {
	case ch <- reply:
	default:
	}
}
