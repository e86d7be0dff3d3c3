// Package ratelimit implements the token-bucket rate limiter with a
// bounded overflow queue and deferred-execution callbacks described in
// §4.3 of the core spec: check/on_process/tick/force_process_queue.
//
// Grounded on the teacher's pkg/limiter.Limiter (Reserve/ReleaseAgent,
// scheduleDailyReset via time.AfterFunc) and
// pkg/agent/middleware/resilience/ratelimit.TokenBucketLimiter
// (Acquire/release/cleanStaleAcquisitions/refill ticker loop) — this
// package keeps their bucket math but replaces blocking Acquire with the
// spec's non-blocking check+queue+callback model.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"wsresilient/pkg/wserrors"
)

// Decision is the outcome of Check.
type Decision int8

const (
	Allow Decision = iota
	Queue
	Reject
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Queue:
		return "queue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Result is returned by Check.
type Result struct {
	Decision Decision
	ID       string
	Err      *wserrors.Error // populated only when Decision == Reject
}

type queueEntry struct {
	id          string
	fingerprint string
	cost        int
	callback    func()
	arrival     time.Time
}

// Limiter owns one TokenBucket and one bounded FIFO overflow queue. It is
// safe for concurrent use; Tick/ForceProcessQueue/Check/OnProcess may be
// called from different goroutines, though the core only ever calls them
// from the owning Connection Actor's single task.
type Limiter struct {
	mu         sync.Mutex
	bucket     *TokenBucket
	costFn     CostFunc
	queueLimit int
	order      []string
	entries    map[string]*queueEntry
}

// New builds a Limiter. queueLimit == 0 means every queue-eligible
// request is rejected with queue_full, per the spec's boundary behavior.
func New(bucket *TokenBucket, costFn CostFunc, queueLimit int) *Limiter {
	if costFn == nil {
		costFn = FixedCost(1)
	}
	return &Limiter{
		bucket:     bucket,
		costFn:     costFn,
		queueLimit: queueLimit,
		entries:    make(map[string]*queueEntry),
	}
}

// Check prices req, consults the token bucket, and either allows
// immediately, enqueues for later processing, or rejects. It always
// returns a fresh opaque ID for Allow and Queue; Reject carries only a
// reason.
func (l *Limiter) Check(req Request) Result {
	return l.checkAt(req, time.Now())
}

func (l *Limiter) checkAt(req Request, now time.Time) Result {
	cost := l.costFn(req)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucket.TryConsumeAt(cost, now) {
		return Result{Decision: Allow, ID: newID()}
	}

	if len(l.order) >= l.queueLimit {
		return Result{Decision: Reject, Err: wserrors.NewRateLimitError(wserrors.ReasonQueueFull, nil)}
	}

	id := newID()
	l.entries[id] = &queueEntry{id: id, fingerprint: req.Fingerprint, cost: cost, arrival: now}
	l.order = append(l.order, id)
	return Result{Decision: Queue, ID: id}
}

// OnProcess registers callback to run when the queued request
// identified by id is later processed by Tick or ForceProcessQueue.
// Returns false if id is unknown: never queued, already processed, or
// evicted.
func (l *Limiter) OnProcess(id string, callback func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok {
		return false
	}
	entry.callback = callback
	return true
}

// Tick drains the queue as long as tokens permit, invoking callbacks in
// strict FIFO insertion order. It stops at the first entry the bucket
// cannot afford, since queued requests are processed strictly in order.
func (l *Limiter) Tick() int {
	return l.drain(time.Now())
}

// ForceProcessQueue drains as much of the queue as the current token
// supply allows, without waiting for a scheduler tick. Used by tests and
// for backpressure relief.
func (l *Limiter) ForceProcessQueue() int {
	return l.drain(time.Now())
}

func (l *Limiter) drain(now time.Time) int {
	var callbacks []func()

	l.bucket.Refill(now)

	l.mu.Lock()
	processed := 0
	for len(l.order) > 0 {
		id := l.order[0]
		entry := l.entries[id]
		if !l.bucket.TryConsumeAt(entry.cost, now) {
			break
		}
		l.order = l.order[1:]
		delete(l.entries, id)
		processed++
		if entry.callback != nil {
			callbacks = append(callbacks, entry.callback)
		}
	}
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return processed
}

// QueueLength reports the current overflow queue depth.
func (l *Limiter) QueueLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Bucket exposes the underlying TokenBucket for status reporting.
func (l *Limiter) Bucket() *TokenBucket { return l.bucket }

func newID() string {
	return uuid.NewString()
}
