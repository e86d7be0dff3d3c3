package ratelimit

import (
	"errors"
	"testing"
	"time"

	"wsresilient/pkg/wserrors"
)

func TestTokenBucketNeverExceedsCapacityOrGoesNegative(t *testing.T) {
	b := NewTokenBucket(5, 5, time.Minute)
	if got := b.Tokens(); got != 5 {
		t.Fatalf("initial tokens = %d, want 5", got)
	}
	if b.TryConsume(3); b.Tokens() != 2 {
		t.Fatalf("tokens after consuming 3 = %d, want 2", b.Tokens())
	}
	if ok := b.TryConsume(10); ok {
		t.Fatal("TryConsume(10) succeeded against insufficient tokens")
	}
	if got := b.Tokens(); got != 2 {
		t.Fatalf("tokens after denied consume = %d, want unchanged 2", got)
	}

	future := time.Now().Add(10 * time.Minute)
	b.Refill(future)
	if got := b.Tokens(); got != 5 {
		t.Fatalf("tokens after long refill = %d, want capped at capacity 5", got)
	}
}

func TestLimiterAllowsUntilBucketExhausted(t *testing.T) {
	bucket := NewTokenBucket(1, 1, 100*time.Millisecond)
	l := New(bucket, FixedCost(1), 3)

	now := time.Now()
	first := l.checkAt(Request{Fingerprint: "a"}, now)
	if first.Decision != Allow {
		t.Fatalf("first request decision = %v, want Allow", first.Decision)
	}

	second := l.checkAt(Request{Fingerprint: "b"}, now)
	if second.Decision != Queue {
		t.Fatalf("second request decision = %v, want Queue", second.Decision)
	}
}

func TestQueueFullRejectsWithoutInvokingHandler(t *testing.T) {
	bucket := NewTokenBucket(0, 1, time.Hour)
	l := New(bucket, FixedCost(1), 0)

	result := l.Check(Request{Fingerprint: "x"})
	if result.Decision != Reject {
		t.Fatalf("decision = %v, want Reject", result.Decision)
	}
	if !errors.Is(result.Err, wserrors.ErrQueueFull) {
		t.Fatalf("err = %v, want queue_full", result.Err)
	}
}

func TestOnProcessUnknownIDReturnsFalse(t *testing.T) {
	l := New(NewTokenBucket(1, 1, time.Second), FixedCost(1), 1)
	if l.OnProcess("does-not-exist", func() {}) {
		t.Fatal("OnProcess returned true for an unregistered id")
	}
}

func TestRateLimitQueueDrainScenario(t *testing.T) {
	// capacity=1, refill_rate=1, refill_interval=100ms, queue_limit=3
	// Submit 4 identical requests within 1ms: 1 Allow, 3 Queue.
	bucket := NewTokenBucket(1, 1, 100*time.Millisecond)
	l := New(bucket, FixedCost(1), 3)

	start := time.Now()
	var queued []string
	decisions := make([]Decision, 4)
	for i := 0; i < 4; i++ {
		res := l.checkAt(Request{Fingerprint: "same"}, start)
		decisions[i] = res.Decision
		if res.Decision == Queue {
			queued = append(queued, res.ID)
		}
	}

	allowCount, queueCount := 0, 0
	for _, d := range decisions {
		switch d {
		case Allow:
			allowCount++
		case Queue:
			queueCount++
		}
	}
	if allowCount != 1 || queueCount != 3 {
		t.Fatalf("allow=%d queue=%d, want allow=1 queue=3", allowCount, queueCount)
	}
	if len(queued) != 3 {
		t.Fatalf("queued ids = %d, want 3", len(queued))
	}

	var fired []string
	for _, id := range queued {
		id := id
		if !l.OnProcess(id, func() { fired = append(fired, id) }) {
			t.Fatalf("OnProcess(%s) returned false", id)
		}
	}

	// One scheduler tick per refill interval over 300ms; each refill
	// saturates at capacity 1, so each tick drains one entry.
	processed := 0
	for i := 1; i <= 3; i++ {
		processed += l.drain(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if processed != 3 {
		t.Fatalf("processed = %d, want 3", processed)
	}
	if len(fired) != 3 {
		t.Fatalf("fired callbacks = %d, want 3", len(fired))
	}
	for i, id := range queued {
		if fired[i] != id {
			t.Fatalf("fired[%d] = %s, want %s (FIFO order)", i, fired[i], id)
		}
	}
	if l.QueueLength() != 0 {
		t.Fatalf("queue length after drain = %d, want 0", l.QueueLength())
	}
}

func TestCapacityZeroRefillPositiveQueuesUntilFirstRefill(t *testing.T) {
	bucket := NewTokenBucket(0, 1, 50*time.Millisecond)
	l := New(bucket, FixedCost(1), 1)

	start := time.Now()
	result := l.checkAt(Request{Fingerprint: "a"}, start)
	if result.Decision != Queue {
		t.Fatalf("decision = %v, want Queue when capacity=0", result.Decision)
	}

	if processed := l.drain(start); processed != 0 {
		t.Fatalf("processed before any refill = %d, want 0", processed)
	}
	if processed := l.drain(start.Add(60 * time.Millisecond)); processed != 1 {
		t.Fatalf("processed after first refill = %d, want 1", processed)
	}
}

func TestWeightedCostFallsBackToOneForUnknownKind(t *testing.T) {
	cost := WeightedCost(map[string]int{"heavy": 5})
	if got := cost(Request{Kind: "heavy"}); got != 5 {
		t.Errorf("cost(heavy) = %d, want 5", got)
	}
	if got := cost(Request{Kind: "unknown"}); got != 1 {
		t.Errorf("cost(unknown) = %d, want 1", got)
	}
}
