package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestLinearDelay(t *testing.T) {
	p := New(Linear, 100*time.Millisecond, time.Second)
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 200 * time.Millisecond,
		2: 300 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := p.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestLinearDelayCapsAtMax(t *testing.T) {
	p := New(Linear, 100*time.Millisecond, 250*time.Millisecond)
	if got := p.Delay(5); got != 250*time.Millisecond {
		t.Errorf("Delay(5) = %v, want capped 250ms", got)
	}
}

func TestExponentialDelay(t *testing.T) {
	p := New(Exponential, 100*time.Millisecond, time.Minute)
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 200 * time.Millisecond,
		2: 400 * time.Millisecond,
		3: 800 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := p.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestExponentialDelayCapsAtMax(t *testing.T) {
	p := New(Exponential, 100*time.Millisecond, 500*time.Millisecond)
	if got := p.Delay(10); got != 500*time.Millisecond {
		t.Errorf("Delay(10) = %v, want capped 500ms", got)
	}
}

func TestJitteredDelayIsWithinRange(t *testing.T) {
	p := New(Jittered, 100*time.Millisecond, time.Second, WithRand(rand.New(rand.NewSource(42))))
	for attempt := 0; attempt < 5; attempt++ {
		ceiling := capDuration(expDelay(100*time.Millisecond, attempt), time.Second)
		got := p.Delay(attempt)
		if got < 0 || got > ceiling {
			t.Errorf("Delay(%d) = %v, want within [0, %v]", attempt, got, ceiling)
		}
	}
}

func TestJitteredDelayDeterministicWithSeededRand(t *testing.T) {
	p1 := New(Jittered, 100*time.Millisecond, time.Second, WithRand(rand.New(rand.NewSource(7))))
	p2 := New(Jittered, 100*time.Millisecond, time.Second, WithRand(rand.New(rand.NewSource(7))))
	for attempt := 0; attempt < 10; attempt++ {
		if p1.Delay(attempt) != p2.Delay(attempt) {
			t.Fatalf("seeded policies diverged at attempt %d", attempt)
		}
	}
}
