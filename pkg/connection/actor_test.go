package connection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wsresilient/pkg/backoff"
	"wsresilient/pkg/correlation"
	"wsresilient/pkg/handlers"
	"wsresilient/pkg/ratelimit"
	"wsresilient/pkg/statemachine"
	"wsresilient/pkg/transport"
	"wsresilient/pkg/transport/faketransport"
	"wsresilient/pkg/wsconfig"
	"wsresilient/pkg/wserrors"
)

func testConfig(t *testing.T) wsconfig.ConnectionConfig {
	t.Helper()
	cfg, err := wsconfig.New(
		wsconfig.WithEndpoint("exchange.example.com", 443, "/ws", true),
		wsconfig.WithTimeouts(time.Second, time.Second, time.Second),
		wsconfig.WithReconnectPolicy(wsconfig.ReconnectPolicy{
			BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond,
			Kind: backoff.Linear, ReconnectOnError: true,
		}),
		wsconfig.WithRateLimit(wsconfig.RateLimitConfig{
			Capacity: 10, RefillRate: 10, RefillInterval: 50 * time.Millisecond, QueueLimit: 10,
		}),
	)
	if err != nil {
		t.Fatalf("testConfig: %v", err)
	}
	return cfg
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestHappyPathConnectSendAndReply(t *testing.T) {
	fake := faketransport.New()
	reg := handlers.NewRegistry()
	actor := NewActor("conn-1", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)

	pollUntil(t, time.Second, func() bool { return actor.GetStatus() == statemachine.WebsocketConnected })

	id := actor.NextCorrelationID()
	replyCh := make(chan correlation.Reply, 1)
	result := actor.SendFrame(transport.Frame{Type: transport.FrameText, Data: []byte(fmt.Sprintf(`{"id":%d}`, id))}, replyCh, SendOptions{
		Timeout: time.Second, Correlated: true, CorrelationID: id,
	})
	if result.Outcome != SendOk {
		t.Fatalf("SendFrame outcome = %v, want Ok", result.Outcome)
	}

	h := fake.LastHandle()
	fake.Emit(h, transport.Event{Kind: transport.EventFrame, Stream: fake.Stream, Frame: transport.Frame{
		Type: transport.FrameText, Data: []byte(fmt.Sprintf(`{"id":%d,"result":"ok"}`, id)),
	}})

	select {
	case reply := <-replyCh:
		if reply.Err != nil {
			t.Fatalf("unexpected reply error: %v", reply.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for correlated reply")
	}

	actor.Close()
	<-actor.Done()
	if !faketransport.IsClosed(h) {
		t.Error("expected transport handle to be closed after Close")
	}
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	fake := faketransport.New()
	reg := handlers.NewRegistry()
	actor := NewActor("conn-timeout", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)
	pollUntil(t, time.Second, func() bool { return actor.GetStatus() == statemachine.WebsocketConnected })

	id := actor.NextCorrelationID()
	replyCh := make(chan correlation.Reply, 1)
	result := actor.SendFrame(transport.Frame{Type: transport.FrameText, Data: []byte("{}")}, replyCh, SendOptions{
		Timeout: 20 * time.Millisecond, Correlated: true, CorrelationID: id,
	})
	if result.Outcome != SendOk {
		t.Fatalf("SendFrame outcome = %v, want Ok", result.Outcome)
	}

	select {
	case reply := <-replyCh:
		if reply.Err == nil {
			t.Fatal("expected timeout error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request_timeout delivery")
	}

	actor.Close()
	<-actor.Done()
}

func TestBufferedRequestFlushesAfterReconnect(t *testing.T) {
	fake := faketransport.New()
	fake.AwaitUpErr = fmt.Errorf("boom")
	reg := handlers.NewRegistry()
	actor := NewActor("conn-buffer", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)

	pollUntil(t, time.Second, func() bool {
		s := actor.GetStatus()
		return s == statemachine.Reconnecting || s == statemachine.Error
	})

	replyCh := make(chan correlation.Reply, 1)
	result := actor.SendFrame(transport.Frame{Type: transport.FrameText, Data: []byte("buffered")}, replyCh, SendOptions{})
	if result.Outcome != SendBuffered && result.Outcome != SendError {
		t.Fatalf("SendFrame outcome = %v, want Buffered (or a transient Error if already back in Error)", result.Outcome)
	}

	fake.AwaitUpErr = nil
	pollUntil(t, time.Second, func() bool { return actor.GetStatus() == statemachine.WebsocketConnected })

	h := fake.LastHandle()
	pollUntil(t, time.Second, func() bool { return len(faketransport.SentFrames(h)) > 0 })

	sent := faketransport.SentFrames(h)
	if string(sent[0].Data) != "buffered" {
		t.Errorf("flushed frame data = %q, want %q", sent[0].Data, "buffered")
	}

	actor.Close()
	<-actor.Done()
}

func TestSendFrameWhenNotConnectedAndNeverStartedIsError(t *testing.T) {
	fake := faketransport.New()
	fake.AwaitUpErr = fmt.Errorf("never comes up")
	reg := handlers.NewRegistry()
	cfg := testConfig(t)
	cfg.ReconnectPolicy.ReconnectOnError = false
	actor := NewActor("conn-fatal", cfg, fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)

	select {
	case <-actor.Done():
	case <-time.After(time.Second):
		t.Fatal("expected actor to terminate when reconnect is disabled and the first attempt fails")
	}

	replyCh := make(chan correlation.Reply, 1)
	result := actor.SendFrame(transport.Frame{Type: transport.FrameText, Data: []byte("x")}, replyCh, SendOptions{})
	if result.Outcome != SendError {
		t.Errorf("SendFrame after actor exit outcome = %v, want Error", result.Outcome)
	}
}

type stopAuth struct{ reason string }

func (stopAuth) NeedsReauthentication(any) bool { return true }
func (s stopAuth) Authenticate(stream, credentials, state any) handlers.Directive {
	return handlers.Stop(s.reason, nil)
}
func (stopAuth) GenerateAuthData(any) (any, handlers.Directive) { return nil, handlers.Ok(nil) }
func (stopAuth) HandleAuthResponse(any, any) handlers.Directive { return handlers.Ok(nil) }

// recordingDisconnectHandler implements only handlers.DisconnectHandler,
// so the registry picks it up for connection.handle_disconnect without
// needing the rest of the Connection interface.
type recordingDisconnectHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *recordingDisconnectHandler) HandleDisconnect(reason string, state any) handlers.Directive {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
	return handlers.Ok(nil)
}

func (h *recordingDisconnectHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reasons)
}

func TestFatalAuthFailureTerminatesActor(t *testing.T) {
	fake := faketransport.New()
	reg := handlers.NewRegistry()
	reg.Register(handlers.KindAuth, stopAuth{reason: "bad_signature"}, nil)
	conn := &recordingDisconnectHandler{}
	reg.Register(handlers.KindConnection, conn, nil)
	actor := NewActor("conn-auth-fatal", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)

	select {
	case <-actor.Done():
	case <-time.After(time.Second):
		t.Fatal("expected actor to terminate after a fatal auth failure")
	}

	if got := actor.GetStatus(); got != statemachine.Error {
		t.Errorf("status after fatal auth failure = %v, want Error", got)
	}
	if got := conn.callCount(); got != 1 {
		t.Errorf("connection handler's HandleDisconnect call count = %d, want 1 (fatal termination must notify it)", got)
	}
}

func TestRegisterAndUnregisterCallbackReceivesFrames(t *testing.T) {
	fake := faketransport.New()
	reg := handlers.NewRegistry()
	actor := NewActor("conn-cb", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)
	pollUntil(t, time.Second, func() bool { return actor.GetStatus() == statemachine.WebsocketConnected })

	events := make(chan CallbackEvent, 4)
	actor.RegisterCallback("watcher", events)

	h := fake.LastHandle()
	fake.Emit(h, transport.Event{Kind: transport.EventFrame, Frame: transport.Frame{Type: transport.FrameText, Data: []byte("tick")}})

	select {
	case ev := <-events:
		if ev.Kind != "frame" {
			t.Errorf("callback event kind = %q, want %q", ev.Kind, "frame")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame callback")
	}

	actor.UnregisterCallback("watcher")
	actor.Close()
	<-actor.Done()
}

// alwaysRejectRateLimit always rejects, regardless of the bucket's own
// state, proving rateLimitedWrite defers to a registered rate_limit
// handler instead of deciding from the bucket directly.
type alwaysRejectRateLimit struct{ checks int }

func (h *alwaysRejectRateLimit) Init(opts any) any { return opts }
func (h *alwaysRejectRateLimit) CheckRateLimit(req, state any) handlers.Directive {
	h.checks++
	return handlers.Reply("reject", ratelimit.Result{
		Decision: ratelimit.Reject,
		Err:      wserrors.NewRateLimitError(wserrors.ReasonQueueFull, nil),
	}, nil)
}
func (h *alwaysRejectRateLimit) HandleTick(state any) handlers.Directive { return handlers.Ok(nil) }

func TestRateLimitHandlerOverridesBucketDecision(t *testing.T) {
	fake := faketransport.New()
	reg := handlers.NewRegistry()
	rl := &alwaysRejectRateLimit{}
	reg.Register(handlers.KindRateLimit, rl, nil)
	actor := NewActor("conn-ratelimit", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)
	pollUntil(t, time.Second, func() bool { return actor.GetStatus() == statemachine.WebsocketConnected })

	replyCh := make(chan correlation.Reply, 1)
	result := actor.SendFrame(transport.Frame{Type: transport.FrameText, Data: []byte("x")}, replyCh, SendOptions{Timeout: time.Second})
	if result.Outcome != SendError || result.Err == nil {
		t.Fatalf("SendFrame outcome = %v err=%v, want SendError with a rate-limit reason (bucket has ample capacity, only the handler rejects)", result.Outcome, result.Err)
	}
	if rl.checks == 0 {
		t.Error("expected the registered rate_limit handler's CheckRateLimit to be consulted")
	}

	actor.Close()
	<-actor.Done()
}

// tickRecordingRateLimit answers every CheckRateLimit with the fixed
// directive in checks (it holds no bucket in its state - this test just
// needs to prove HandleTick is reached) and counts how many times
// HandleTick runs.
type tickRecordingRateLimit struct {
	checks handlers.Directive

	mu    sync.Mutex
	ticks int
}

func (h *tickRecordingRateLimit) Init(opts any) any { return opts }
func (h *tickRecordingRateLimit) CheckRateLimit(req, state any) handlers.Directive {
	return h.checks
}
func (h *tickRecordingRateLimit) HandleTick(state any) handlers.Directive {
	h.mu.Lock()
	h.ticks++
	h.mu.Unlock()
	return handlers.Ok(nil)
}

func (h *tickRecordingRateLimit) tickCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

func TestTickDelegatesToRateLimitHandler(t *testing.T) {
	fake := faketransport.New()
	reg := handlers.NewRegistry()
	rl := &tickRecordingRateLimit{checks: handlers.Reply("allow", ratelimit.Result{Decision: ratelimit.Allow}, nil)}
	reg.Register(handlers.KindRateLimit, rl, nil)
	actor := NewActor("conn-ratelimit-tick", testConfig(t), fake, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actor.Start(ctx)
	pollUntil(t, time.Second, func() bool { return actor.GetStatus() == statemachine.WebsocketConnected })

	pollUntil(t, time.Second, func() bool { return rl.tickCount() > 0 })

	actor.Close()
	<-actor.Done()
}
