package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingConnectionHandler struct {
	connects int
}

func (h *countingConnectionHandler) HandleConnect(info ConnInfo, state any) Directive {
	s := state.(*countingConnectionHandler)
	s.connects++
	return Ok(s)
}

type panickyConnectionHandler struct{}

func (panickyConnectionHandler) HandleConnect(info ConnInfo, state any) Directive {
	panic("boom")
}

func TestInvokeNoHandlerWhenKindUnregistered(t *testing.T) {
	inv := NewInvoker(NewRegistry(), nil)
	d := inv.HandleConnect(ConnInfo{})
	assert.Equal(t, DirectiveNoHandler, d.Kind)
}

func TestInvokeNoOperationWhenMethodNotImplemented(t *testing.T) {
	reg := NewRegistry()
	// A handler registered for KindMessage that only implements
	// MessageValidator, not MessageHandler.
	reg.Register(KindMessage, validatorOnly{}, nil)
	inv := NewInvoker(reg, nil)

	d := inv.HandleMessage("payload")
	assert.Equal(t, DirectiveNoOperation, d.Kind)
}

type validatorOnly struct{}

func (validatorOnly) ValidateMessage(msg any) error { return nil }

func TestInvokeReplacesStateWithHandlerReturn(t *testing.T) {
	reg := NewRegistry()
	initial := &countingConnectionHandler{}
	reg.Register(KindConnection, initial, initial)
	inv := NewInvoker(reg, nil)

	inv.HandleConnect(ConnInfo{Host: "x"})
	inv.HandleConnect(ConnInfo{Host: "x"})

	state, ok := reg.State(KindConnection)
	require.True(t, ok, "expected state to remain registered")
	assert.Equal(t, 2, state.(*countingConnectionHandler).connects)
}

func TestPanicIsRecoveredAsHandlerFailurePreservingState(t *testing.T) {
	reg := NewRegistry()
	fallback := "last-known-good"
	reg.Register(KindConnection, panickyConnectionHandler{}, fallback)
	inv := NewInvoker(reg, nil)

	d := inv.HandleConnect(ConnInfo{})
	require.Equal(t, DirectiveError, d.Kind)
	assert.Equal(t, "handler_failure", d.Reason)

	state, _ := reg.State(KindConnection)
	assert.Equal(t, fallback, state)
}

type fullConnectionHandler struct{ timeouts, statuses int }

func (h *fullConnectionHandler) HandleTimeout(state any) Directive {
	h.timeouts++
	return Ok(h)
}
func (h *fullConnectionHandler) Status(stream, state any) Directive {
	h.statuses++
	return Reply("status", stream, h)
}

type findableSubscriber struct{ rec SubscriptionRecord }

func (s findableSubscriber) FindSubscriptionByChannel(channel string, state any) (SubscriptionRecord, bool) {
	if channel != s.rec.Channel {
		return SubscriptionRecord{}, false
	}
	return s.rec, true
}

type derivingAuth struct{ data any }

func (a derivingAuth) GenerateAuthData(state any) (any, Directive) { return a.data, Ok(nil) }

type describingError struct{ lastErr error }

func (h *describingError) LogError(err error, ctx any, state any) Directive {
	h.lastErr = err
	return Ok(nil)
}

type echoRateLimitInitializer struct{}

func (echoRateLimitInitializer) Init(opts any) any { return opts }

func TestHandleTimeoutDispatchesToConnectionHandler(t *testing.T) {
	reg := NewRegistry()
	h := &fullConnectionHandler{}
	reg.Register(KindConnection, h, nil)
	inv := NewInvoker(reg, nil)

	d := inv.HandleTimeout()
	assert.Equal(t, DirectiveOk, d.Kind)
	assert.Equal(t, 1, h.timeouts)
}

func TestStatusDispatchesToConnectionHandler(t *testing.T) {
	reg := NewRegistry()
	h := &fullConnectionHandler{}
	reg.Register(KindConnection, h, nil)
	inv := NewInvoker(reg, nil)

	d := inv.Status("stream-handle")
	assert.Equal(t, DirectiveReply, d.Kind)
	assert.Equal(t, "stream-handle", d.Data)
	assert.Equal(t, 1, h.statuses)
}

func TestFindSubscriptionByChannelDispatchesToSubscriptionHandler(t *testing.T) {
	reg := NewRegistry()
	rec := SubscriptionRecord{Channel: "trades.btc-usd", Status: SubscriptionConfirmed}
	reg.Register(KindSubscription, findableSubscriber{rec: rec}, nil)
	inv := NewInvoker(reg, nil)

	got, ok := inv.FindSubscriptionByChannel("trades.btc-usd")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok = inv.FindSubscriptionByChannel("orders.eth-usd")
	assert.False(t, ok)
}

func TestFindSubscriptionByChannelNoHandler(t *testing.T) {
	inv := NewInvoker(NewRegistry(), nil)
	_, ok := inv.FindSubscriptionByChannel("trades.btc-usd")
	assert.False(t, ok)
}

func TestGenerateAuthDataDispatchesToAuthHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindAuth, derivingAuth{data: "signed-token"}, nil)
	inv := NewInvoker(reg, nil)

	data, d := inv.GenerateAuthData()
	assert.Equal(t, DirectiveOk, d.Kind)
	assert.Equal(t, "signed-token", data)
}

func TestGenerateAuthDataNoHandler(t *testing.T) {
	inv := NewInvoker(NewRegistry(), nil)
	_, d := inv.GenerateAuthData()
	assert.Equal(t, DirectiveNoHandler, d.Kind)
}

func TestLogErrorDispatchesToErrorHandler(t *testing.T) {
	reg := NewRegistry()
	h := &describingError{}
	reg.Register(KindError, h, nil)
	inv := NewInvoker(reg, nil)

	boom := assert.AnError
	d := inv.LogError(boom, "ctx")
	assert.Equal(t, DirectiveOk, d.Kind)
	assert.Equal(t, boom, h.lastErr)
}

func TestInitRateLimitDispatchesAndStoresState(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindRateLimit, echoRateLimitInitializer{}, nil)
	inv := NewInvoker(reg, nil)

	got := inv.InitRateLimit("opts-value")
	assert.Equal(t, "opts-value", got)

	state, ok := reg.State(KindRateLimit)
	require.True(t, ok)
	assert.Equal(t, "opts-value", state)
}

func TestInitRateLimitNoHandlerReturnsNil(t *testing.T) {
	inv := NewInvoker(NewRegistry(), nil)
	assert.Nil(t, inv.InitRateLimit("opts-value"))
}
