// Package connection implements the Connection Actor of §4.7: the
// single-owner task that holds one transport handle, drives the
// Connection State Machine, runs the reconnection loop, and is the only
// code in the process allowed to touch its own correlation table, rate
// limiter, request buffer, and handler registry directly. Every other
// goroutine talks to it through a small mailbox of commands.
//
// Grounded on the teacher's internal/supervisor.Supervisor (one
// goroutine per supervised unit, a buffered command channel, a
// `done` channel signaling exit) and pkg/effect.BaseRuntime's event
// loop shape (select across a command channel, an inbound-event
// channel, and timers).
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wsresilient/pkg/backoff"
	"wsresilient/pkg/correlation"
	"wsresilient/pkg/handlers"
	"wsresilient/pkg/logx"
	"wsresilient/pkg/metrics"
	"wsresilient/pkg/ratelimit"
	"wsresilient/pkg/restoration"
	"wsresilient/pkg/statemachine"
	"wsresilient/pkg/transport"
	"wsresilient/pkg/wsconfig"
	"wsresilient/pkg/wserrors"
)

const (
	defaultBufferLimit  = 1000
	subscriptionReplyKind = "subscription_response"
	authReplyKind         = "auth_response"
)

// SendOutcome is the immediate decision returned by Actor.SendFrame,
// distinct from the eventual correlated Reply delivered later on the
// caller's reply channel.
type SendOutcome int8

const (
	SendOk SendOutcome = iota
	SendBuffered
	SendRateLimited
	SendError
)

func (o SendOutcome) String() string {
	switch o {
	case SendOk:
		return "ok"
	case SendBuffered:
		return "buffered"
	case SendRateLimited:
		return "rate_limited"
	case SendError:
		return "error"
	default:
		return "unknown"
	}
}

// SendOptions configures one SendFrame call.
type SendOptions struct {
	Timeout       time.Duration
	CorrelationID correlation.ID
	Correlated    bool
	Fingerprint   string
	CostKind      string
}

// SendResult is the synchronous outcome of SendFrame.
type SendResult struct {
	Outcome SendOutcome
	Err     error
}

// CallbackEvent is an unsolicited notification forwarded to every
// registered callback: raw frames, lifecycle transitions, and fatal
// failures the caller did not explicitly ask for.
type CallbackEvent struct {
	Kind   string
	Stream transport.StreamRef
	Frame  transport.Frame
	Reason string
}

type cmdKind int8

const (
	cmdSendFrame cmdKind = iota
	cmdClose
	cmdRegisterCallback
	cmdUnregisterCallback
	cmdSubscribe
	cmdUnsubscribe
	cmdAuthenticate
	cmdPing
	cmdActiveSubscriptions
	cmdEncodeMessage
)

type command struct {
	kind        cmdKind
	frame       transport.Frame
	opts        SendOptions
	replyTo     chan<- correlation.Reply
	callbackID  string
	callbackCh  chan<- CallbackEvent
	channel     string
	params      any
	credentials any
	msgKind     string
	payload     any
	result      chan any
}

// Actor is the single-owner Connection Actor. Every exported method
// except ID, NextCorrelationID, GetStatus, Start, and Done round-trips
// through the mailbox so state is only ever mutated on the owning
// goroutine.
type Actor struct {
	id  ActorID
	cfg wsconfig.ConnectionConfig

	transport transport.Transport
	handle    transport.Handle

	machine       *statemachine.Machine
	limiter       *ratelimit.Limiter
	corr          *correlation.Table
	buffer        *RequestBuffer
	invoker       *handlers.Invoker
	backoffPolicy *backoff.Policy

	activeStream transport.StreamRef
	attempt      int
	terminal     bool

	reconnectTimer *time.Timer

	callbacks map[string]chan<- CallbackEvent

	mailbox chan *command
	events  chan transport.Event
	done    chan struct{}
	rootCtx context.Context

	logger *logx.Logger
	sink   metrics.Sink
}

// NewActor builds an Actor for id, wired to tr and reg. When nil, sink
// defaults to metrics.NoopSink and logger to logx.New(string(id)).
func NewActor(id ActorID, cfg wsconfig.ConnectionConfig, tr transport.Transport, reg *handlers.Registry, sink metrics.Sink, logger *logx.Logger) *Actor {
	if logger == nil {
		logger = logx.New(string(id))
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	bucket := ratelimit.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate, cfg.RateLimit.RefillInterval)
	limiter := ratelimit.New(bucket, ratelimit.FixedCost(1), cfg.RateLimit.QueueLimit)
	invoker := handlers.NewInvoker(reg, logger)

	a := &Actor{
		id:            id,
		cfg:           cfg,
		transport:     tr,
		machine:       statemachine.New(),
		limiter:       limiter,
		corr:          correlation.NewTable(),
		buffer:        NewRequestBuffer(defaultBufferLimit),
		invoker:       invoker,
		backoffPolicy: backoff.New(cfg.ReconnectPolicy.Kind, cfg.ReconnectPolicy.BaseDelay, cfg.ReconnectPolicy.MaxDelay),
		callbacks:     make(map[string]chan<- CallbackEvent),
		mailbox:       make(chan *command, 16),
		events:        make(chan transport.Event, 64),
		done:          make(chan struct{}),
		logger:        logger,
		sink:          sink,
	}
	invoker.InitRateLimit(cfg.HandlerOptions["rate_limit"])
	return a
}

// ID returns the actor's registry key.
func (a *Actor) ID() ActorID { return a.id }

// GetStatus reads the current connection status. Safe to call from any
// goroutine: Machine guards its own state.
func (a *Actor) GetStatus() statemachine.Status { return a.machine.Current() }

// NextCorrelationID hands out the next monotonic id for a correlated
// request. Safe to call before SendFrame since Table guards its own
// sequence counter.
func (a *Actor) NextCorrelationID() correlation.ID { return a.corr.NextID() }

// Start launches the actor's event loop in its own goroutine and kicks
// off the first connection attempt. ctx bounds the actor's entire
// lifetime; cancelling it stops the actor through fail: pending requests
// get an error matching wserrors.ErrClosed, the status ends at Error,
// HandleDisconnect runs, and callbacks receive a "fatal" event.
func (a *Actor) Start(ctx context.Context) {
	a.rootCtx = ctx
	go a.loop()
}

// Done reports the actor's exit channel, closed once the loop has
// fully stopped (after a terminal state transition or Close).
func (a *Actor) Done() <-chan struct{} { return a.done }

// SendFrame submits frame for delivery, buffering or rate limiting it
// according to the actor's current status (§4.7). The returned
// SendResult is the immediate decision; a correlated request's actual
// reply arrives later on replyTo.
func (a *Actor) SendFrame(frame transport.Frame, replyTo chan<- correlation.Reply, opts SendOptions) SendResult {
	cmd := &command{kind: cmdSendFrame, frame: frame, opts: opts, replyTo: replyTo, result: make(chan any, 1)}
	res, ok := a.dispatch(cmd).(SendResult)
	if !ok {
		return SendResult{Outcome: SendError, Err: wserrors.ErrClosed}
	}
	return res
}

// closedDirective is returned by Subscribe/Unsubscribe/Authenticate/Ping
// when the actor has already exited.
var closedDirective = handlers.ErrDirective(wserrors.ReasonClosed, nil)

// Close requests an orderly shutdown: pending requests are drained
// with ErrClosed, the transport handle is closed, and the loop exits.
func (a *Actor) Close() {
	cmd := &command{kind: cmdClose, result: make(chan any, 1)}
	a.dispatch(cmd)
}

// RegisterCallback subscribes ch to unsolicited CallbackEvents under id.
func (a *Actor) RegisterCallback(id string, ch chan<- CallbackEvent) {
	cmd := &command{kind: cmdRegisterCallback, callbackID: id, callbackCh: ch, result: make(chan any, 1)}
	a.dispatch(cmd)
}

// UnregisterCallback removes a previously registered callback.
func (a *Actor) UnregisterCallback(id string) {
	cmd := &command{kind: cmdUnregisterCallback, callbackID: id, result: make(chan any, 1)}
	a.dispatch(cmd)
}

// Subscribe issues subscription.subscribe(channel, params) on the
// owning goroutine, returning the handler's Directive.
func (a *Actor) Subscribe(channel string, params any) handlers.Directive {
	cmd := &command{kind: cmdSubscribe, channel: channel, params: params, result: make(chan any, 1)}
	if d, ok := a.dispatch(cmd).(handlers.Directive); ok {
		return d
	}
	return closedDirective
}

// Unsubscribe issues subscription.unsubscribe(channel).
func (a *Actor) Unsubscribe(channel string) handlers.Directive {
	cmd := &command{kind: cmdUnsubscribe, channel: channel, result: make(chan any, 1)}
	if d, ok := a.dispatch(cmd).(handlers.Directive); ok {
		return d
	}
	return closedDirective
}

// Authenticate issues auth.authenticate(stream, credentials) directly,
// outside the restoration pipeline - for a caller-driven initial login
// rather than a post-reconnect replay.
func (a *Actor) Authenticate(credentials any) handlers.Directive {
	cmd := &command{kind: cmdAuthenticate, credentials: credentials, result: make(chan any, 1)}
	if d, ok := a.dispatch(cmd).(handlers.Directive); ok {
		return d
	}
	return closedDirective
}

// Ping issues connection.ping(stream).
func (a *Actor) Ping() handlers.Directive {
	cmd := &command{kind: cmdPing, result: make(chan any, 1)}
	if d, ok := a.dispatch(cmd).(handlers.Directive); ok {
		return d
	}
	return closedDirective
}

// ActiveSubscriptions returns the subscription handler's current view
// of confirmed/pending/failed subscriptions.
func (a *Actor) ActiveSubscriptions() ([]handlers.SubscriptionRecord, bool) {
	res := a.dispatch(&command{kind: cmdActiveSubscriptions, result: make(chan any, 1)})
	wrapped, ok := res.(activeSubsResult)
	if !ok {
		return nil, false
	}
	return wrapped.recs, wrapped.ok
}

type activeSubsResult struct {
	recs []handlers.SubscriptionRecord
	ok   bool
}

// EncodeMessage issues message.encode_message(kind, payload) against the
// registered message handler, routed through the mailbox since the
// invoker's handler state must only ever be touched from the actor's
// own goroutine.
func (a *Actor) EncodeMessage(kind string, payload any) ([]byte, handlers.Directive) {
	res := a.dispatch(&command{kind: cmdEncodeMessage, msgKind: kind, payload: payload, result: make(chan any, 1)})
	wrapped, ok := res.(encodeResult)
	if !ok {
		return nil, closedDirective
	}
	return wrapped.data, wrapped.directive
}

type encodeResult struct {
	data      []byte
	directive handlers.Directive
}

// dispatch submits cmd to the mailbox and waits for its result, or
// returns nil if the actor has already exited either before the
// command could be enqueued or while waiting for its result.
func (a *Actor) dispatch(cmd *command) any {
	select {
	case a.mailbox <- cmd:
	case <-a.done:
		return nil
	}
	select {
	case res := <-cmd.result:
		return res
	case <-a.done:
		return nil
	}
}

// loop is the actor's whole body. Every state mutation in this package
// happens only here or in functions it calls directly - the only
// suspension points are the connect/upgrade calls inside connectOnce
// and the auth step inside the restoration pipeline, per §5.
func (a *Actor) loop() {
	defer close(a.done)

	tickInterval := a.cfg.RateLimit.RefillInterval
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	if _, _, err := a.machine.Transition(statemachine.Start); err != nil {
		a.logger.Error("initial start transition rejected: %v", err)
		return
	}
	a.connectOnce()
	if a.terminal {
		return
	}

	for {
		select {
		case cmd := <-a.mailbox:
			a.handleCommand(cmd)
		case ev := <-a.events:
			a.handleTransportEvent(ev)
		case <-a.reconnectTimerC():
			a.reconnectTimer = nil
			a.fireReconnect()
		case <-ticker.C:
			a.tick()
		case <-a.rootCtx.Done():
			a.fail(wserrors.MarkFatal(wserrors.ReasonClosed, a.rootCtx.Err()))
		}
		if a.terminal {
			return
		}
	}
}

func (a *Actor) reconnectTimerC() <-chan time.Time {
	if a.reconnectTimer == nil {
		return nil
	}
	return a.reconnectTimer.C
}

// connectOnce performs one open/await-up/upgrade attempt. A failure at
// any step is routed through onTransportError, which decides whether
// to schedule a retry or fail the actor outright.
func (a *Actor) connectOnce() {
	ctx, cancel := context.WithTimeout(a.rootCtx, a.cfg.Timeouts.Connect)
	defer cancel()

	h, err := a.transport.Open(ctx, a.cfg.Endpoint.Host, a.cfg.Endpoint.Port, transport.Options{
		Secure:         a.cfg.Endpoint.Secure,
		ConnectTimeout: a.cfg.Timeouts.Connect,
	}, a.events)
	if err != nil {
		a.onTransportError(wserrors.NewTransportError(wserrors.ReasonOpenFailed, err))
		return
	}
	a.handle = h

	protocol, err := a.transport.AwaitUp(ctx, h, a.cfg.Timeouts.Connect)
	if err != nil {
		a.onTransportError(wserrors.NewTransportError(wserrors.ReasonAwaitUpFailed, err))
		return
	}
	if _, _, err := a.machine.Transition(statemachine.TransportUp); err != nil {
		a.onTransportError(err)
		return
	}
	a.invoker.HandleConnect(handlers.ConnInfo{
		Host: a.cfg.Endpoint.Host, Port: a.cfg.Endpoint.Port,
		Path: a.cfg.Endpoint.Path, TransportKind: protocol,
	})

	upgradeCtx, upgradeCancel := context.WithTimeout(a.rootCtx, a.cfg.Timeouts.AwaitUpgrade)
	defer upgradeCancel()

	stream, err := a.transport.WSUpgrade(upgradeCtx, h, a.cfg.Endpoint.Path, nil)
	if err != nil {
		a.onTransportError(wserrors.NewTransportError(wserrors.ReasonUpgradeFailed, err))
		return
	}
	if _, _, err := a.machine.Transition(statemachine.UpgradeOK); err != nil {
		a.onTransportError(err)
		return
	}
	a.activeStream = stream
	a.attempt = 0
	a.sink.Observe(metrics.Event{Kind: metrics.EventConnectionUp, Component: string(a.id)})
	a.onEnterWebsocketConnected()
}

// onEnterWebsocketConnected runs the restoration pipeline: reauth, then
// resubscribe, then flush the request buffer - in that order, per §4.8.
func (a *Actor) onEnterWebsocketConnected() {
	confirmed := confirmedSubscriptions(a.invoker)
	credentials := a.cfg.HandlerOptions["auth"]

	result := restoration.Run(a.invoker, a.cfg.Timeouts.Request, a.activeStream, credentials, confirmed, a.flushBuffer)

	if result.Auth.Fatal {
		a.fail(wserrors.MarkFatal(wserrors.ReasonReauthFailed, errors.New(result.Auth.Reason)))
		return
	}
	if !result.Auth.Authenticated {
		a.logger.Warn("reauthentication failed: %s", result.Auth.Reason)
		_ = a.transport.Close(a.handle)
		a.onTransportDown(transport.Event{Reason: "reauth_failed"})
		return
	}
	for _, s := range result.Subscriptions {
		if s.Err != nil {
			a.logger.Warn("resubscribe failed for %s: %v", s.Channel, s.Err)
		}
	}
}

func confirmedSubscriptions(inv *handlers.Invoker) []handlers.SubscriptionRecord {
	recs, ok := inv.ActiveSubscriptions()
	if !ok {
		return nil
	}
	out := make([]handlers.SubscriptionRecord, 0, len(recs))
	for _, r := range recs {
		if r.Status == handlers.SubscriptionConfirmed {
			out = append(out, r)
		}
	}
	return out
}

// flushBuffer re-enters the rate-limited write path for every buffered
// request, in FIFO order, so reconnection never bypasses the limiter.
func (a *Actor) flushBuffer() {
	for _, item := range a.buffer.DrainFIFO() {
		a.rateLimitedWrite(item.frame, "", "")
	}
}

func (a *Actor) handleCommand(cmd *command) {
	switch cmd.kind {
	case cmdSendFrame:
		a.handleSendFrame(cmd)
	case cmdClose:
		a.handleClose(cmd)
	case cmdRegisterCallback:
		a.callbacks[cmd.callbackID] = cmd.callbackCh
		cmd.result <- struct{}{}
	case cmdUnregisterCallback:
		delete(a.callbacks, cmd.callbackID)
		cmd.result <- struct{}{}
	case cmdSubscribe:
		cmd.result <- a.invoker.Subscribe(cmd.channel, cmd.params)
	case cmdUnsubscribe:
		cmd.result <- a.invoker.Unsubscribe(cmd.channel)
	case cmdAuthenticate:
		cmd.result <- a.invoker.Authenticate(a.activeStream, cmd.credentials)
	case cmdPing:
		cmd.result <- a.invoker.Ping(a.activeStream)
	case cmdActiveSubscriptions:
		recs, ok := a.invoker.ActiveSubscriptions()
		cmd.result <- activeSubsResult{recs: recs, ok: ok}
	case cmdEncodeMessage:
		data, directive := a.invoker.EncodeMessage(cmd.msgKind, cmd.payload)
		cmd.result <- encodeResult{data: data, directive: directive}
	}
}

func (a *Actor) handleSendFrame(cmd *command) {
	switch a.machine.Current() {
	case statemachine.WebsocketConnected:
		if cmd.opts.Correlated {
			a.corr.Insert(correlation.PendingRequest{
				ID: cmd.opts.CorrelationID, ReplyTo: cmd.replyTo,
				Deadline: time.Now().Add(cmd.opts.Timeout), OriginalPayload: cmd.frame,
			})
		}
		result := a.rateLimitedWrite(cmd.frame, cmd.opts.Fingerprint, cmd.opts.CostKind)
		switch result.Decision {
		case ratelimit.Allow:
			cmd.result <- SendResult{Outcome: SendOk}
		case ratelimit.Queue:
			cmd.result <- SendResult{Outcome: SendRateLimited}
		case ratelimit.Reject:
			if cmd.opts.Correlated {
				a.corr.Take(cmd.opts.CorrelationID)
			}
			cmd.result <- SendResult{Outcome: SendError, Err: result.Err}
		}

	case statemachine.Connecting, statemachine.Connected, statemachine.Disconnected, statemachine.Reconnecting:
		if cmd.opts.Correlated {
			a.corr.Insert(correlation.PendingRequest{
				ID: cmd.opts.CorrelationID, ReplyTo: cmd.replyTo,
				Deadline: time.Now().Add(cmd.opts.Timeout), OriginalPayload: cmd.frame,
			})
		}
		if !a.buffer.Push(bufferedRequest{
			frame: cmd.frame, replyTo: cmd.replyTo,
			correlated: cmd.opts.Correlated, correlation: cmd.opts.CorrelationID, enqueued: time.Now(),
		}) {
			if cmd.opts.Correlated {
				a.corr.Take(cmd.opts.CorrelationID)
			}
			cmd.result <- SendResult{Outcome: SendError, Err: wserrors.ErrBufferFull}
			return
		}
		cmd.result <- SendResult{Outcome: SendBuffered}

	default:
		cmd.result <- SendResult{Outcome: SendError, Err: wserrors.ErrNotConnected}
	}
}

func (a *Actor) handleClose(cmd *command) {
	if _, _, err := a.machine.Transition(statemachine.Close); err != nil {
		a.logger.Debug("close requested outside WebsocketConnected: %v", err)
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	a.corr.DrainAll(wserrors.ErrClosed)
	if a.handle != nil {
		_ = a.transport.Close(a.handle)
	}
	a.terminal = true
	a.notifyCallbacks(CallbackEvent{Kind: "closed"})
	cmd.result <- struct{}{}
}

// rateLimitedWrite prices frame, writes it immediately on Allow, or
// defers the write to the limiter's drain callback on Queue. The
// decision is delegated to a registered rate_limit handler when one
// exists; the bucket decides directly when no handler is registered
// (handlers.DirectiveNoHandler), when the handler does not implement the
// operation (handlers.DirectiveNoOperation), or when its directive
// carries no ratelimit.Result.
func (a *Actor) rateLimitedWrite(frame transport.Frame, fingerprint, costKind string) ratelimit.Result {
	req := ratelimit.Request{Fingerprint: fingerprint, Kind: costKind}
	directive := a.invoker.CheckRateLimit(req)
	result, ok := a.rateLimitResultFrom(directive)
	if !ok {
		result = a.limiter.Check(req)
	}
	switch result.Decision {
	case ratelimit.Allow:
		a.writeNow(frame)
	case ratelimit.Queue:
		a.limiter.OnProcess(result.ID, func() { a.writeNow(frame) })
	case ratelimit.Reject:
		a.sink.Observe(metrics.Event{Kind: metrics.EventRateLimited, Component: string(a.id)})
	}
	return result
}

// rateLimitResultFrom interprets a rate_limit handler's directive. ok is
// false when the bucket should decide instead: no handler is registered,
// the handler does not implement the operation, or the directive carries
// no ratelimit.Result. A reconnect/stop directive is applied via
// applyDirective and reported as a Reject with ok true.
func (a *Actor) rateLimitResultFrom(d handlers.Directive) (ratelimit.Result, bool) {
	switch d.Kind {
	case handlers.DirectiveNoHandler, handlers.DirectiveNoOperation:
		return ratelimit.Result{}, false
	case handlers.DirectiveReconnect, handlers.DirectiveStop:
		a.applyDirective(d)
		return ratelimit.Result{Decision: ratelimit.Reject, Err: wserrors.NewRateLimitError(wserrors.ReasonQueueFull, errors.New(d.Reason))}, true
	}
	if result, ok := d.Data.(ratelimit.Result); ok {
		return result, true
	}
	return ratelimit.Result{}, false
}

// tick drives the rate_limit handler's own tick logic when one is
// registered, falling back to the bucket's FIFO drain otherwise.
func (a *Actor) tick() {
	directive := a.invoker.HandleTick()
	if directive.Kind == handlers.DirectiveNoHandler || directive.Kind == handlers.DirectiveNoOperation {
		a.limiter.Tick()
		return
	}
	a.applyDirective(directive)
}

func (a *Actor) writeNow(frame transport.Frame) {
	if err := a.transport.WSSend(a.handle, a.activeStream, frame); err != nil {
		a.logger.Warn("frame write failed: %v", err)
	}
}

func (a *Actor) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventFrame:
		a.onFrame(ev)
	case transport.EventDown:
		a.onTransportDown(ev)
	case transport.EventError:
		a.onTransportError(wserrors.NewTransportError(wserrors.ReasonTransportDead, errors.New(ev.Reason)))
	default:
		a.logger.Debug("unhandled transport event kind %v", ev.Kind)
	}
}

func (a *Actor) onFrame(ev transport.Event) {
	a.notifyCallbacks(CallbackEvent{Kind: "frame", Stream: ev.Stream, Frame: ev.Frame})
	a.applyDirective(a.invoker.HandleFrame(ev.Frame.Type.String(), ev.Frame.Data))
	a.logMessageEvent("frame_received")

	if ev.Frame.Type != transport.FrameText && ev.Frame.Type != transport.FrameBinary {
		return
	}
	if err := a.invoker.ValidateMessage(ev.Frame.Data); err != nil {
		a.logger.Warn("message validation failed: %v", err)
		a.logErrorEvent("message_validation_failed", err)
		return
	}

	if id, ok := extractCorrelationID(ev.Frame.Data); ok {
		if pending, found := a.corr.Take(id); found {
			deliverReply(pending.ReplyTo, correlation.Reply{Payload: ev.Frame.Data})
			a.sink.Observe(metrics.Event{Kind: metrics.EventRequestReplied, Component: string(a.id)})
			return
		}
	}

	if kind, ok := a.invoker.MessageType(ev.Frame.Data); ok {
		switch kind {
		case subscriptionReplyKind:
			a.applyDirective(a.invoker.HandleSubscriptionResponse(ev.Frame.Data))
			return
		case authReplyKind:
			a.applyDirective(a.invoker.HandleAuthResponse(ev.Frame.Data))
			return
		}
	}

	a.applyDirective(a.invoker.HandleMessage(ev.Frame.Data))
}

func (a *Actor) applyDirective(d handlers.Directive) {
	switch d.Kind {
	case handlers.DirectiveReconnect:
		a.onTransportDown(transport.Event{Reason: "handler_requested_reconnect"})
	case handlers.DirectiveStop:
		a.fail(wserrors.MarkFatal(wserrors.ReasonHandlerFailure, errors.New(d.Reason)))
	}
}

func (a *Actor) onTransportDown(ev transport.Event) {
	if _, _, err := a.machine.Transition(statemachine.TransportDown); err != nil {
		a.logger.Debug("transport_down ignored: %v", err)
		return
	}
	a.activeStream = ""
	a.invoker.HandleDisconnect(ev.Reason)
	a.sink.Observe(metrics.Event{Kind: metrics.EventConnectionDown, Component: string(a.id)})
	a.notifyCallbacks(CallbackEvent{Kind: "connection_down", Reason: ev.Reason})
	a.scheduleReconnect()
}

// reconnectAllowed reports whether policy permits another attempt,
// shared by both places a retry might be scheduled: the clean
// transport_down path and the connect-error path.
func (a *Actor) reconnectAllowed() bool {
	if !a.cfg.ReconnectPolicy.ReconnectOnError {
		return false
	}
	if a.cfg.ReconnectPolicy.MaxAttempts > 0 && a.attempt >= a.cfg.ReconnectPolicy.MaxAttempts {
		return false
	}
	return true
}

func (a *Actor) scheduleReconnect() {
	if !a.reconnectAllowed() {
		a.fail(wserrors.MarkFatal(wserrors.ReasonClosed, nil))
		return
	}
	if _, _, err := a.machine.Transition(statemachine.ScheduleReconnect); err != nil {
		a.logger.Debug("schedule_reconnect ignored: %v", err)
		return
	}
	a.armReconnectTimer()
}

func (a *Actor) armReconnectTimer() {
	delay := a.backoffPolicy.Delay(a.attempt)
	a.attempt++
	a.sink.Observe(metrics.Event{Kind: metrics.EventReconnectAttempt, Component: string(a.id), Value: float64(a.attempt)})
	a.reconnectTimer = time.NewTimer(delay)
}

func (a *Actor) fireReconnect() {
	if _, _, err := a.machine.Transition(statemachine.Start); err != nil {
		a.logger.Warn("reconnect start transition rejected: %v", err)
		return
	}
	a.connectOnce()
}

func (a *Actor) onTransportError(err error) {
	if a.machine.Current() != statemachine.Error {
		if _, _, terr := a.machine.Transition(statemachine.TransportError); terr != nil {
			a.logger.Warn("transport_error transition rejected: %v", terr)
		}
	}
	class, _ := a.invoker.ClassifyError(err)
	shouldReconnect, _ := a.invoker.ShouldReconnect(err, a.attempt)
	a.applyDirective(a.invoker.HandleError(err, nil))
	a.logErrorEvent("transport_error", err)

	if class == handlers.ClassFatal || !shouldReconnect || !a.reconnectAllowed() {
		a.fail(wserrors.MarkFatal(wserrors.ReasonHandlerFailure, err))
		return
	}
	if _, _, terr := a.machine.Transition(statemachine.Recoverable); terr != nil {
		a.logger.Warn("recoverable transition rejected: %v", terr)
		a.fail(wserrors.MarkFatal(wserrors.ReasonHandlerFailure, err))
		return
	}
	a.armReconnectTimer()
}

func (a *Actor) fail(err error) {
	if a.terminal {
		return
	}
	if _, _, terr := a.machine.Transition(statemachine.Fatal); terr != nil {
		a.logger.Debug("fatal transition rejected from %v: %v", a.machine.Current(), terr)
	}
	a.corr.DrainAll(err)
	a.buffer.DrainFIFO()
	a.terminal = true
	a.logger.Error("connection fatal: %v", err)
	a.invoker.HandleDisconnect(err.Error())
	a.sink.Observe(metrics.Event{Kind: metrics.EventConnectionDown, Component: string(a.id)})
	if a.handle != nil {
		_ = a.transport.Close(a.handle)
	}
	a.notifyCallbacks(CallbackEvent{Kind: "fatal", Reason: err.Error()})
}

func (a *Actor) notifyCallbacks(ev CallbackEvent) {
	for _, ch := range a.callbacks {
		select {
		case ch <- ev:
		default:
		}
	}
}

// logMessageEvent routes event through the registered logging handler,
// falling back to the actor's own logger when no handler is registered
// or it declines the operation.
func (a *Actor) logMessageEvent(event string) {
	if d := a.invoker.LogMessageEvent(event, nil); d.Kind == handlers.DirectiveNoHandler || d.Kind == handlers.DirectiveNoOperation {
		a.logger.Debug("%s", event)
	}
}

// logErrorEvent routes err through the registered logging handler, with
// the same fallback-to-own-logger behavior as logMessageEvent.
func (a *Actor) logErrorEvent(event string, err error) {
	if d := a.invoker.LogErrorEvent(event, err); d.Kind == handlers.DirectiveNoHandler || d.Kind == handlers.DirectiveNoOperation {
		a.logger.Warn("%s: %v", event, err)
	}
}

// deliverReply sends a reply without blocking if the waiter's channel
// has no room, mirroring correlation.Table's own delivery discipline.
func deliverReply(ch chan<- correlation.Reply, reply correlation.Reply) {
	select {
	case ch <- reply:
	default:
	}
}

// extractCorrelationID reads a top-level numeric "id" field out of a
// JSON-RPC-style frame payload. Venue-specific envelope shapes are the
// message handler's concern; this is the one default the core assumes
// so correlation works out of the box for the common case.
func extractCorrelationID(data []byte) (correlation.ID, bool) {
	var envelope struct {
		ID *uint64 `json:"id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.ID == nil {
		return 0, false
	}
	return correlation.ID(*envelope.ID), true
}
