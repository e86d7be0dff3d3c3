package handlers

import (
	"wsresilient/pkg/logx"
	"wsresilient/pkg/wserrors"
)

// Invoker is the single point that calls into registered handlers (§4.5
// step 1-5): it looks up the handler and state, invokes the named
// operation, replaces the state with whatever came back, and returns
// the resulting Directive. NoHandler/NoOperation are returned instead of
// calling anything when the kind is unregistered or the operation isn't
// implemented; panics are recovered and surfaced as HandlerFailure.
type Invoker struct {
	reg    *Registry
	logger *logx.Logger
}

// NewInvoker builds an Invoker over reg. logger may be nil, in which
// case handler panics are only reported via the returned Directive.
func NewInvoker(reg *Registry, logger *logx.Logger) *Invoker {
	return &Invoker{reg: reg, logger: logger}
}

// safeCall runs run and converts a panic into a HandlerFailure
// directive carrying fallback as its NewState, so a misbehaving handler
// never loses its last-known-good state.
func (inv *Invoker) safeCall(kind Kind, fallback any, run func() Directive) (result Directive) {
	defer func() {
		if r := recover(); r != nil {
			if inv.logger != nil {
				inv.logger.Error("handler %s panicked: %v", kind, r)
			}
			result = ErrDirective(wserrors.ReasonHandlerFailure, fallback)
		}
	}()
	return run()
}

func (inv *Invoker) commit(kind Kind, d Directive) Directive {
	switch d.Kind {
	case DirectiveNoHandler, DirectiveNoOperation:
		return d
	default:
		inv.reg.setState(kind, d.NewState)
		return d
	}
}

// --- connection kind ---

func (inv *Invoker) HandleConnect(info ConnInfo) Directive {
	handler, state, ok := inv.reg.get(KindConnection)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(ConnectHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindConnection, inv.safeCall(KindConnection, state, func() Directive {
		return h.HandleConnect(info, state)
	}))
}

func (inv *Invoker) HandleDisconnect(reason string) Directive {
	handler, state, ok := inv.reg.get(KindConnection)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(DisconnectHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindConnection, inv.safeCall(KindConnection, state, func() Directive {
		return h.HandleDisconnect(reason, state)
	}))
}

func (inv *Invoker) HandleFrame(frameType string, data []byte) Directive {
	handler, state, ok := inv.reg.get(KindConnection)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(FrameHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindConnection, inv.safeCall(KindConnection, state, func() Directive {
		return h.HandleFrame(frameType, data, state)
	}))
}

func (inv *Invoker) Ping(stream any) Directive {
	handler, state, ok := inv.reg.get(KindConnection)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(Pinger)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindConnection, inv.safeCall(KindConnection, state, func() Directive {
		return h.Ping(stream, state)
	}))
}

func (inv *Invoker) HandleTimeout() Directive {
	handler, state, ok := inv.reg.get(KindConnection)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(ConnTimeoutHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindConnection, inv.safeCall(KindConnection, state, func() Directive {
		return h.HandleTimeout(state)
	}))
}

func (inv *Invoker) Status(stream any) Directive {
	handler, state, ok := inv.reg.get(KindConnection)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(StatusReporter)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindConnection, inv.safeCall(KindConnection, state, func() Directive {
		return h.Status(stream, state)
	}))
}

// --- message kind ---

func (inv *Invoker) ValidateMessage(msg any) error {
	handler, _, ok := inv.reg.get(KindMessage)
	if !ok {
		return nil
	}
	h, ok := handler.(MessageValidator)
	if !ok {
		return nil
	}
	return h.ValidateMessage(msg)
}

func (inv *Invoker) MessageType(msg any) (string, bool) {
	handler, _, ok := inv.reg.get(KindMessage)
	if !ok {
		return "", false
	}
	h, ok := handler.(MessageTyper)
	if !ok {
		return "", false
	}
	return h.MessageType(msg), true
}

func (inv *Invoker) HandleMessage(msg any) Directive {
	handler, state, ok := inv.reg.get(KindMessage)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(MessageHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindMessage, inv.safeCall(KindMessage, state, func() Directive {
		return h.HandleMessage(msg, state)
	}))
}

func (inv *Invoker) EncodeMessage(kind string, payload any) ([]byte, Directive) {
	handler, state, ok := inv.reg.get(KindMessage)
	if !ok {
		return nil, NoHandler
	}
	h, ok := handler.(MessageEncoder)
	if !ok {
		return nil, NoOperation
	}
	var encoded []byte
	directive := inv.safeCall(KindMessage, state, func() Directive {
		var d Directive
		encoded, d = h.EncodeMessage(kind, payload, state)
		return d
	})
	return encoded, inv.commit(KindMessage, directive)
}

// --- subscription kind ---

func (inv *Invoker) Subscribe(channel string, params any) Directive {
	handler, state, ok := inv.reg.get(KindSubscription)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(Subscriber)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindSubscription, inv.safeCall(KindSubscription, state, func() Directive {
		return h.Subscribe(channel, params, state)
	}))
}

func (inv *Invoker) Unsubscribe(channel string) Directive {
	handler, state, ok := inv.reg.get(KindSubscription)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(Unsubscriber)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindSubscription, inv.safeCall(KindSubscription, state, func() Directive {
		return h.Unsubscribe(channel, state)
	}))
}

func (inv *Invoker) HandleSubscriptionResponse(resp any) Directive {
	handler, state, ok := inv.reg.get(KindSubscription)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(SubscriptionResponder)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindSubscription, inv.safeCall(KindSubscription, state, func() Directive {
		return h.HandleSubscriptionResponse(resp, state)
	}))
}

func (inv *Invoker) ActiveSubscriptions() ([]SubscriptionRecord, bool) {
	handler, state, ok := inv.reg.get(KindSubscription)
	if !ok {
		return nil, false
	}
	h, ok := handler.(ActiveSubscriptionsLister)
	if !ok {
		return nil, false
	}
	return h.ActiveSubscriptions(state), true
}

func (inv *Invoker) FindSubscriptionByChannel(channel string) (SubscriptionRecord, bool) {
	handler, state, ok := inv.reg.get(KindSubscription)
	if !ok {
		return SubscriptionRecord{}, false
	}
	h, ok := handler.(SubscriptionFinder)
	if !ok {
		return SubscriptionRecord{}, false
	}
	return h.FindSubscriptionByChannel(channel, state)
}

// --- auth kind ---

func (inv *Invoker) NeedsReauthentication() bool {
	handler, state, ok := inv.reg.get(KindAuth)
	if !ok {
		return false
	}
	h, ok := handler.(ReauthChecker)
	if !ok {
		return false
	}
	return h.NeedsReauthentication(state)
}

func (inv *Invoker) GenerateAuthData() (any, Directive) {
	handler, state, ok := inv.reg.get(KindAuth)
	if !ok {
		return nil, NoHandler
	}
	h, ok := handler.(AuthDataGenerator)
	if !ok {
		return nil, NoOperation
	}
	var data any
	directive := inv.safeCall(KindAuth, state, func() Directive {
		var d Directive
		data, d = h.GenerateAuthData(state)
		return d
	})
	return data, inv.commit(KindAuth, directive)
}

func (inv *Invoker) Authenticate(stream any, credentials any) Directive {
	handler, state, ok := inv.reg.get(KindAuth)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(Authenticator)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindAuth, inv.safeCall(KindAuth, state, func() Directive {
		return h.Authenticate(stream, credentials, state)
	}))
}

func (inv *Invoker) HandleAuthResponse(resp any) Directive {
	handler, state, ok := inv.reg.get(KindAuth)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(AuthResponder)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindAuth, inv.safeCall(KindAuth, state, func() Directive {
		return h.HandleAuthResponse(resp, state)
	}))
}

// --- error kind ---

func (inv *Invoker) ClassifyError(err error) (ErrorClass, bool) {
	handler, state, ok := inv.reg.get(KindError)
	if !ok {
		return ClassRecoverable, false
	}
	h, ok := handler.(ErrorClassifier)
	if !ok {
		return ClassRecoverable, false
	}
	return h.ClassifyError(err, state), true
}

func (inv *Invoker) ShouldReconnect(err error, attempt int) (bool, bool) {
	handler, state, ok := inv.reg.get(KindError)
	if !ok {
		return true, false
	}
	h, ok := handler.(ReconnectDecider)
	if !ok {
		return true, false
	}
	return h.ShouldReconnect(err, attempt, state), true
}

func (inv *Invoker) HandleError(err error, ctx any) Directive {
	handler, state, ok := inv.reg.get(KindError)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(ErrorEventHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindError, inv.safeCall(KindError, state, func() Directive {
		return h.HandleError(err, ctx, state)
	}))
}

func (inv *Invoker) LogError(err error, ctx any) Directive {
	handler, state, ok := inv.reg.get(KindError)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(ErrorDescriber)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindError, inv.safeCall(KindError, state, func() Directive {
		return h.LogError(err, ctx, state)
	}))
}

// --- rate_limit kind ---

func (inv *Invoker) InitRateLimit(opts any) any {
	handler, _, ok := inv.reg.get(KindRateLimit)
	if !ok {
		return nil
	}
	h, ok := handler.(RateLimitInitializer)
	if !ok {
		return nil
	}
	newState := h.Init(opts)
	inv.reg.setState(KindRateLimit, newState)
	return newState
}

func (inv *Invoker) CheckRateLimit(req any) Directive {
	handler, state, ok := inv.reg.get(KindRateLimit)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(RateLimitChecker)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindRateLimit, inv.safeCall(KindRateLimit, state, func() Directive {
		return h.CheckRateLimit(req, state)
	}))
}

func (inv *Invoker) HandleTick() Directive {
	handler, state, ok := inv.reg.get(KindRateLimit)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(TickHandler)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindRateLimit, inv.safeCall(KindRateLimit, state, func() Directive {
		return h.HandleTick(state)
	}))
}

// --- logging kind ---

func (inv *Invoker) LogConnectionEvent(event string, ctx any) Directive {
	handler, state, ok := inv.reg.get(KindLogging)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(ConnectionEventLogger)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindLogging, inv.safeCall(KindLogging, state, func() Directive {
		return h.LogConnectionEvent(event, ctx, state)
	}))
}

func (inv *Invoker) LogMessageEvent(event string, ctx any) Directive {
	handler, state, ok := inv.reg.get(KindLogging)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(MessageEventLogger)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindLogging, inv.safeCall(KindLogging, state, func() Directive {
		return h.LogMessageEvent(event, ctx, state)
	}))
}

func (inv *Invoker) LogErrorEvent(event string, ctx any) Directive {
	handler, state, ok := inv.reg.get(KindLogging)
	if !ok {
		return NoHandler
	}
	h, ok := handler.(ErrorEventLogger)
	if !ok {
		return NoOperation
	}
	return inv.commit(KindLogging, inv.safeCall(KindLogging, state, func() Directive {
		return h.LogErrorEvent(event, ctx, state)
	}))
}

