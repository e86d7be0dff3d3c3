package handlers

// Handler state is intentionally untyped (any): the core never
// inspects it, only threads it through the Invoker's per-operation
// methods and replaces it with
// whatever the handler's op returns as NewState.

// --- connection kind ---

type ConnectHandler interface {
	HandleConnect(info ConnInfo, state any) Directive
}

type DisconnectHandler interface {
	HandleDisconnect(reason string, state any) Directive
}

type FrameHandler interface {
	HandleFrame(frameType string, data []byte, state any) Directive
}

type ConnTimeoutHandler interface {
	HandleTimeout(state any) Directive
}

type Pinger interface {
	Ping(stream any, state any) Directive
}

type StatusReporter interface {
	Status(stream any, state any) Directive
}

// Connection is the full operation set of the connection handler kind.
// A concrete handler need not implement all of it - the Invoker falls
// back to the narrower interfaces above.
type Connection interface {
	ConnectHandler
	DisconnectHandler
	FrameHandler
	ConnTimeoutHandler
	Pinger
	StatusReporter
}

// --- message kind ---

type MessageHandler interface {
	HandleMessage(msg any, state any) Directive
}

type MessageValidator interface {
	ValidateMessage(msg any) error
}

type MessageEncoder interface {
	EncodeMessage(kind string, payload any, state any) ([]byte, Directive)
}

type MessageTyper interface {
	MessageType(msg any) string
}

type Message interface {
	MessageHandler
	MessageValidator
	MessageEncoder
	MessageTyper
}

// --- subscription kind ---

type Subscriber interface {
	Subscribe(channel string, params any, state any) Directive
}

type Unsubscriber interface {
	Unsubscribe(channel string, state any) Directive
}

type SubscriptionResponder interface {
	HandleSubscriptionResponse(resp any, state any) Directive
}

type ActiveSubscriptionsLister interface {
	ActiveSubscriptions(state any) []SubscriptionRecord
}

type SubscriptionFinder interface {
	FindSubscriptionByChannel(channel string, state any) (SubscriptionRecord, bool)
}

type Subscription interface {
	Subscriber
	Unsubscriber
	SubscriptionResponder
	ActiveSubscriptionsLister
	SubscriptionFinder
}

// --- auth kind ---

type AuthDataGenerator interface {
	GenerateAuthData(state any) (any, Directive)
}

type AuthResponder interface {
	HandleAuthResponse(resp any, state any) Directive
}

type ReauthChecker interface {
	NeedsReauthentication(state any) bool
}

type Authenticator interface {
	Authenticate(stream any, credentials any, state any) Directive
}

type Auth interface {
	AuthDataGenerator
	AuthResponder
	ReauthChecker
	Authenticator
}

// --- error kind ---

type ErrorEventHandler interface {
	HandleError(err error, ctx any, state any) Directive
}

type ReconnectDecider interface {
	ShouldReconnect(err error, attempt int, state any) bool
}

type ErrorClassifier interface {
	ClassifyError(err error, state any) ErrorClass
}

type ErrorDescriber interface {
	LogError(err error, ctx any, state any) Directive
}

type Error interface {
	ErrorEventHandler
	ReconnectDecider
	ErrorClassifier
	ErrorDescriber
}

// --- rate_limit kind ---

type RateLimitInitializer interface {
	Init(opts any) any
}

type RateLimitChecker interface {
	CheckRateLimit(req any, state any) Directive
}

type TickHandler interface {
	HandleTick(state any) Directive
}

type RateLimit interface {
	RateLimitInitializer
	RateLimitChecker
	TickHandler
}

// --- logging kind ---

type ConnectionEventLogger interface {
	LogConnectionEvent(event string, ctx any, state any) Directive
}

type MessageEventLogger interface {
	LogMessageEvent(event string, ctx any, state any) Directive
}

type ErrorEventLogger interface {
	LogErrorEvent(event string, ctx any, state any) Directive
}

type Logging interface {
	ConnectionEventLogger
	MessageEventLogger
	ErrorEventLogger
}
