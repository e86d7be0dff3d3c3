// Package handlers implements the Handler Registry & Invocation layer of
// §4.5: a closed set of handler kinds, each with a declared operation
// set, dispatched through a single Invoker that looks up the handler and
// its current state, calls the named operation, replaces the state with
// whatever the handler returned, and reports NoHandler/NoOperation so
// callers can tolerate a kind being unregistered or an operation being
// unimplemented without treating either as a fatal condition.
//
// Grounded on the teacher's pkg/effect.Runtime/BaseRuntime (a single
// entrypoint that logs, dispatches, and replaces replyCh state) and
// pkg/dispatch.ChannelReceiver's SetChannels/SetDispatcher pattern of
// wiring a named participant into a shared registry.
package handlers

// Kind is one of the seven recognized handler kinds. The set is closed:
// no other values are meaningful to the core.
type Kind string

const (
	KindConnection   Kind = "connection"
	KindMessage      Kind = "message"
	KindSubscription Kind = "subscription"
	KindAuth         Kind = "auth"
	KindError        Kind = "error"
	KindRateLimit    Kind = "rate_limit"
	KindLogging      Kind = "logging"
)

// DirectiveKind tags which shape of §4.5's unified return value a
// Directive carries.
type DirectiveKind int8

const (
	DirectiveOk DirectiveKind = iota
	DirectiveReply
	DirectiveReconnect
	DirectiveStop
	DirectiveError
	// DirectiveNoHandler and DirectiveNoOperation are synthesized by the
	// Invoker itself, never returned by a handler.
	DirectiveNoHandler
	DirectiveNoOperation
)

func (d DirectiveKind) String() string {
	switch d {
	case DirectiveOk:
		return "ok"
	case DirectiveReply:
		return "reply"
	case DirectiveReconnect:
		return "reconnect"
	case DirectiveStop:
		return "stop"
	case DirectiveError:
		return "error"
	case DirectiveNoHandler:
		return "no_handler"
	case DirectiveNoOperation:
		return "no_operation"
	default:
		return "unknown"
	}
}

// Directive is the unified handler return shape: {ok,new_s} |
// {reply,kind,data,new_s} | {reconnect,new_s} | {stop,reason,new_s} |
// {error,reason,new_s}, plus the two invoker-synthesized outcomes.
type Directive struct {
	Kind      DirectiveKind
	ReplyKind string
	Data      any
	Reason    string
	NewState  any
}

// Ok builds a plain {ok, new_s} directive.
func Ok(newState any) Directive { return Directive{Kind: DirectiveOk, NewState: newState} }

// Reply builds a {reply, kind, data, new_s} directive.
func Reply(replyKind string, data, newState any) Directive {
	return Directive{Kind: DirectiveReply, ReplyKind: replyKind, Data: data, NewState: newState}
}

// Reconnect builds a {reconnect, new_s} directive.
func Reconnect(newState any) Directive { return Directive{Kind: DirectiveReconnect, NewState: newState} }

// Stop builds a {stop, reason, new_s} directive.
func Stop(reason string, newState any) Directive {
	return Directive{Kind: DirectiveStop, Reason: reason, NewState: newState}
}

// ErrDirective builds an {error, reason, new_s} directive.
func ErrDirective(reason string, newState any) Directive {
	return Directive{Kind: DirectiveError, Reason: reason, NewState: newState}
}

// NoHandler and NoOperation are returned by the Invoker itself.
var (
	NoHandler   = Directive{Kind: DirectiveNoHandler}
	NoOperation = Directive{Kind: DirectiveNoOperation}
)

// ErrorClass is the result of the error handler's classify_error op.
type ErrorClass int8

const (
	ClassRecoverable ErrorClass = iota
	ClassFatal
)

// SubscriptionStatus is the status field of a SubscriptionRecord.
type SubscriptionStatus int8

const (
	SubscriptionPending SubscriptionStatus = iota
	SubscriptionConfirmed
	SubscriptionFailed
)

// SubscriptionRecord is the spec's SubscriptionRecord data type.
type SubscriptionRecord struct {
	SubscriptionID string
	Channel        string
	Params         any
	Status         SubscriptionStatus
	Err            error
}

// ConnInfo is the payload passed to connection.handle_connect.
type ConnInfo struct {
	Host          string
	Port          int
	Path          string
	TransportKind string
}
