// Package wserrors provides the typed error taxonomy shared by every
// layer of wsresilient: config validation, transport failures, protocol
// violations, timeouts, rate-limit rejections, handler failures, state
// machine transitions, and auth. Every constructor returns an *Error so
// callers can use errors.Is/errors.As to branch on category and reason
// without string-matching messages, mirroring the teacher's
// llmerrors.ErrorType classification scheme.
package wserrors

import (
	"errors"
	"fmt"
)

// Category is a coarse error kind; it never changes for a given code path.
type Category int8

const (
	CategoryConfig Category = iota
	CategoryTransport
	CategoryProtocol
	CategoryTimeout
	CategoryRateLimit
	CategoryHandler
	CategoryStateMachine
	CategoryAuth
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryTransport:
		return "transport"
	case CategoryProtocol:
		return "protocol"
	case CategoryTimeout:
		return "timeout"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryHandler:
		return "handler"
	case CategoryStateMachine:
		return "state_machine"
	case CategoryAuth:
		return "auth"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reason codes, grouped by the category that uses them (§7 of the spec).
const (
	ReasonOpenFailed         = "open_failed"
	ReasonAwaitUpFailed      = "await_up_failed"
	ReasonUpgradeFailed      = "upgrade_failed"
	ReasonStreamNotFound     = "stream_not_found"
	ReasonInvalidStreamState = "invalid_stream_status"
	ReasonNotConnected       = "not_connected"
	ReasonNoTransport        = "no_transport"
	ReasonTransportDead      = "transport_dead"
	ReasonInvalidTarget      = "invalid_target"

	ReasonMalformedFrame    = "malformed_frame"
	ReasonIDCollision       = "id_collision"
	ReasonControlTooLarge   = "control_frame_too_large"
	ReasonReservedCloseCode = "reserved_close_code"
	ReasonInvalidCloseCode  = "invalid_close_code"

	ReasonConnectTimeout = "connect_timeout"
	ReasonUpgradeTimeout = "upgrade_timeout"
	ReasonRequestTimeout = "request_timeout"

	ReasonQueueFull      = "queue_full"
	ReasonInternalError  = "internal_error"
	ReasonBufferFull     = "buffer_full"

	ReasonInvalidReturn   = "invalid_return"
	ReasonHandlerFailure  = "handler_failure"

	ReasonTransitionError = "transition_error"

	ReasonAuthFailed   = "auth_failed"
	ReasonReauthFailed = "reauth_failed"

	ReasonClosed = "closed"
)

// Error is the concrete type returned by every constructor in this package.
type Error struct {
	Category Category
	Reason   string
	Err      error

	// Transition-specific detail, populated only for CategoryStateMachine.
	From string
	To   string
}

func (e *Error) Error() string {
	base := fmt.Sprintf("%s: %s", e.Category, e.Reason)
	if e.From != "" || e.To != "" {
		base = fmt.Sprintf("%s (from=%s to=%s)", base, e.From, e.To)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *Error) Unwrap() error { return e.Err }

// Is implements the errors.Is contract by category+reason equality,
// ignoring Err so sentinels can be matched without a wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	return t.Category == e.Category
}

func newErr(cat Category, reason string, err error) *Error {
	return &Error{Category: cat, Reason: reason, Err: err}
}

func NewConfigError(reason string, err error) *Error       { return newErr(CategoryConfig, reason, err) }
func NewTransportError(reason string, err error) *Error    { return newErr(CategoryTransport, reason, err) }
func NewProtocolError(reason string, err error) *Error     { return newErr(CategoryProtocol, reason, err) }
func NewTimeoutError(reason string, err error) *Error      { return newErr(CategoryTimeout, reason, err) }
func NewRateLimitError(reason string, err error) *Error    { return newErr(CategoryRateLimit, reason, err) }
func NewHandlerError(reason string, err error) *Error      { return newErr(CategoryHandler, reason, err) }
func NewAuthError(reason string, err error) *Error         { return newErr(CategoryAuth, reason, err) }

// NewTransitionError reports an illegal connection state machine move.
func NewTransitionError(from, to string) *Error {
	return &Error{Category: CategoryStateMachine, Reason: ReasonTransitionError, From: from, To: to}
}

// MarkFatal wraps err (if non-nil) as a CategoryFatal error, preserving it
// as the Unwrap target so errors.Is still matches the original error.
func MarkFatal(reason string, err error) *Error {
	return &Error{Category: CategoryFatal, Reason: reason, Err: err}
}

// IsFatal reports whether err (or anything it wraps) was classified fatal.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == CategoryFatal
	}
	return false
}

// Sentinels for errors.Is comparisons against a bare category+reason,
// with no wrapped cause or transition detail.
var (
	ErrNotConnected   = &Error{Category: CategoryTransport, Reason: ReasonNotConnected}
	ErrNoTransport    = &Error{Category: CategoryTransport, Reason: ReasonNoTransport}
	ErrTransportDead  = &Error{Category: CategoryTransport, Reason: ReasonTransportDead}
	ErrInvalidTarget  = &Error{Category: CategoryTransport, Reason: ReasonInvalidTarget}
	ErrQueueFull      = &Error{Category: CategoryRateLimit, Reason: ReasonQueueFull}
	ErrRateLimitInternal = &Error{Category: CategoryRateLimit, Reason: ReasonInternalError}
	ErrBufferFull     = &Error{Category: CategoryTransport, Reason: ReasonBufferFull}
	ErrRequestTimeout = &Error{Category: CategoryTimeout, Reason: ReasonRequestTimeout}
	ErrConnectTimeout = &Error{Category: CategoryTimeout, Reason: ReasonConnectTimeout}
	ErrUpgradeTimeout = &Error{Category: CategoryTimeout, Reason: ReasonUpgradeTimeout}
	ErrClosed         = &Error{Category: CategoryFatal, Reason: ReasonClosed}
	ErrAuthFailed     = &Error{Category: CategoryAuth, Reason: ReasonAuthFailed}
	ErrHandlerFailure = &Error{Category: CategoryHandler, Reason: ReasonHandlerFailure}
)
