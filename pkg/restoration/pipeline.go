// Package restoration implements the ordered replay run on every entry
// into WebsocketConnected (§4.8): reauth, then best-effort concurrent
// resubscription of every confirmed subscription in insertion order,
// then a caller-supplied buffer flush. The auth step is the one
// suspension point this package introduces into the owning actor's
// body - a plain blocking call bounded by a deadline, matching §5's
// "awaiting a handler reply in the restoration auth step".
//
// Grounded on the teacher's supervisor.RestartPolicy (ordered recovery
// steps driven by a typed outcome) and pkg/effect.BaseRuntime's
// deadline-bounded ReceiveMessage.
package restoration

import (
	"errors"
	"time"

	"wsresilient/pkg/handlers"
)

// AuthOutcome is the result of the reauth step.
type AuthOutcome struct {
	Authenticated bool
	Fatal         bool
	Reason        string
}

// SubscribeOutcome is the per-channel result of the resubscribe step.
type SubscribeOutcome struct {
	Channel string
	Err     error
}

// Result is the full outcome of one restoration run.
type Result struct {
	Auth          AuthOutcome
	Subscriptions []SubscribeOutcome
}

// Run executes the pipeline. flush is called only after auth succeeds
// (or no auth handler needs to run) and resubscription has been issued,
// preserving the ordering invariant that no buffered request reaches
// the wire before auth has had its chance.
func Run(inv *handlers.Invoker, authDeadline time.Duration, stream, credentials any, confirmed []handlers.SubscriptionRecord, flush func()) Result {
	auth := Authenticate(inv, authDeadline, stream, credentials)
	if !auth.Authenticated {
		return Result{Auth: auth}
	}

	subs := Resubscribe(inv, confirmed)
	flush()
	return Result{Auth: auth, Subscriptions: subs}
}

// Authenticate invokes auth.authenticate if the registered auth handler
// reports NeedsReauthentication, bounding the wait at authDeadline. Per
// §4.8 the credentials handed to authenticate are derived fresh for
// this attempt via generate_auth_data rather than reused statically;
// credentials is used as-is only when no auth handler implements
// generate_auth_data. A handler returning Stop is fatal; Error is
// recoverable; no handler or no reauth needed is treated as already
// authenticated.
func Authenticate(inv *handlers.Invoker, authDeadline time.Duration, stream, credentials any) AuthOutcome {
	if !inv.NeedsReauthentication() {
		return AuthOutcome{Authenticated: true}
	}

	generated, genDirective := inv.GenerateAuthData()
	switch genDirective.Kind {
	case handlers.DirectiveOk, handlers.DirectiveReply:
		credentials = generated
	case handlers.DirectiveStop:
		return AuthOutcome{Fatal: true, Reason: genDirective.Reason}
	case handlers.DirectiveError:
		return AuthOutcome{Reason: genDirective.Reason}
	}

	directive := callWithDeadline(authDeadline, func() handlers.Directive {
		return inv.Authenticate(stream, credentials)
	})

	switch directive.Kind {
	case handlers.DirectiveOk, handlers.DirectiveReply:
		return AuthOutcome{Authenticated: true}
	case handlers.DirectiveStop:
		return AuthOutcome{Fatal: true, Reason: directive.Reason}
	case handlers.DirectiveError:
		return AuthOutcome{Reason: directive.Reason}
	case handlers.DirectiveNoHandler, handlers.DirectiveNoOperation:
		return AuthOutcome{Authenticated: true}
	default:
		return AuthOutcome{Authenticated: true}
	}
}

// Resubscribe issues subscribe for every confirmed record in insertion
// order. Issuing is synchronous (each call just writes the wire
// message); confirmations arrive later via handle_subscription_response
// and are not waited on here, which is what makes this "best-effort and
// concurrent" without sacrificing issue order.
func Resubscribe(inv *handlers.Invoker, confirmed []handlers.SubscriptionRecord) []SubscribeOutcome {
	results := make([]SubscribeOutcome, 0, len(confirmed))
	for _, rec := range confirmed {
		d := inv.Subscribe(rec.Channel, rec.Params)
		out := SubscribeOutcome{Channel: rec.Channel}
		if d.Kind == handlers.DirectiveError || d.Kind == handlers.DirectiveStop {
			out.Err = errors.New(d.Reason)
		}
		results = append(results, out)
	}
	return results
}

// callWithDeadline enforces authDeadline around fn even though fn is an
// ordinary blocking call, by running it on its own goroutine and racing
// it against a timer. A timeout is reported as a Stop directive so the
// caller treats it the same as an explicit auth failure.
func callWithDeadline(deadline time.Duration, fn func() handlers.Directive) handlers.Directive {
	if deadline <= 0 {
		return fn()
	}
	resultCh := make(chan handlers.Directive, 1)
	go func() { resultCh <- fn() }()
	select {
	case d := <-resultCh:
		return d
	case <-time.After(deadline):
		return handlers.Stop("auth_timeout", nil)
	}
}
