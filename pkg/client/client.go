// Package client implements the Client Façade of §4.9: the public API
// a caller actually uses - connect, send_text/send_json, subscribe,
// unsubscribe, authenticate, ping, status, close, register_callback -
// built entirely on top of connection.Actor, correlation.Table, and
// handlers.Registry. It owns no wire-protocol knowledge of its own.
//
// Grounded on the teacher's pkg/agent.Client (a thin wrapper exposing
// Send/Stream/Close over an internal runtime, with request correlation
// hidden from the caller) generalized from one-shot LLM calls to a
// long-lived, reconnecting WebSocket connection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wsresilient/pkg/connection"
	"wsresilient/pkg/correlation"
	"wsresilient/pkg/handlers"
	"wsresilient/pkg/logx"
	"wsresilient/pkg/metrics"
	"wsresilient/pkg/statemachine"
	"wsresilient/pkg/transport"
	"wsresilient/pkg/wsconfig"
)

// Client is the caller-facing handle to one managed WebSocket
// connection. All of its methods are safe for concurrent use: they
// either delegate to the underlying Actor's own mailbox-serialized
// methods or read immutable configuration.
type Client struct {
	actor *connection.Actor
}

// Option configures a Client before Connect.
type Option func(*options)

type options struct {
	registry *handlers.Registry
	sink     metrics.Sink
	logger   *logx.Logger
}

// WithHandlers supplies a pre-populated handler registry. If omitted,
// Connect starts with an empty registry (every operation behaves as
// NoHandler).
func WithHandlers(reg *handlers.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithMetricsSink wires an external metrics/logging collaborator.
func WithMetricsSink(sink metrics.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger overrides the default per-connection logger.
func WithLogger(logger *logx.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Connect builds a Client backed by tr and starts its first connection
// attempt immediately. ctx bounds the Client's entire lifetime;
// cancelling it shuts the actor down as a fatal failure (see
// connection.Actor.Start), not through Close. Use Status (or poll
// until it reports WebsocketConnected) to learn when the connection is
// ready to carry traffic.
func Connect(ctx context.Context, id connection.ActorID, cfg wsconfig.ConnectionConfig, tr transport.Transport, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = handlers.NewRegistry()
	}

	actor := connection.NewActor(id, cfg, tr, o.registry, o.sink, o.logger)
	actor.Start(ctx)
	return &Client{actor: actor}, nil
}

// Status reports the connection's current state machine status.
func (c *Client) Status() statemachine.Status { return c.actor.GetStatus() }

// Close tears the connection down: pending requests fail with
// ErrClosed, the transport handle closes, and the actor's loop exits.
func (c *Client) Close() { c.actor.Close() }

// Done reports the channel closed once the underlying actor's loop has
// fully stopped, whether from Close or a fatal, unrecoverable error.
func (c *Client) Done() <-chan struct{} { return c.actor.Done() }

// RegisterCallback subscribes ch to unsolicited CallbackEvents - raw
// frames, connection lifecycle transitions, and fatal failures - under
// id.
func (c *Client) RegisterCallback(id string, ch chan<- connection.CallbackEvent) {
	c.actor.RegisterCallback(id, ch)
}

// UnregisterCallback removes a previously registered callback.
func (c *Client) UnregisterCallback(id string) {
	c.actor.UnregisterCallback(id)
}

// SendText sends a correlated text frame and blocks for its reply, up
// to timeout. The registered message handler's EncodeMessage is used
// to turn payload into wire bytes; with no message handler (or none
// implementing EncodeMessage) payload falls back to plain JSON.
func (c *Client) SendText(ctx context.Context, kind string, payload any, timeout time.Duration) (correlation.Reply, error) {
	return c.sendCorrelated(ctx, transport.FrameText, kind, payload, timeout)
}

// SendJSON marshals v with an injected top-level numeric "id" field,
// sends it as a correlated text frame, and unmarshals the reply payload
// into out (if out is non-nil). v is run through the registered message
// handler's EncodeMessage first, same as SendText, falling back to
// plain JSON when no handler is registered.
func (c *Client) SendJSON(ctx context.Context, v any, out any, timeout time.Duration) error {
	id := c.actor.NextCorrelationID()
	encoded, err := c.encodePayload("", v)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}
	envelope, err := withCorrelationID(id, encoded)
	if err != nil {
		return fmt.Errorf("client: marshal request: %w", err)
	}

	replyCh := make(chan correlation.Reply, 1)
	result := c.actor.SendFrame(transport.Frame{Type: transport.FrameText, Data: envelope}, replyCh, connection.SendOptions{
		Timeout: timeout, Correlated: true, CorrelationID: id,
	})
	if result.Outcome == connection.SendError {
		return result.Err
	}

	reply, err := waitForReply(ctx, replyCh, timeout)
	if err != nil {
		return err
	}
	if reply.Err != nil {
		return reply.Err
	}
	if out == nil {
		return nil
	}
	data, ok := reply.Payload.([]byte)
	if !ok {
		return fmt.Errorf("client: reply payload is not raw bytes")
	}
	return json.Unmarshal(data, out)
}

func (c *Client) sendCorrelated(ctx context.Context, frameType transport.FrameType, kind string, payload any, timeout time.Duration) (correlation.Reply, error) {
	id := c.actor.NextCorrelationID()
	encoded, err := c.encodePayload(kind, payload)
	if err != nil {
		return correlation.Reply{}, fmt.Errorf("client: encode request: %w", err)
	}
	envelope, err := withCorrelationID(id, encoded)
	if err != nil {
		return correlation.Reply{}, fmt.Errorf("client: marshal request: %w", err)
	}

	replyCh := make(chan correlation.Reply, 1)
	result := c.actor.SendFrame(transport.Frame{Type: frameType, Data: envelope}, replyCh, connection.SendOptions{
		Timeout: timeout, Correlated: true, CorrelationID: id, CostKind: kind,
	})
	if result.Outcome == connection.SendError {
		return correlation.Reply{}, result.Err
	}
	return waitForReply(ctx, replyCh, timeout)
}

func waitForReply(ctx context.Context, ch <-chan correlation.Reply, timeout time.Duration) (correlation.Reply, error) {
	timer := time.NewTimer(timeout + 50*time.Millisecond)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return correlation.Reply{}, ctx.Err()
	case <-timer.C:
		return correlation.Reply{}, fmt.Errorf("client: no reply delivered within %s", timeout)
	}
}

// encodePayload turns payload into wire bytes via the registered
// message handler's EncodeMessage, falling back to plain JSON when no
// message handler is registered or none implements EncodeMessage. A
// handler that reports an error or stop directive fails the send.
func (c *Client) encodePayload(kind string, payload any) ([]byte, error) {
	data, directive := c.actor.EncodeMessage(kind, payload)
	switch directive.Kind {
	case handlers.DirectiveNoHandler, handlers.DirectiveNoOperation:
		return json.Marshal(payload)
	case handlers.DirectiveError, handlers.DirectiveStop:
		return nil, fmt.Errorf("client: encode_message: %s", directive.Reason)
	default:
		return data, nil
	}
}

// withCorrelationID takes already-encoded wire bytes for a JSON object
// and injects a top-level numeric "id" field, matching the correlation
// id the core's default extractCorrelationID logic looks for.
func withCorrelationID(id correlation.ID, data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// v did not marshal to a JSON object (e.g. a scalar or array);
		// wrap it so an id can still be attached.
		fields = map[string]json.RawMessage{"payload": data}
	}
	idBytes, err := json.Marshal(uint64(id))
	if err != nil {
		return nil, err
	}
	fields["id"] = idBytes
	return json.Marshal(fields)
}

// Subscribe issues subscription.subscribe(channel, params) against the
// registered subscription handler.
func (c *Client) Subscribe(channel string, params any) handlers.Directive {
	return c.actor.Subscribe(channel, params)
}

// Unsubscribe issues subscription.unsubscribe(channel).
func (c *Client) Unsubscribe(channel string) handlers.Directive {
	return c.actor.Unsubscribe(channel)
}

// Authenticate issues an explicit auth.authenticate call against the
// registered auth handler, outside the automatic post-reconnect
// restoration pipeline.
func (c *Client) Authenticate(credentials any) handlers.Directive {
	return c.actor.Authenticate(credentials)
}

// Ping issues connection.ping against the registered connection
// handler.
func (c *Client) Ping() handlers.Directive {
	return c.actor.Ping()
}

// ActiveSubscriptions returns the subscription handler's current view
// of confirmed/pending/failed subscriptions.
func (c *Client) ActiveSubscriptions() ([]handlers.SubscriptionRecord, bool) {
	return c.actor.ActiveSubscriptions()
}
