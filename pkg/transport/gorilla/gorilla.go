// Package gorilla adapts github.com/gorilla/websocket to the
// transport.Transport boundary. gorilla/websocket performs the TCP
// connect, HTTP handshake, and WebSocket upgrade in one DialContext
// call, so this adapter folds await_up and ws_upgrade onto that single
// dial: AwaitUp does the real network dial and stores the resulting
// stream ref; WSUpgrade, called afterward per the core's call sequence,
// simply hands that ref back. This preserves the three-step call shape
// §6 specifies while being honest that gorilla has no separable upgrade
// step.
//
// Grounded on the prevalence of gorilla/websocket across the
// other_examples/ exchange-client adapters (kraken, binance, saxo) and
// its presence as an indirect dependency of the teacher, promoted here
// to the one direct transport binding.
package gorilla

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wsresilient/pkg/transport"
	"wsresilient/pkg/wserrors"
)

// Transport implements transport.Transport over gorilla/websocket.
type Transport struct{}

// New returns a ready-to-use Transport.
func New() *Transport { return &Transport{} }

type handle struct {
	mu        sync.Mutex
	url       string
	opts      transport.Options
	conn      *websocket.Conn
	streamRef transport.StreamRef
	events    chan<- transport.Event
	closed    bool
	done      chan struct{}
}

func (t *Transport) Open(_ context.Context, host string, port int, opts transport.Options, events chan<- transport.Event) (transport.Handle, error) {
	scheme := "ws"
	if opts.Secure {
		scheme = "wss"
	}
	return &handle{
		url:    fmt.Sprintf("%s://%s:%d", scheme, host, port),
		opts:   opts,
		events: events,
		done:   make(chan struct{}),
	}, nil
}

func (t *Transport) AwaitUp(ctx context.Context, h transport.Handle, timeout time.Duration) (string, error) {
	hd, ok := h.(*handle)
	if !ok {
		return "", wserrors.NewTransportError(wserrors.ReasonNoTransport, nil)
	}

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	header := http.Header(hd.opts.Headers)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, hd.url, header)
	if err != nil {
		return "", wserrors.NewTransportError(wserrors.ReasonAwaitUpFailed, err)
	}

	hd.mu.Lock()
	hd.conn = conn
	hd.streamRef = transport.StreamRef(uuid.NewString())
	hd.mu.Unlock()

	go hd.pump()

	proto := "http/1.1"
	if resp != nil && resp.Proto != "" {
		proto = resp.Proto
	}
	return proto, nil
}

func (t *Transport) WSUpgrade(_ context.Context, h transport.Handle, _ string, _ map[string][]string) (transport.StreamRef, error) {
	hd, ok := h.(*handle)
	if !ok {
		return "", wserrors.NewTransportError(wserrors.ReasonNoTransport, nil)
	}
	hd.mu.Lock()
	defer hd.mu.Unlock()
	if hd.conn == nil {
		return "", wserrors.NewTransportError(wserrors.ReasonUpgradeFailed, errors.New("await_up has not completed"))
	}
	return hd.streamRef, nil
}

func (t *Transport) WSSend(h transport.Handle, stream transport.StreamRef, frame transport.Frame) error {
	hd, ok := h.(*handle)
	if !ok {
		return wserrors.NewTransportError(wserrors.ReasonNoTransport, nil)
	}
	hd.mu.Lock()
	conn, ref := hd.conn, hd.streamRef
	hd.mu.Unlock()

	if conn == nil {
		return wserrors.NewTransportError(wserrors.ReasonNoTransport, nil)
	}
	if stream != ref {
		return wserrors.NewTransportError(wserrors.ReasonStreamNotFound, nil)
	}

	switch frame.Type {
	case transport.FrameText:
		return conn.WriteMessage(websocket.TextMessage, frame.Data)
	case transport.FrameBinary:
		return conn.WriteMessage(websocket.BinaryMessage, frame.Data)
	case transport.FramePing:
		return conn.WriteControl(websocket.PingMessage, frame.Data, time.Now().Add(5*time.Second))
	case transport.FramePong:
		return conn.WriteControl(websocket.PongMessage, frame.Data, time.Now().Add(5*time.Second))
	case transport.FrameClose:
		return conn.WriteControl(websocket.CloseMessage, frame.Data, time.Now().Add(5*time.Second))
	default:
		return wserrors.NewProtocolError(wserrors.ReasonMalformedFrame, nil)
	}
}

func (t *Transport) SetOwner(h transport.Handle, events chan<- transport.Event) {
	hd, ok := h.(*handle)
	if !ok {
		return
	}
	hd.mu.Lock()
	hd.events = events
	hd.mu.Unlock()
}

func (t *Transport) Close(h transport.Handle) error {
	hd, ok := h.(*handle)
	if !ok {
		return wserrors.NewTransportError(wserrors.ReasonNoTransport, nil)
	}
	hd.mu.Lock()
	if hd.closed {
		hd.mu.Unlock()
		return nil
	}
	hd.closed = true
	conn := hd.conn
	hd.mu.Unlock()

	close(hd.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Transport) Info(h transport.Handle) map[string]any {
	hd, ok := h.(*handle)
	if !ok {
		return map[string]any{}
	}
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return map[string]any{
		"url":    hd.url,
		"stream": hd.streamRef,
		"closed": hd.closed,
	}
}

func (hd *handle) pump() {
	for {
		msgType, data, err := hd.conn.ReadMessage()
		if err != nil {
			hd.emit(transport.Event{Kind: transport.EventDown, Reason: err.Error()})
			return
		}
		ft, ok := wireFrameType(msgType)
		if !ok {
			continue
		}
		hd.emit(transport.Event{
			Kind:  transport.EventFrame,
			Stream: hd.streamRef,
			Frame: transport.Frame{Type: ft, Data: data},
		})
	}
}

func (hd *handle) emit(e transport.Event) {
	hd.mu.Lock()
	ch := hd.events
	hd.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- e:
	case <-hd.done:
	}
}

func wireFrameType(msgType int) (transport.FrameType, bool) {
	switch msgType {
	case websocket.TextMessage:
		return transport.FrameText, true
	case websocket.BinaryMessage:
		return transport.FrameBinary, true
	case websocket.PingMessage:
		return transport.FramePing, true
	case websocket.PongMessage:
		return transport.FramePong, true
	case websocket.CloseMessage:
		return transport.FrameClose, true
	default:
		return 0, false
	}
}
