// Package faketransport is a scriptable transport.Transport double used
// by connection and client tests to script the AwaitUp/WSUpgrade
// outcomes and emit frame and transport_down events without a real
// socket.
//
// Grounded on the teacher's pattern of mock/fake dependencies for
// driver-level tests (internal/supervisor/supervisor_test.go,
// pkg/dispatch's test doubles) now that pkg/testkit itself is gone.
package faketransport

import (
	"context"
	"sync"
	"time"

	"wsresilient/pkg/transport"
)

type handle struct {
	mu     sync.Mutex
	events chan<- transport.Event
	sent   []transport.Frame
	closed bool
}

// Fake is a transport.Transport whose behavior on Open/AwaitUp/WSUpgrade
// is entirely configured by the Err/Protocol/Stream fields, and whose
// inbound events are injected by the test via Emit.
type Fake struct {
	OpenErr    error
	AwaitUpErr error
	Protocol   string
	UpgradeErr error
	Stream     transport.StreamRef
	SendErr    error

	mu      sync.Mutex
	handles []*handle
}

// New returns a Fake with sensible defaults (protocol "http/1.1", a
// single stream ref "stream-1").
func New() *Fake {
	return &Fake{Protocol: "http/1.1", Stream: "stream-1"}
}

func (f *Fake) Open(_ context.Context, _ string, _ int, _ transport.Options, events chan<- transport.Event) (transport.Handle, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	h := &handle{events: events}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *Fake) AwaitUp(_ context.Context, _ transport.Handle, _ time.Duration) (string, error) {
	if f.AwaitUpErr != nil {
		return "", f.AwaitUpErr
	}
	return f.Protocol, nil
}

func (f *Fake) WSUpgrade(_ context.Context, _ transport.Handle, _ string, _ map[string][]string) (transport.StreamRef, error) {
	if f.UpgradeErr != nil {
		return "", f.UpgradeErr
	}
	return f.Stream, nil
}

func (f *Fake) WSSend(h transport.Handle, _ transport.StreamRef, frame transport.Frame) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	hd := h.(*handle)
	hd.mu.Lock()
	hd.sent = append(hd.sent, frame)
	hd.mu.Unlock()
	return nil
}

func (f *Fake) SetOwner(h transport.Handle, events chan<- transport.Event) {
	hd := h.(*handle)
	hd.mu.Lock()
	hd.events = events
	hd.mu.Unlock()
}

func (f *Fake) Close(h transport.Handle) error {
	hd := h.(*handle)
	hd.mu.Lock()
	hd.closed = true
	hd.mu.Unlock()
	return nil
}

func (f *Fake) Info(h transport.Handle) map[string]any {
	hd := h.(*handle)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return map[string]any{"closed": hd.closed, "sent": len(hd.sent)}
}

// Emit delivers e to h's current owner channel, simulating an
// asynchronous transport event arriving from the network.
func (f *Fake) Emit(h transport.Handle, e transport.Event) {
	hd := h.(*handle)
	hd.mu.Lock()
	ch := hd.events
	hd.mu.Unlock()
	if ch != nil {
		ch <- e
	}
}

// SentFrames returns a copy of every frame written via WSSend on h, in
// send order.
func SentFrames(h transport.Handle) []transport.Frame {
	hd := h.(*handle)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	out := make([]transport.Frame, len(hd.sent))
	copy(out, hd.sent)
	return out
}

// IsClosed reports whether Close was called on h.
func IsClosed(h transport.Handle) bool {
	hd := h.(*handle)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.closed
}

// LastHandle returns the most recently opened handle, letting tests
// that drive multiple reconnect attempts get at whichever handle is
// currently live without threading it back out of the actor under test.
func (f *Fake) LastHandle() transport.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

// HandleCount reports how many times Open has been called, i.e. how
// many connection attempts have been made.
func (f *Fake) HandleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}
