// Package twstest provides an in-memory Transport for tests.
package twstest

import (
	"context"
	"errors"
	"sync"

	"github.com/gregtusar/twsbridge/pkg/tws"
)

// Responder returns the events the gateway would send back for req.
type Responder func(req tws.Request) []tws.Event

// FakeTransport records sent requests and delivers injected events
// synchronously, one at a time, to the registered handler.
type FakeTransport struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	connected bool
	handler   func(tws.Event)
	sent      []tws.Request
	respond   Responder
	sendErr   error

	// NextValidID is delivered on Connect when positive.
	NextValidID int64
}

func New(respond Responder) *FakeTransport {
	return &FakeTransport{respond: respond}
}

func (f *FakeTransport) Connect(ctx context.Context, host string, port int, clientID int) error {
	f.mu.Lock()
	f.connected = true
	next := f.NextValidID
	f.mu.Unlock()

	if next > 0 {
		f.Emit(tws.NextValidID{OrderID: next})
	}
	return nil
}

func (f *FakeTransport) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.Emit(tws.ConnectionClosed{Reason: "disconnect requested"})
	return nil
}

func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeTransport) OnEvent(handler func(tws.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

// FailSends makes every later Send return err. Pass nil to clear.
func (f *FakeTransport) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *FakeTransport) Send(ctx context.Context, req tws.Request) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return errors.New("fake transport not connected")
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, req)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, ev := range respond(req) {
			f.Emit(ev)
		}
	}
	return nil
}

// Emit delivers ev as if the gateway had sent it.
func (f *FakeTransport) Emit(ev tws.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return
	}
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	h(ev)
}

// Sent returns a copy of every request sent so far.
func (f *FakeTransport) Sent() []tws.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tws.Request, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentOf returns the sent requests of one kind.
func (f *FakeTransport) SentOf(kind tws.RequestKind) []tws.Request {
	var out []tws.Request
	for _, r := range f.Sent() {
		if r.RequestKind() == kind {
			out = append(out, r)
		}
	}
	return out
}
