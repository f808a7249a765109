package tws

import (
	"context"
	"fmt"
	"time"
)

// Transport carries requests to the gateway and delivers its events, in
// arrival order, from a single reader goroutine.
type Transport interface {
	Connect(ctx context.Context, host string, port int, clientID int) error
	Disconnect() error
	IsConnected() bool
	Send(ctx context.Context, req Request) error
	OnEvent(handler func(Event))
}

// TransportError is a gateway-side error tied to an order or request id.
type TransportError struct {
	ID      int64
	Code    int
	Message string
	Time    time.Time
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway error %d (id %d): %s", e.Code, e.ID, e.Message)
}

// Informational reports whether the code is a farm/connectivity notice
// rather than a failure of a specific request.
func (e *TransportError) Informational() bool {
	return e.Code >= 2100 && e.Code < 2200
}

// Warning reports codes that carry an id but do not fail the request:
// cancel confirmations, order warnings and delayed market data notices.
func (e *TransportError) Warning() bool {
	switch e.Code {
	case 202, 399, 10167:
		return true
	}
	return false
}
