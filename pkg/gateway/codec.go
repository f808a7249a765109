package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gregtusar/twsbridge/pkg/tws"
)

// Envelope frames every message on the socket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Time    time.Time       `json:"time,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type decoder func(json.RawMessage) (tws.Event, error)

func decodeAs[T tws.Event](raw json.RawMessage) (tws.Event, error) {
	var ev T
	if len(raw) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

var decoders = map[tws.EventKind]decoder{
	tws.KindNextValidID:       decodeAs[tws.NextValidID],
	tws.KindOrderStatus:       decodeAs[tws.OrderStatus],
	tws.KindOpenOrder:         decodeAs[tws.OpenOrder],
	tws.KindOpenOrderEnd:      decodeAs[tws.OpenOrderEnd],
	tws.KindPosition:          decodeAs[tws.Position],
	tws.KindPositionEnd:       decodeAs[tws.PositionEnd],
	tws.KindTickPrice:         decodeAs[tws.TickPrice],
	tws.KindTickSize:          decodeAs[tws.TickSize],
	tws.KindTradeTick:         decodeAs[tws.TradeTick],
	tws.KindHistoricalBar:     decodeAs[tws.HistoricalBar],
	tws.KindHistoricalDataEnd: decodeAs[tws.HistoricalDataEnd],
	tws.KindTickSnapshotEnd:   decodeAs[tws.TickSnapshotEnd],
	tws.KindError:             decodeAs[tws.ErrorMessage],
	tws.KindConnectionClosed:  decodeAs[tws.ConnectionClosed],
}

// DecodeEvent turns an inbound envelope into an event. Unknown types
// return (nil, nil) so the reader can skip them. Timed events without a
// time of their own take the envelope's.
func DecodeEvent(env Envelope) (tws.Event, error) {
	decode, ok := decoders[tws.EventKind(env.Type)]
	if !ok {
		return nil, nil
	}
	ev, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
	}
	return stamp(ev, env.Time), nil
}

func stamp(ev tws.Event, t time.Time) tws.Event {
	if t.IsZero() {
		return ev
	}
	switch e := ev.(type) {
	case tws.OrderStatus:
		if e.Time.IsZero() {
			e.Time = t
		}
		return e
	case tws.OpenOrder:
		if e.Time.IsZero() {
			e.Time = t
		}
		return e
	case tws.TickPrice:
		if e.Time.IsZero() {
			e.Time = t
		}
		return e
	case tws.TickSize:
		if e.Time.IsZero() {
			e.Time = t
		}
		return e
	case tws.TradeTick:
		if e.Time.IsZero() {
			e.Time = t
		}
		return e
	case tws.ErrorMessage:
		if e.Time.IsZero() {
			e.Time = t
		}
		return e
	}
	return ev
}

// EncodeRequest frames an outbound request.
func EncodeRequest(req tws.Request, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", req.RequestKind(), err)
	}
	return Envelope{Type: string(req.RequestKind()), Time: now, Payload: payload}, nil
}

// EncodeEvent frames an event. Used by gateway-side test servers and the
// simulator's wire mode.
func EncodeEvent(ev tws.Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", ev.Kind(), err)
	}
	return Envelope{Type: string(ev.Kind()), Time: now, Payload: payload}, nil
}
