// Package tws defines the events and requests exchanged with the gateway
// and the Transport that carries them.
package tws

import (
	"time"

	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	KindNextValidID       EventKind = "next_valid_id"
	KindOrderStatus       EventKind = "order_status"
	KindOpenOrder         EventKind = "open_order"
	KindOpenOrderEnd      EventKind = "open_order_end"
	KindPosition          EventKind = "position"
	KindPositionEnd       EventKind = "position_end"
	KindTickPrice         EventKind = "tick_price"
	KindTickSize          EventKind = "tick_size"
	KindTradeTick         EventKind = "tick_by_tick"
	KindHistoricalBar     EventKind = "historical_data"
	KindHistoricalDataEnd EventKind = "historical_data_end"
	KindTickSnapshotEnd   EventKind = "tick_snapshot_end"
	KindError             EventKind = "error"
	KindConnectionClosed  EventKind = "connection_closed"
)

// Event is one inbound gateway message.
type Event interface {
	Kind() EventKind
}

type NextValidID struct {
	OrderID int64 `json:"order_id"`
}

type OrderStatus struct {
	OrderID      int64           `json:"order_id"`
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	ParentID     int64           `json:"parent_id"`
	Time         time.Time       `json:"time"`
}

// OpenOrder is the gateway's full snapshot of one live order.
type OpenOrder struct {
	OrderID       int64             `json:"order_id"`
	Contract      models.Instrument `json:"contract"`
	Action        string            `json:"action"`
	OrderType     string            `json:"order_type"`
	TotalQuantity decimal.Decimal   `json:"total_quantity"`
	LmtPrice      decimal.Decimal   `json:"lmt_price"`
	AuxPrice      decimal.Decimal   `json:"aux_price"`
	TIF           string            `json:"tif"`
	OrderRef      string            `json:"order_ref"`
	ParentID      int64             `json:"parent_id"`
	Transmit      bool              `json:"transmit"`
	Status        string            `json:"status"`
	Time          time.Time         `json:"time"`
}

type OpenOrderEnd struct{}

type Position struct {
	Account  string            `json:"account"`
	Contract models.Instrument `json:"contract"`
	Quantity decimal.Decimal   `json:"position"`
	AvgCost  decimal.Decimal   `json:"avg_cost"`
}

type PositionEnd struct{}

type TickPrice struct {
	TickerID int64           `json:"ticker_id"`
	TickType int             `json:"tick_type"`
	Price    decimal.Decimal `json:"price"`
	Time     time.Time       `json:"time"`
}

type TickSize struct {
	TickerID int64     `json:"ticker_id"`
	TickType int       `json:"tick_type"`
	Size     int64     `json:"size"`
	Time     time.Time `json:"time"`
}

// TradeTick is a tick-by-tick Last or AllLast print.
type TradeTick struct {
	TickerID int64           `json:"ticker_id"`
	TickType int             `json:"tick_type"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Time     time.Time       `json:"time"`
}

type HistoricalBar struct {
	ReqID int64                `json:"req_id"`
	Bar   models.HistoricalBar `json:"bar"`
}

type HistoricalDataEnd struct {
	ReqID int64  `json:"req_id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type TickSnapshotEnd struct {
	TickerID int64 `json:"ticker_id"`
}

// ErrorMessage is the gateway's error event. ID is the order or request id
// it refers to, or -1 for connection level notices.
type ErrorMessage struct {
	ID      int64     `json:"id"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Err converts the event into a TransportError.
func (e ErrorMessage) Err() *TransportError {
	return &TransportError{ID: e.ID, Code: e.Code, Message: e.Message, Time: e.Time}
}

type ConnectionClosed struct {
	Reason string `json:"reason"`
}

func (NextValidID) Kind() EventKind       { return KindNextValidID }
func (OrderStatus) Kind() EventKind       { return KindOrderStatus }
func (OpenOrder) Kind() EventKind         { return KindOpenOrder }
func (OpenOrderEnd) Kind() EventKind      { return KindOpenOrderEnd }
func (Position) Kind() EventKind          { return KindPosition }
func (PositionEnd) Kind() EventKind       { return KindPositionEnd }
func (TickPrice) Kind() EventKind         { return KindTickPrice }
func (TickSize) Kind() EventKind          { return KindTickSize }
func (TradeTick) Kind() EventKind         { return KindTradeTick }
func (HistoricalBar) Kind() EventKind     { return KindHistoricalBar }
func (HistoricalDataEnd) Kind() EventKind { return KindHistoricalDataEnd }
func (TickSnapshotEnd) Kind() EventKind   { return KindTickSnapshotEnd }
func (ErrorMessage) Kind() EventKind      { return KindError }
func (ConnectionClosed) Kind() EventKind  { return KindConnectionClosed }

// Tick types used by the quote cache. Delayed variants carry the same
// meaning as their live counterparts.
const (
	TickBidSize        = 0
	TickBid            = 1
	TickAsk            = 2
	TickAskSize        = 3
	TickLast           = 4
	TickLastSize       = 5
	TickClose          = 9
	TickDelayedBid     = 66
	TickDelayedAsk     = 67
	TickDelayedLast    = 68
	TickDelayedBidSize = 69
	TickDelayedAskSize = 70
	TickDelayedClose   = 75
)

// Tick-by-tick print types.
const (
	TradeLast    = 1
	TradeAllLast = 2
)
