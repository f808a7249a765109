package tws

import (
	"github.com/gregtusar/twsbridge/pkg/models"
)

type RequestKind string

const (
	ReqKindPlaceOrder           RequestKind = "place_order"
	ReqKindCancelOrder          RequestKind = "cancel_order"
	ReqKindAllOpenOrders        RequestKind = "req_all_open_orders"
	ReqKindPositions            RequestKind = "req_positions"
	ReqKindCancelPositions      RequestKind = "cancel_positions"
	ReqKindMktData              RequestKind = "req_mkt_data"
	ReqKindCancelMktData        RequestKind = "cancel_mkt_data"
	ReqKindTickByTick           RequestKind = "req_tick_by_tick"
	ReqKindCancelTickByTick     RequestKind = "cancel_tick_by_tick"
	ReqKindHistoricalData       RequestKind = "req_historical_data"
	ReqKindCancelHistoricalData RequestKind = "cancel_historical_data"
	ReqKindIDs                  RequestKind = "req_ids"
)

// Request is one outbound gateway message.
type Request interface {
	RequestKind() RequestKind
}

// PlaceOrder submits or, when OrderID is already live, modifies an order.
type PlaceOrder struct {
	OrderID  int64             `json:"order_id"`
	Contract models.Instrument `json:"contract"`
	Order    models.Order      `json:"order"`
}

type CancelOrder struct {
	OrderID int64 `json:"order_id"`
}

type ReqAllOpenOrders struct{}

type ReqPositions struct{}

type CancelPositions struct{}

type ReqMktData struct {
	TickerID     int64             `json:"ticker_id"`
	Contract     models.Instrument `json:"contract"`
	GenericTicks string            `json:"generic_ticks"`
	Snapshot     bool              `json:"snapshot"`
}

type CancelMktData struct {
	TickerID int64 `json:"ticker_id"`
}

type ReqTickByTick struct {
	TickerID int64             `json:"ticker_id"`
	Contract models.Instrument `json:"contract"`
	TickType string            `json:"tick_type"`
}

type CancelTickByTick struct {
	TickerID int64 `json:"ticker_id"`
}

type ReqHistoricalData struct {
	ReqID       int64             `json:"req_id"`
	Contract    models.Instrument `json:"contract"`
	EndDateTime string            `json:"end_date_time"`
	Duration    string            `json:"duration"`
	BarSize     string            `json:"bar_size"`
	WhatToShow  string            `json:"what_to_show"`
	UseRTH      bool              `json:"use_rth"`
}

type CancelHistoricalData struct {
	ReqID int64 `json:"req_id"`
}

type ReqIDs struct {
	NumIDs int `json:"num_ids"`
}

func (PlaceOrder) RequestKind() RequestKind           { return ReqKindPlaceOrder }
func (CancelOrder) RequestKind() RequestKind          { return ReqKindCancelOrder }
func (ReqAllOpenOrders) RequestKind() RequestKind     { return ReqKindAllOpenOrders }
func (ReqPositions) RequestKind() RequestKind         { return ReqKindPositions }
func (CancelPositions) RequestKind() RequestKind      { return ReqKindCancelPositions }
func (ReqMktData) RequestKind() RequestKind           { return ReqKindMktData }
func (CancelMktData) RequestKind() RequestKind        { return ReqKindCancelMktData }
func (ReqTickByTick) RequestKind() RequestKind        { return ReqKindTickByTick }
func (CancelTickByTick) RequestKind() RequestKind     { return ReqKindCancelTickByTick }
func (ReqHistoricalData) RequestKind() RequestKind    { return ReqKindHistoricalData }
func (CancelHistoricalData) RequestKind() RequestKind { return ReqKindCancelHistoricalData }
func (ReqIDs) RequestKind() RequestKind               { return ReqKindIDs }
