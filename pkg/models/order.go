package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	OrderID     int64               `json:"order_id"`
	ClientRef   string              `json:"client_ref"`
	Symbol      string              `json:"symbol"`
	AssetType   AssetType           `json:"asset_type"`
	Side        OrderSide           `json:"side"`
	Type        OrderType           `json:"order_type"`
	TimeInForce string              `json:"time_in_force"`
	Quantity    decimal.Decimal     `json:"quantity"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	Status      OrderStatus         `json:"status"`
	ParentID    int64               `json:"parent_id,omitempty"`
	Transmit    bool                `json:"transmit"`
	LastUpdated time.Time           `json:"last_updated"`
}

// IsChild reports whether the order is a contingent leg of a bracket.
func (o Order) IsChild() bool {
	return o.ParentID != 0
}

type AssetType string

const (
	AssetTypeEquity AssetType = "STK"
	AssetTypeOption AssetType = "OPT"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP LMT"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "Pending"
	OrderStatusBracketPending OrderStatus = "Bracket Pending"
	OrderStatusModified       OrderStatus = "Modified"
	OrderStatusPendingSubmit  OrderStatus = "PendingSubmit"
	OrderStatusPreSubmitted   OrderStatus = "PreSubmitted"
	OrderStatusSubmitted      OrderStatus = "Submitted"
	OrderStatusPendingCancel  OrderStatus = "PendingCancel"
	OrderStatusApiCancelled   OrderStatus = "ApiCancelled"
	OrderStatusCancelled      OrderStatus = "Cancelled"
	OrderStatusFilled         OrderStatus = "Filled"
	OrderStatusInactive       OrderStatus = "Inactive"
)

// Terminal reports whether the broker will send no further transitions for the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusApiCancelled:
		return true
	}
	return false
}

// OrderRequest is what a caller hands to the bridge to place a new order.
// A non-zero TakeProfitPrice together with a non-zero StopLossPrice turns
// the request into a bracket.
type OrderRequest struct {
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"order_type"`
	Quantity        decimal.Decimal `json:"quantity"`
	TimeInForce     string          `json:"time_in_force"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	StopPrice       decimal.Decimal `json:"stop_price"`
	ClientRef       string          `json:"client_ref"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
}

func (r OrderRequest) IsBracket() bool {
	return r.TakeProfitPrice.IsPositive() || r.StopLossPrice.IsPositive()
}
