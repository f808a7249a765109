package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is the structured contract description the gateway expects.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	SecType     AssetType       `json:"sec_type"`
	Exchange    string          `json:"exchange"`
	Currency    string          `json:"currency"`
	Expiry      string          `json:"expiry,omitempty"`
	Right       string          `json:"right,omitempty"`
	Strike      decimal.Decimal `json:"strike"`
	Multiplier  string          `json:"multiplier,omitempty"`
	LocalSymbol string          `json:"local_symbol,omitempty"`
}

type Quote struct {
	TickerID   int64           `json:"ticker_id"`
	Symbol     string          `json:"symbol"`
	BidPrice   decimal.Decimal `json:"bid_price"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	LastPrice  decimal.Decimal `json:"last_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	BidSize    int64           `json:"bid_size"`
	AskSize    int64           `json:"ask_size"`
	Timestamp  time.Time       `json:"timestamp"`
}

type TradeTick struct {
	TickerID  int64           `json:"ticker_id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	TickType  int             `json:"tick_type"`
	Timestamp time.Time       `json:"timestamp"`
}

type Position struct {
	Account  string          `json:"account"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

type HistoricalBar struct {
	Time   string          `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}
