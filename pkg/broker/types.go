package broker

import (
	"errors"
	"time"

	"github.com/gregtusar/twsbridge/pkg/correlator"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/pending"
)

var (
	ErrNotConnected        = errors.New("not connected to gateway")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// Timeouts bound each wait on the gateway. A wait that runs out returns
// the cached state with OutcomeTimedOut instead of an error.
type Timeouts struct {
	NextValidID time.Duration
	OrderAck    time.Duration
	Cancel      time.Duration
	Modify      time.Duration
	OpenOrders  time.Duration
	Positions   time.Duration
	Quotes      time.Duration
	Trades      time.Duration
	Historical  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		NextValidID: 2 * time.Second,
		OrderAck:    500 * time.Millisecond,
		Cancel:      time.Second,
		Modify:      time.Second,
		OpenOrders:  time.Second,
		Positions:   time.Second,
		Quotes:      time.Second,
		Trades:      500 * time.Millisecond,
		Historical:  2 * time.Second,
	}
}

// withDefaults fills every unset or negative timeout from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.NextValidID, d.NextValidID)
	fill(&t.OrderAck, d.OrderAck)
	fill(&t.Cancel, d.Cancel)
	fill(&t.Modify, d.Modify)
	fill(&t.OpenOrders, d.OpenOrders)
	fill(&t.Positions, d.Positions)
	fill(&t.Quotes, d.Quotes)
	fill(&t.Trades, d.Trades)
	fill(&t.Historical, d.Historical)
	return t
}

type Config struct {
	Host     string
	Port     int
	ClientID int

	Timeouts Timeouts

	// RequestIDBase starts the ticker/request id sequence well above any
	// order id the gateway hands out.
	RequestIDBase   int64
	FallbackOrderID int64

	TradeLogCapacity int
	TradeLogMaxAge   time.Duration
}

// OrderResult is the best known state of an order after a bounded wait.
type OrderResult struct {
	Order   models.Order    `json:"order"`
	Legs    []models.Order  `json:"legs,omitempty"`
	Outcome pending.Outcome `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
}

type OrderList struct {
	Orders  []models.Order  `json:"orders"`
	Outcome pending.Outcome `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
}

type PositionList struct {
	Positions []models.Position `json:"positions"`
	Outcome   pending.Outcome   `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
}

type PositionResult struct {
	Position models.Position `json:"position"`
	Found    bool            `json:"found"`
	Outcome  pending.Outcome `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
}

type Subscription struct {
	TickerID int64              `json:"ticker_id"`
	Symbol   string             `json:"symbol"`
	Channel  correlator.Channel `json:"channel"`
}

type QuoteResult struct {
	Quotes  []models.Quote  `json:"quotes"`
	Outcome pending.Outcome `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
}

type TradeResult struct {
	Trades  []models.TradeTick `json:"trades"`
	Outcome pending.Outcome    `json:"outcome"`
	Reason  string             `json:"reason,omitempty"`
}

// HistoricalRequest describes one bar download. Empty fields take the
// gateway's usual defaults.
type HistoricalRequest struct {
	Symbol      string `json:"symbol"`
	EndDateTime string `json:"end"`
	Duration    string `json:"duration"`
	BarSize     string `json:"bar_size"`
	WhatToShow  string `json:"what_to_show"`
	UseRTH      *bool  `json:"use_rth,omitempty"`
	Limit       int    `json:"limit"`
}

type HistoricalResult struct {
	RequestID int64                  `json:"request_id"`
	Bars      []models.HistoricalBar `json:"bars"`
	Outcome   pending.Outcome        `json:"outcome"`
	Reason    string                 `json:"reason,omitempty"`
}

// combine folds several wait outcomes into one. A rejection outranks a
// timeout, which outranks a confirmation.
func combine(outcomes []pending.Outcome) pending.Outcome {
	out := pending.OutcomeConfirmed
	for _, o := range outcomes {
		switch o {
		case pending.OutcomeRejected:
			return pending.OutcomeRejected
		case pending.OutcomeTimedOut:
			out = pending.OutcomeTimedOut
		}
	}
	return out
}

func reason(err error) string {
	if err == nil || errors.Is(err, pending.ErrTimedOut) {
		return ""
	}
	return err.Error()
}
