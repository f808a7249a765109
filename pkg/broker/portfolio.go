package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/correlator"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/pending"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/sirupsen/logrus"
)

// Positions rebuilds the position snapshot from the gateway and waits for
// the end-of-positions marker. Readers racing the refresh may see a partial
// list.
func (c *Client) Positions(ctx context.Context) (PositionList, error) {
	if !c.IsConnected() {
		return PositionList{}, ErrNotConnected
	}

	done := c.ends.Register(endPositions)
	c.positions.Begin()
	if err := c.send(ctx, tws.ReqPositions{}); err != nil {
		c.ends.Forget(endPositions)
		c.positions.End()
		return PositionList{}, err
	}

	outcome, waitErr := await(ctx, c, "positions", done, c.timeouts.Positions)
	if outcome != pending.OutcomeConfirmed {
		c.ends.Forget(endPositions)
		c.positions.End()
	}
	if err := c.send(ctx, tws.CancelPositions{}); err != nil {
		c.logger.WithError(err).Warn("Failed to stop position updates")
	}
	return PositionList{Positions: c.positions.Snapshot(), Outcome: outcome, Reason: reason(waitErr)}, nil
}

// Position refreshes positions and returns the one held in symbol. Found is
// false when there is none.
func (c *Client) Position(ctx context.Context, symbol string) (PositionResult, error) {
	inst, err := contract.ToInstrument(symbol)
	if err != nil {
		return PositionResult{}, fmt.Errorf("failed to map symbol %q: %w", symbol, err)
	}
	list, err := c.Positions(ctx)
	if err != nil {
		return PositionResult{}, err
	}

	res := PositionResult{Outcome: list.Outcome, Reason: list.Reason}
	res.Position, res.Found = c.positions.Find(contract.FromInstrument(inst))
	if !res.Found {
		res.Position.Symbol = contract.FromInstrument(inst)
	}
	return res, nil
}

// HistoricalBars downloads bars for one symbol and waits for the end of
// history. On timeout the bars received so far are returned and the
// request is cancelled.
func (c *Client) HistoricalBars(ctx context.Context, req HistoricalRequest) (HistoricalResult, error) {
	if !c.IsConnected() {
		return HistoricalResult{}, ErrNotConnected
	}
	inst, err := contract.ToInstrument(req.Symbol)
	if err != nil {
		return HistoricalResult{}, fmt.Errorf("failed to map symbol %q: %w", req.Symbol, err)
	}
	symbol := contract.FromInstrument(inst)

	id := c.requestIDs.Next()
	c.correlator.RegisterRequest(id, symbol, correlator.KindHistorical, correlator.ChannelNone)
	c.history.Begin(id, symbol)
	defer func() {
		c.history.Drop(id)
		c.correlator.Unregister(id)
	}()

	done := c.ends.Register(id)
	msg := historicalRequest(id, inst, req)
	if err := c.send(ctx, msg); err != nil {
		c.ends.Forget(id)
		return HistoricalResult{}, err
	}
	c.logger.WithFields(logrus.Fields{
		"req_id":   id,
		"symbol":   symbol,
		"end":      msg.EndDateTime,
		"duration": msg.Duration,
		"bar_size": msg.BarSize,
	}).Info("Historical data requested")

	outcome, waitErr := await(ctx, c, "historical_bars", done, c.timeouts.Historical)
	if outcome == pending.OutcomeTimedOut {
		c.ends.Forget(id)
		if err := c.send(ctx, tws.CancelHistoricalData{ReqID: id}); err != nil {
			c.logger.WithError(err).WithField("req_id", id).Warn("Failed to cancel historical request")
		}
	}

	return HistoricalResult{
		RequestID: id,
		Bars:      c.history.Bars(id, req.Limit),
		Outcome:   outcome,
		Reason:    reason(waitErr),
	}, nil
}

func historicalRequest(id int64, inst models.Instrument, req HistoricalRequest) tws.ReqHistoricalData {
	msg := tws.ReqHistoricalData{
		ReqID:       id,
		Contract:    inst,
		EndDateTime: strings.TrimSpace(req.EndDateTime),
		Duration:    req.Duration,
		BarSize:     req.BarSize,
		WhatToShow:  strings.ToUpper(req.WhatToShow),
		UseRTH:      true,
	}
	if msg.Duration == "" {
		msg.Duration = "1 D"
	}
	if msg.BarSize == "" {
		msg.BarSize = "1 day"
	}
	if msg.WhatToShow == "" {
		msg.WhatToShow = "TRADES"
	}
	if req.UseRTH != nil {
		msg.UseRTH = *req.UseRTH
	}
	return msg
}
