package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/correlator"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/pending"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/sirupsen/logrus"
)

// tickByTickLast is the tick-by-tick feed carrying trade prints.
const tickByTickLast = "Last"

type resolved struct {
	symbol string
	inst   models.Instrument
}

// resolveSymbols maps every symbol before anything is sent, so a malformed
// entry aborts the whole call.
func resolveSymbols(symbols []string) ([]resolved, error) {
	out := make([]resolved, 0, len(symbols))
	for _, s := range symbols {
		if strings.TrimSpace(s) == "" {
			continue
		}
		inst, err := contract.ToInstrument(s)
		if err != nil {
			return nil, fmt.Errorf("failed to map symbol %q: %w", s, err)
		}
		out = append(out, resolved{symbol: contract.FromInstrument(inst), inst: inst})
	}
	return out, nil
}

// Subscribe opens one streaming subscription per symbol. Repeated calls for
// the same symbol open additional subscriptions.
func (c *Client) Subscribe(ctx context.Context, symbols []string, channel correlator.Channel) ([]Subscription, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if channel != correlator.ChannelQuote && channel != correlator.ChannelTrade {
		return nil, fmt.Errorf("unsupported channel %q", channel)
	}
	targets, err := resolveSymbols(symbols)
	if err != nil {
		return nil, err
	}

	subs := make([]Subscription, 0, len(targets))
	for _, t := range targets {
		id, _, err := c.subscribe(ctx, t, channel, false)
		if err != nil {
			return subs, err
		}
		subs = append(subs, Subscription{TickerID: id, Symbol: t.symbol, Channel: channel})
	}
	return subs, nil
}

// subscribe registers and requests one stream. With awaitFirst the first
// tick future is registered before the request goes out and returned.
func (c *Client) subscribe(ctx context.Context, t resolved, channel correlator.Channel, awaitFirst bool) (int64, *pending.Future[struct{}], error) {
	id := c.requestIDs.Next()
	c.correlator.RegisterRequest(id, t.symbol, correlator.KindSubscription, channel)
	var first *pending.Future[struct{}]
	if awaitFirst {
		first = c.firstTick.Register(id)
	}

	var req tws.Request = tws.ReqMktData{TickerID: id, Contract: t.inst}
	if channel == correlator.ChannelTrade {
		req = tws.ReqTickByTick{TickerID: id, Contract: t.inst, TickType: tickByTickLast}
	}
	if err := c.send(ctx, req); err != nil {
		c.correlator.Unregister(id)
		c.firstTick.Forget(id)
		return 0, nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"ticker_id": id,
		"symbol":    t.symbol,
		"channel":   channel,
	}).Info("Subscribed")
	return id, first, nil
}

// Unsubscribe cancels a standing subscription and forgets its quote.
func (c *Client) Unsubscribe(ctx context.Context, tickerID int64) error {
	entry, ok := c.correlator.LookupRequest(tickerID)
	if !ok || entry.Kind != correlator.KindSubscription {
		return fmt.Errorf("ticker %d: %w", tickerID, ErrUnknownSubscription)
	}

	var req tws.Request = tws.CancelMktData{TickerID: tickerID}
	if entry.Channel == correlator.ChannelTrade {
		req = tws.CancelTickByTick{TickerID: tickerID}
	}
	if err := c.send(ctx, req); err != nil {
		return err
	}
	c.correlator.Unregister(tickerID)
	c.firstTick.Forget(tickerID)
	c.quotes.Drop(tickerID)

	c.logger.WithFields(logrus.Fields{
		"ticker_id": tickerID,
		"symbol":    entry.Symbol,
	}).Info("Unsubscribed")
	return nil
}

func (c *Client) Subscriptions(channel correlator.Channel) []Subscription {
	entries := c.correlator.Subscriptions(channel)
	out := make([]Subscription, len(entries))
	for i, e := range entries {
		out[i] = Subscription{TickerID: e.RequestID, Symbol: e.Symbol, Channel: e.Channel}
	}
	return out
}

// ensureStreams makes sure each symbol has a subscription on channel and
// waits, up to timeout overall, for the first tick of any stream that has
// not produced data yet.
func (c *Client) ensureStreams(ctx context.Context, op string, targets []resolved, channel correlator.Channel, timeout time.Duration, hasData func(id int64, symbol string) bool) (pending.Outcome, error) {
	var waits []*pending.Future[struct{}]
	for _, t := range targets {
		if entry, ok := c.correlator.ActiveSubscription(t.symbol, channel); ok {
			if hasData(entry.RequestID, t.symbol) {
				continue
			}
			f := c.firstTick.Register(entry.RequestID)
			if hasData(entry.RequestID, t.symbol) {
				c.firstTick.Forget(entry.RequestID)
				continue
			}
			waits = append(waits, f)
			continue
		}

		_, first, err := c.subscribe(ctx, t, channel, true)
		if err != nil {
			return pending.OutcomeRejected, err
		}
		waits = append(waits, first)
	}
	if len(waits) == 0 {
		return pending.OutcomeConfirmed, nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcomes := make([]pending.Outcome, 0, len(waits))
	var firstErr error
	for _, f := range waits {
		outcome, err := await(waitCtx, c, op, f, 0)
		outcomes = append(outcomes, outcome)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return combine(outcomes), firstErr
}

func isGatewayError(err error) bool {
	var te *tws.TransportError
	return errors.As(err, &te)
}

// LatestQuotes subscribes to any symbol without a quote stream, waits a
// bounded time for first ticks and returns the freshest quote per symbol.
func (c *Client) LatestQuotes(ctx context.Context, symbols []string) (QuoteResult, error) {
	if !c.IsConnected() {
		return QuoteResult{}, ErrNotConnected
	}
	targets, err := resolveSymbols(symbols)
	if err != nil {
		return QuoteResult{}, err
	}

	outcome, waitErr := c.ensureStreams(ctx, "latest_quotes", targets, correlator.ChannelQuote, c.timeouts.Quotes,
		func(id int64, _ string) bool { return c.quotes.HasQuote(id) })
	if outcome == pending.OutcomeRejected && waitErr != nil && !isGatewayError(waitErr) {
		return QuoteResult{}, waitErr
	}

	quotes := make([]models.Quote, 0, len(targets))
	for _, t := range targets {
		if q, ok := c.quotes.LatestQuote(t.symbol); ok {
			quotes = append(quotes, q)
		}
	}
	return QuoteResult{Quotes: quotes, Outcome: outcome, Reason: reason(waitErr)}, nil
}

// SnapshotQuotes requests a one-off quote per symbol and waits for the
// gateway's end-of-snapshot marker.
func (c *Client) SnapshotQuotes(ctx context.Context, symbols []string) (QuoteResult, error) {
	if !c.IsConnected() {
		return QuoteResult{}, ErrNotConnected
	}
	targets, err := resolveSymbols(symbols)
	if err != nil {
		return QuoteResult{}, err
	}

	ids := make([]int64, 0, len(targets))
	waits := make([]*pending.Future[struct{}], 0, len(targets))
	for _, t := range targets {
		id := c.requestIDs.Next()
		c.correlator.RegisterRequest(id, t.symbol, correlator.KindSnapshot, correlator.ChannelQuote)
		f := c.ends.Register(id)
		if err := c.send(ctx, tws.ReqMktData{TickerID: id, Contract: t.inst, Snapshot: true}); err != nil {
			c.correlator.Unregister(id)
			c.ends.Forget(id)
			return QuoteResult{}, err
		}
		ids = append(ids, id)
		waits = append(waits, f)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeouts.Quotes)
	defer cancel()

	outcomes := make([]pending.Outcome, 0, len(waits))
	var firstErr error
	for _, f := range waits {
		outcome, err := await(waitCtx, c, "snapshot_quotes", f, 0)
		outcomes = append(outcomes, outcome)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	quotes := make([]models.Quote, 0, len(ids))
	for _, id := range ids {
		if q, ok := c.quotes.Quote(id); ok {
			quotes = append(quotes, q)
		}
		c.quotes.Drop(id)
		c.correlator.Unregister(id)
		c.ends.Forget(id)
	}
	return QuoteResult{Quotes: quotes, Outcome: combine(outcomes), Reason: reason(firstErr)}, nil
}

// LatestTrades subscribes to trade prints where needed, waits a bounded
// time for the first print and returns the last print per symbol.
func (c *Client) LatestTrades(ctx context.Context, symbols []string) (TradeResult, error) {
	if !c.IsConnected() {
		return TradeResult{}, ErrNotConnected
	}
	targets, err := resolveSymbols(symbols)
	if err != nil {
		return TradeResult{}, err
	}

	outcome, waitErr := c.ensureStreams(ctx, "latest_trades", targets, correlator.ChannelTrade, c.timeouts.Trades,
		func(_ int64, symbol string) bool {
			_, ok := c.quotes.LatestTrade(symbol)
			return ok
		})
	if outcome == pending.OutcomeRejected && waitErr != nil && !isGatewayError(waitErr) {
		return TradeResult{}, waitErr
	}

	trades := make([]models.TradeTick, 0, len(targets))
	for _, t := range targets {
		if tick, ok := c.quotes.LatestTrade(t.symbol); ok {
			trades = append(trades, tick)
		}
	}
	return TradeResult{Trades: trades, Outcome: outcome, Reason: reason(waitErr)}, nil
}

// QuotesSince reads cached quotes for symbols updated within window.
func (c *Client) QuotesSince(symbols []string, window time.Duration) []models.Quote {
	return c.quotes.QuotesSince(normalize(symbols), window)
}

// TradesSince reads cached trade prints for symbols within window.
func (c *Client) TradesSince(symbols []string, window time.Duration) []models.TradeTick {
	return c.quotes.TradesSince(normalize(symbols), window)
}

// normalize maps symbols to their cache keys, keeping unparseable input as
// given so it simply matches nothing.
func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if inst, err := contract.ToInstrument(s); err == nil {
			out = append(out, contract.FromInstrument(inst))
			continue
		}
		out = append(out, s)
	}
	return out
}
