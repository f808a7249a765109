package broker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/correlator"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/orders"
	"github.com/gregtusar/twsbridge/pkg/pending"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/gregtusar/twsbridge/pkg/tws/twstest"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testTimeouts() Timeouts {
	return Timeouts{
		NextValidID: 50 * time.Millisecond,
		OrderAck:    30 * time.Millisecond,
		Cancel:      30 * time.Millisecond,
		Modify:      30 * time.Millisecond,
		OpenOrders:  30 * time.Millisecond,
		Positions:   30 * time.Millisecond,
		Quotes:      30 * time.Millisecond,
		Trades:      30 * time.Millisecond,
		Historical:  30 * time.Millisecond,
	}
}

func newTestClient(t testing.TB, respond twstest.Responder) (*Client, *twstest.FakeTransport) {
	fake := twstest.New(respond)
	fake.NextValidID = 100
	c := NewClient(fake, Config{Timeouts: testTimeouts(), FallbackOrderID: 1}, testLogger(), nil)
	require.NoError(t, c.Connect(context.Background()))
	return c, fake
}

func limitBuy(symbol string, qty int64, price string) models.OrderRequest {
	return models.OrderRequest{
		Symbol:      symbol,
		Side:        models.OrderSideBuy,
		Type:        models.OrderTypeLimit,
		Quantity:    decimal.NewFromInt(qty),
		TimeInForce: "DAY",
		LimitPrice:  decimal.RequireFromString(price),
	}
}

// ackOrders acknowledges every placed order with a Submitted status.
func ackOrders(req tws.Request) []tws.Event {
	if p, ok := req.(tws.PlaceOrder); ok {
		return []tws.Event{tws.OrderStatus{OrderID: p.OrderID, Status: "Submitted"}}
	}
	return nil
}

func TestSubmitThenOpenOrderEvent(t *testing.T) {
	c, fake := newTestClient(t, nil)
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, res.Outcome)
	assert.Equal(t, models.OrderStatusPending, res.Order.Status)
	assert.Equal(t, int64(100), res.Order.OrderID)
	assert.NotEmpty(t, res.Order.ClientRef, "client ref is generated when absent")

	o, err := c.GetOrder(res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)

	fake.Emit(tws.OpenOrder{
		OrderID:       res.Order.OrderID,
		Contract:      models.Instrument{Symbol: "AAPL", SecType: models.AssetTypeEquity},
		Action:        "BUY",
		OrderType:     "LMT",
		TotalQuantity: decimal.NewFromInt(10),
		LmtPrice:      decimal.RequireFromString("150.00"),
		TIF:           "DAY",
		Status:        "Submitted",
		Transmit:      true,
	})

	o, err = c.GetOrder(res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSubmitted, o.Status)
	require.True(t, o.LimitPrice.Valid)
	assert.True(t, o.LimitPrice.Decimal.Equal(decimal.RequireFromString("150.00")))
}

func TestSubmitConfirmedByStatusEvent(t *testing.T) {
	c, fake := newTestClient(t, ackOrders)

	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, models.OrderStatusSubmitted, res.Order.Status)

	sent := fake.SentOf(tws.ReqKindPlaceOrder)
	require.Len(t, sent, 1)
	place := sent[0].(tws.PlaceOrder)
	assert.Equal(t, "AAPL", place.Contract.Symbol)
	assert.True(t, place.Order.Transmit)
}

func TestSubmitOptionMapsContract(t *testing.T) {
	c, fake := newTestClient(t, ackOrders)

	_, err := c.SubmitOrder(context.Background(), limitBuy("SPY250321C00500000", 1, "2.50"))
	require.NoError(t, err)

	place := fake.SentOf(tws.ReqKindPlaceOrder)[0].(tws.PlaceOrder)
	assert.Equal(t, models.AssetTypeOption, place.Contract.SecType)
	assert.Equal(t, "SPY", place.Contract.Symbol)
	assert.Equal(t, "C", place.Contract.Right)
	assert.Equal(t, "SPY250321C00500000", place.Order.Symbol)
}

func TestSubmitRejectedByGatewayError(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		if p, ok := req.(tws.PlaceOrder); ok {
			return []tws.Event{tws.ErrorMessage{ID: p.OrderID, Code: 201, Message: "Order rejected"}}
		}
		return nil
	})

	start := time.Now()
	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeRejected, res.Outcome)
	assert.Contains(t, res.Reason, "Order rejected")
	assert.Less(t, time.Since(start), testTimeouts().OrderAck)
}

func TestInformationalErrorDoesNotWake(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		if p, ok := req.(tws.PlaceOrder); ok {
			return []tws.Event{
				tws.ErrorMessage{ID: p.OrderID, Code: 2104, Message: "Market data farm connection is OK"},
				tws.ErrorMessage{ID: -1, Code: 1100, Message: "Connectivity lost"},
			}
		}
		return nil
	})

	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, res.Outcome)
}

func TestOrderWarningDoesNotReject(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		if p, ok := req.(tws.PlaceOrder); ok {
			return []tws.Event{
				tws.ErrorMessage{ID: p.OrderID, Code: 399, Message: "Order will not be placed at the exchange until market open"},
				tws.OrderStatus{OrderID: p.OrderID, Status: "PreSubmitted"},
			}
		}
		return nil
	})

	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, models.OrderStatusPreSubmitted, res.Order.Status)
}

func TestCancelConfirmationCodeDoesNotReject(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		switch r := req.(type) {
		case tws.PlaceOrder:
			return []tws.Event{tws.OrderStatus{OrderID: r.OrderID, Status: "Submitted"}}
		case tws.CancelOrder:
			return []tws.Event{
				tws.ErrorMessage{ID: r.OrderID, Code: 202, Message: "Order Canceled - reason:"},
				tws.OrderStatus{OrderID: r.OrderID, Status: "Cancelled"},
			}
		}
		return nil
	})
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	cancelled, err := c.CancelOrder(ctx, res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, cancelled.Outcome)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Order.Status)
}

func TestRepeatedStatusKeepsLastUpdated(t *testing.T) {
	c, fake := newTestClient(t, ackOrders)
	clock := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	id := res.Order.OrderID

	fake.Emit(tws.OrderStatus{OrderID: id, Status: "Submitted"})
	first, err := c.GetOrder(id)
	require.NoError(t, err)

	fake.Emit(tws.OrderStatus{OrderID: id, Status: "Submitted"})
	second, err := c.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	fake.Emit(tws.OrderStatus{OrderID: id, Status: "Filled", Filled: decimal.NewFromInt(10)})
	third, err := c.GetOrder(id)
	require.NoError(t, err)
	assert.True(t, third.LastUpdated.After(second.LastUpdated))
}

func TestDefaultsFillUnsetTimeouts(t *testing.T) {
	c := NewClient(twstest.New(nil), Config{Timeouts: Timeouts{OrderAck: 75 * time.Millisecond, Quotes: -1}}, testLogger(), nil)
	d := DefaultTimeouts()
	assert.Equal(t, 75*time.Millisecond, c.timeouts.OrderAck)
	assert.Equal(t, d.Quotes, c.timeouts.Quotes)
	assert.Equal(t, d.Positions, c.timeouts.Positions)
	assert.Equal(t, d.Historical, c.timeouts.Historical)
}

func TestBracketAllocatesThreeSequentialIDs(t *testing.T) {
	c, fake := newTestClient(t, nil)

	req := limitBuy("AAPL", 10, "150.00")
	req.TakeProfitPrice = decimal.RequireFromString("160")
	req.StopLossPrice = decimal.RequireFromString("140")

	res, err := c.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusBracketPending, res.Order.Status)
	require.Len(t, res.Legs, 3)

	sent := fake.SentOf(tws.ReqKindPlaceOrder)
	require.Len(t, sent, 3)
	var legs []models.Order
	for _, r := range sent {
		legs = append(legs, r.(tws.PlaceOrder).Order)
	}
	assert.Equal(t, []int64{100, 101, 102}, []int64{legs[0].OrderID, legs[1].OrderID, legs[2].OrderID})
	assert.Equal(t, []bool{false, false, true}, []bool{legs[0].Transmit, legs[1].Transmit, legs[2].Transmit})
	for _, child := range legs[1:] {
		assert.Equal(t, legs[0].OrderID, child.ParentID)
		assert.True(t, child.Quantity.Equal(legs[0].Quantity))
		assert.Equal(t, models.OrderSideSell, child.Side)
	}
}

func TestBracketNeedsBothPrices(t *testing.T) {
	c, fake := newTestClient(t, nil)

	req := limitBuy("AAPL", 10, "150.00")
	req.TakeProfitPrice = decimal.RequireFromString("160")

	_, err := c.SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Empty(t, fake.Sent())
}

func TestBracketIDsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Int64Range(1, 1_000_000).Draw(rt, "seed")
		qty := rapid.Int64Range(1, 10_000).Draw(rt, "qty")
		plain := rapid.IntRange(0, 3).Draw(rt, "plain")

		fake := twstest.New(ackOrders)
		fake.NextValidID = seed
		c := NewClient(fake, Config{Timeouts: testTimeouts()}, testLogger(), nil)
		require.NoError(rt, c.Connect(context.Background()))

		for i := 0; i < plain; i++ {
			_, err := c.SubmitOrder(context.Background(), limitBuy("MSFT", 1, "10"))
			require.NoError(rt, err)
		}

		req := limitBuy("AAPL", qty, "100")
		req.Side = models.OrderSideSell
		req.TakeProfitPrice = decimal.NewFromInt(90)
		req.StopLossPrice = decimal.NewFromInt(110)
		res, err := c.SubmitOrder(context.Background(), req)
		require.NoError(rt, err)
		require.Len(rt, res.Legs, 3)

		parent := res.Legs[0].OrderID
		assert.Equal(rt, seed+int64(plain), parent)
		for i, leg := range res.Legs {
			assert.Equal(rt, parent+int64(i), leg.OrderID)
			assert.Equal(rt, i == 2, leg.Transmit)
			assert.True(rt, leg.Quantity.Equal(decimal.NewFromInt(qty)))
			if i > 0 {
				assert.Equal(rt, parent, leg.ParentID)
				assert.Equal(rt, models.OrderSideBuy, leg.Side)
			}
		}
	})
}

func TestSubmitValidation(t *testing.T) {
	c, fake := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, limitBuy("AAPL240315X00100000", 1, "1"))
	assert.ErrorIs(t, err, contract.ErrInvalidSymbolFormat)

	bad := limitBuy("AAPL", 0, "1")
	_, err = c.SubmitOrder(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	bad = limitBuy("AAPL", 1, "0")
	_, err = c.SubmitOrder(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	bad = limitBuy("AAPL", 1, "1")
	bad.Side = "HOLD"
	_, err = c.SubmitOrder(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	assert.Empty(t, fake.Sent())
}

func TestSendFailureMarksOrderInactive(t *testing.T) {
	c, fake := newTestClient(t, nil)
	fake.FailSends(errors.New("socket closed"))

	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 1, "1"))
	require.Error(t, err)
	assert.Equal(t, pending.OutcomeRejected, res.Outcome)

	o, err := c.GetOrder(res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInactive, o.Status)
}

func TestNotConnected(t *testing.T) {
	fake := twstest.New(nil)
	c := NewClient(fake, Config{Timeouts: testTimeouts()}, testLogger(), nil)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, limitBuy("AAPL", 1, "1"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Positions(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.LatestQuotes(ctx, []string{"AAPL"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectFallsBackWithoutNextValidID(t *testing.T) {
	fake := twstest.New(nil)
	c := NewClient(fake, Config{Timeouts: testTimeouts(), FallbackOrderID: 500}, testLogger(), nil)

	require.NoError(t, c.Connect(context.Background()))
	assert.False(t, c.OrderIDsReady())

	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 1, "1"))
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Order.OrderID)
}

func TestCancelWaitsForGatewayStatus(t *testing.T) {
	c, fake := newTestClient(t, nil)
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, limitBuy("AAPL", 1, "1"))
	require.NoError(t, err)
	id := res.Order.OrderID

	cancelled, err := c.CancelOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, cancelled.Outcome)
	assert.Equal(t, models.OrderStatusPending, cancelled.Order.Status, "no local status flip")
	require.Len(t, fake.SentOf(tws.ReqKindCancelOrder), 1)

	fake.Emit(tws.OrderStatus{OrderID: id, Status: "Cancelled"})
	o, err := c.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, o.Status)
}

func TestCancelConfirmed(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		switch r := req.(type) {
		case tws.PlaceOrder:
			return []tws.Event{tws.OrderStatus{OrderID: r.OrderID, Status: "Submitted"}}
		case tws.CancelOrder:
			return []tws.Event{
				tws.OrderStatus{OrderID: r.OrderID, Status: "Submitted"},
				tws.OrderStatus{OrderID: r.OrderID, Status: "Cancelled"},
			}
		}
		return nil
	})
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, limitBuy("AAPL", 1, "1"))
	require.NoError(t, err)

	cancelled, err := c.CancelOrder(ctx, res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, cancelled.Outcome)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Order.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	c, fake := newTestClient(t, nil)
	_, err := c.CancelOrder(context.Background(), 4242)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, fake.SentOf(tws.ReqKindCancelOrder))
}

func TestModifyAllSentinelKeepsFields(t *testing.T) {
	c, fake := newTestClient(t, nil)
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)
	before, err := c.GetOrder(res.Order.OrderID)
	require.NoError(t, err)

	mod, err := c.ModifyOrder(ctx, before.OrderID, orders.Modification{TimeInForce: orders.KeepTimeInForce})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, mod.Outcome)

	after, err := c.GetOrder(before.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusModified, after.Status)
	assert.False(t, after.LastUpdated.Before(before.LastUpdated))

	after.Status = before.Status
	after.LastUpdated = before.LastUpdated
	assert.Equal(t, before, after)

	sent := fake.SentOf(tws.ReqKindPlaceOrder)
	require.Len(t, sent, 2)
	resend := sent[1].(tws.PlaceOrder)
	assert.Equal(t, before.OrderID, resend.OrderID)
	assert.True(t, resend.Order.Transmit)
}

func TestModifyOverridesAndConfirmation(t *testing.T) {
	c, _ := newTestClient(t, ackOrders)
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, limitBuy("AAPL", 10, "150.00"))
	require.NoError(t, err)

	mod, err := c.ModifyOrder(ctx, res.Order.OrderID, orders.Modification{
		Quantity:  decimal.NewFromInt(20),
		StopPrice: decimal.NewFromInt(145),
	})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, mod.Outcome)
	assert.Equal(t, models.OrderStatusSubmitted, mod.Order.Status, "gateway status supersedes Modified")
	assert.True(t, mod.Order.Quantity.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, models.OrderTypeStopLimit, mod.Order.Type)
}

func TestModifyUnknownOrder(t *testing.T) {
	c, _ := newTestClient(t, nil)
	_, err := c.ModifyOrder(context.Background(), 4242, orders.Modification{})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestListOrdersRefresh(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		if _, ok := req.(tws.ReqAllOpenOrders); ok {
			return []tws.Event{
				tws.OpenOrder{OrderID: 7, Contract: models.Instrument{Symbol: "AAPL", SecType: models.AssetTypeEquity},
					Action: "BUY", OrderType: "LMT", TotalQuantity: decimal.NewFromInt(5), LmtPrice: decimal.NewFromInt(100),
					Status: "Submitted", Time: time.Unix(100, 0)},
				tws.OpenOrder{OrderID: 8, Contract: models.Instrument{Symbol: "MSFT", SecType: models.AssetTypeEquity},
					Action: "SELL", OrderType: "MKT", TotalQuantity: decimal.NewFromInt(1),
					Status: "PreSubmitted", Time: time.Unix(200, 0)},
				tws.OpenOrderEnd{},
			}
		}
		return nil
	})
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, limitBuy("TSLA", 1, "1"))
	require.NoError(t, err)

	list, err := c.ListOrders(ctx, orders.Filter{}, true)
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, list.Outcome)
	require.Len(t, list.Orders, 2, "refresh replaces the table")
	assert.Equal(t, int64(8), list.Orders[0].OrderID, "newest first by default")

	list, err = c.ListOrders(ctx, orders.Filter{Side: models.OrderSideBuy}, false)
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "AAPL", list.Orders[0].Symbol)
}

func TestPositionsAndLookup(t *testing.T) {
	c, fake := newTestClient(t, func(req tws.Request) []tws.Event {
		if _, ok := req.(tws.ReqPositions); ok {
			return []tws.Event{
				tws.Position{Account: "DU1", Contract: models.Instrument{Symbol: "AAPL", SecType: models.AssetTypeEquity},
					Quantity: decimal.NewFromInt(10), AvgCost: decimal.RequireFromString("150.25")},
				tws.PositionEnd{},
			}
		}
		return nil
	})
	ctx := context.Background()

	list, err := c.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, list.Outcome)
	require.Len(t, list.Positions, 1)
	assert.Equal(t, int64(10), list.Positions[0].Quantity)

	pos, err := c.Position(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, pos.Found)
	assert.True(t, pos.Position.AvgCost.Equal(decimal.RequireFromString("150.25")))

	pos, err = c.Position(ctx, "MSFT")
	require.NoError(t, err)
	assert.False(t, pos.Found)
	assert.Equal(t, "MSFT", pos.Position.Symbol)

	assert.NotEmpty(t, fake.SentOf(tws.ReqKindCancelPositions))
}

func TestPositionsTimeout(t *testing.T) {
	c, _ := newTestClient(t, nil)
	list, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, list.Outcome)
	assert.Empty(t, list.Positions)
	assert.False(t, c.positions.Refreshing())
}

func TestSubscribeQuotesAndFilterSince(t *testing.T) {
	c, fake := newTestClient(t, nil)

	subs, err := c.Subscribe(context.Background(), []string{"AAPL", "MSFT"}, correlator.ChannelQuote)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.NotEqual(t, subs[0].TickerID, subs[1].TickerID)
	assert.Len(t, fake.SentOf(tws.ReqKindMktData), 2)

	fake.Emit(tws.TickPrice{TickerID: subs[0].TickerID, TickType: tws.TickBid, Price: decimal.RequireFromString("150.10"), Time: time.Now()})

	got := c.QuotesSince([]string{"AAPL"}, time.Minute)
	require.Len(t, got, 1)
	assert.True(t, got[0].BidPrice.Equal(decimal.RequireFromString("150.10")))
	assert.Empty(t, c.QuotesSince([]string{"MSFT"}, time.Minute))

	fake.Emit(tws.TickPrice{TickerID: subs[1].TickerID, TickType: tws.TickDelayedAsk, Price: decimal.NewFromInt(400), Time: time.Now()})
	got = c.QuotesSince([]string{"MSFT"}, time.Minute)
	require.Len(t, got, 1)
	assert.True(t, got[0].AskPrice.Equal(decimal.NewFromInt(400)))
}

func TestSubscriptionIDsDisjointFromOrderIDs(t *testing.T) {
	c, _ := newTestClient(t, nil)
	subs, err := c.Subscribe(context.Background(), []string{"AAPL"}, correlator.ChannelTrade)
	require.NoError(t, err)
	res, err := c.SubmitOrder(context.Background(), limitBuy("AAPL", 1, "1"))
	require.NoError(t, err)
	assert.Greater(t, subs[0].TickerID, res.Order.OrderID)
}

func TestUnsubscribe(t *testing.T) {
	c, fake := newTestClient(t, nil)
	ctx := context.Background()

	subs, err := c.Subscribe(ctx, []string{"AAPL"}, correlator.ChannelQuote)
	require.NoError(t, err)
	fake.Emit(tws.TickPrice{TickerID: subs[0].TickerID, TickType: tws.TickLast, Price: decimal.NewFromInt(1)})

	require.NoError(t, c.Unsubscribe(ctx, subs[0].TickerID))
	assert.Len(t, fake.SentOf(tws.ReqKindCancelMktData), 1)
	assert.Empty(t, c.Subscriptions(correlator.ChannelQuote))
	assert.Empty(t, c.QuotesSince([]string{"AAPL"}, time.Minute))

	err = c.Unsubscribe(ctx, subs[0].TickerID)
	assert.ErrorIs(t, err, ErrUnknownSubscription)
}

func TestLatestQuotesSubscribesOnce(t *testing.T) {
	c, fake := newTestClient(t, func(req tws.Request) []tws.Event {
		if r, ok := req.(tws.ReqMktData); ok && !r.Snapshot {
			return []tws.Event{tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickBid, Price: decimal.NewFromInt(150)}}
		}
		return nil
	})
	ctx := context.Background()

	res, err := c.LatestQuotes(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, res.Outcome)
	require.Len(t, res.Quotes, 1)
	assert.Equal(t, "AAPL", res.Quotes[0].Symbol)

	_, err = c.LatestQuotes(ctx, []string{"aapl"})
	require.NoError(t, err)
	assert.Len(t, fake.SentOf(tws.ReqKindMktData), 1)
}

func TestLatestQuotesTimesOutWithoutTicks(t *testing.T) {
	c, _ := newTestClient(t, nil)
	res, err := c.LatestQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, res.Outcome)
	assert.Empty(t, res.Quotes)
}

func TestSnapshotQuotes(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		if r, ok := req.(tws.ReqMktData); ok && r.Snapshot {
			return []tws.Event{
				tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickBid, Price: decimal.NewFromInt(99)},
				tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickAsk, Price: decimal.NewFromInt(101)},
				tws.TickSnapshotEnd{TickerID: r.TickerID},
			}
		}
		return nil
	})

	res, err := c.SnapshotQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, res.Outcome)
	require.Len(t, res.Quotes, 1)
	assert.True(t, res.Quotes[0].AskPrice.Equal(decimal.NewFromInt(101)))
	assert.Empty(t, c.Subscriptions(correlator.ChannelNone))
}

func TestLatestTrades(t *testing.T) {
	c, _ := newTestClient(t, func(req tws.Request) []tws.Event {
		if r, ok := req.(tws.ReqTickByTick); ok {
			return []tws.Event{tws.TradeTick{TickerID: r.TickerID, TickType: tws.TradeLast,
				Price: decimal.RequireFromString("150.5"), Size: decimal.NewFromInt(100), Time: time.Now()}}
		}
		return nil
	})

	res, err := c.LatestTrades(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, res.Outcome)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "AAPL", res.Trades[0].Symbol)
	assert.Len(t, c.TradesSince([]string{"AAPL"}, time.Minute), 1)
}

func TestHistoricalBars(t *testing.T) {
	c, fake := newTestClient(t, func(req tws.Request) []tws.Event {
		r, ok := req.(tws.ReqHistoricalData)
		if !ok {
			return nil
		}
		var evs []tws.Event
		for i := 0; i < 5; i++ {
			evs = append(evs, tws.HistoricalBar{ReqID: r.ReqID, Bar: models.HistoricalBar{
				Time: time.Date(2025, 3, 3+i, 0, 0, 0, 0, time.UTC).Format("20060102"),
				Open: decimal.NewFromInt(int64(100 + i)), Volume: int64(1000 * (i + 1)),
			}})
		}
		return append(evs, tws.HistoricalDataEnd{ReqID: r.ReqID})
	})

	res, err := c.HistoricalBars(context.Background(), HistoricalRequest{Symbol: "AAPL", EndDateTime: "20250310 16:00:00", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeConfirmed, res.Outcome)
	require.Len(t, res.Bars, 3)
	assert.Equal(t, "20250303", res.Bars[0].Time)
	assert.Equal(t, "20250305", res.Bars[2].Time)

	sent := fake.SentOf(tws.ReqKindHistoricalData)[0].(tws.ReqHistoricalData)
	assert.Equal(t, "1 D", sent.Duration)
	assert.Equal(t, "1 day", sent.BarSize)
	assert.Equal(t, "TRADES", sent.WhatToShow)
	assert.True(t, sent.UseRTH)
}

func TestLateBarsAfterTimeoutAreDropped(t *testing.T) {
	c, fake := newTestClient(t, nil)

	res, err := c.HistoricalBars(context.Background(), HistoricalRequest{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeTimedOut, res.Outcome)
	assert.NotEmpty(t, fake.SentOf(tws.ReqKindCancelHistoricalData))

	for i := 0; i < 3; i++ {
		fake.Emit(tws.HistoricalBar{ReqID: res.RequestID, Bar: models.HistoricalBar{Time: "20250303", Volume: int64(i)}})
	}
	fake.Emit(tws.HistoricalDataEnd{ReqID: res.RequestID})
	assert.Empty(t, c.history.Bars(res.RequestID, 0))
	assert.False(t, c.history.Done(res.RequestID))
}

func TestHistoricalBarsErrorRejects(t *testing.T) {
	c, fake := newTestClient(t, func(req tws.Request) []tws.Event {
		if r, ok := req.(tws.ReqHistoricalData); ok {
			return []tws.Event{tws.ErrorMessage{ID: r.ReqID, Code: 162, Message: "HMDS query returned no data"}}
		}
		return nil
	})

	res, err := c.HistoricalBars(context.Background(), HistoricalRequest{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, pending.OutcomeRejected, res.Outcome)
	assert.Empty(t, res.Bars)
	assert.Empty(t, fake.SentOf(tws.ReqKindCancelHistoricalData))
}

type unhandledEvent struct{}

func (unhandledEvent) Kind() tws.EventKind { return "market_depth" }

func TestUnhandledEventIsNoop(t *testing.T) {
	c, fake := newTestClient(t, nil)
	assert.NotPanics(t, func() { fake.Emit(unhandledEvent{}) })
	assert.True(t, c.IsConnected())
}

func TestDisconnect(t *testing.T) {
	c, _ := newTestClient(t, nil)
	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
}
