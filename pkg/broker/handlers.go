package broker

import (
	"time"

	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/marketdata"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/orders"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func (c *Client) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return c.now()
	}
	return t
}

func (c *Client) onNextValidID(ev tws.NextValidID) {
	c.logger.WithField("order_id", ev.OrderID).Debug("Next valid order id")
	c.orderIDs.Seed(ev.OrderID)
}

func (c *Client) onOrderStatus(ev tws.OrderStatus) {
	o, _ := c.orders.Apply(orders.Update{
		OrderID:  ev.OrderID,
		Symbol:   c.orderSymbol(ev.OrderID),
		Status:   models.OrderStatus(ev.Status),
		ParentID: ev.ParentID,
		Time:     c.eventTime(ev.Time),
	})
	c.settleOrder(o)
}

func (c *Client) onOpenOrder(ev tws.OpenOrder) {
	symbol := contract.FromInstrument(ev.Contract)
	if symbol == "" {
		symbol = c.orderSymbol(ev.OrderID)
	}
	if _, ok := c.correlator.LookupOrder(ev.OrderID); !ok && symbol != "" {
		c.correlator.RegisterOrder(ev.OrderID, symbol)
	}

	transmit := ev.Transmit
	o, created := c.orders.Apply(orders.Update{
		OrderID:     ev.OrderID,
		ClientRef:   ev.OrderRef,
		Symbol:      symbol,
		AssetType:   ev.Contract.SecType,
		Side:        models.OrderSide(ev.Action),
		Type:        models.OrderType(ev.OrderType),
		TimeInForce: ev.TIF,
		Quantity:    positive(ev.TotalQuantity),
		LimitPrice:  positive(ev.LmtPrice),
		StopPrice:   positive(ev.AuxPrice),
		Status:      models.OrderStatus(ev.Status),
		ParentID:    ev.ParentID,
		Transmit:    &transmit,
		Time:        c.eventTime(ev.Time),
	})
	if created {
		c.logger.WithFields(logrus.Fields{
			"order_id": o.OrderID,
			"symbol":   o.Symbol,
		}).Debug("Tracking order reported by gateway")
	}
	c.settleOrder(o)
}

// settleOrder wakes anyone waiting on the order. Submit and modify wait for
// any report; cancel waits for a status that ends the cancellation.
func (c *Client) settleOrder(o models.Order) {
	c.acks.Resolve(o.OrderID, o)
	switch o.Status {
	case models.OrderStatusPendingCancel, models.OrderStatusCancelled, models.OrderStatusApiCancelled,
		models.OrderStatusFilled, models.OrderStatusInactive:
		c.cancels.Resolve(o.OrderID, o)
	}
}

func (c *Client) onOpenOrderEnd(tws.OpenOrderEnd) {
	c.ends.Resolve(endOpenOrders, struct{}{})
}

func (c *Client) onPosition(ev tws.Position) {
	c.positions.Add(models.Position{
		Account:  ev.Account,
		Symbol:   contract.FromInstrument(ev.Contract),
		Quantity: ev.Quantity.IntPart(),
		AvgCost:  ev.AvgCost,
	})
}

func (c *Client) onPositionEnd(tws.PositionEnd) {
	c.positions.End()
	c.ends.Resolve(endPositions, struct{}{})
}

func (c *Client) onTickPrice(ev tws.TickPrice) {
	field, ok := priceField(ev.TickType)
	if !ok {
		return
	}
	c.quotes.OnPrice(ev.TickerID, c.correlator.RequestSymbol(ev.TickerID), field, ev.Price, c.eventTime(ev.Time))
	c.firstTick.Resolve(ev.TickerID, struct{}{})
}

func (c *Client) onTickSize(ev tws.TickSize) {
	field, ok := sizeField(ev.TickType)
	if !ok {
		return
	}
	c.quotes.OnSize(ev.TickerID, c.correlator.RequestSymbol(ev.TickerID), field, ev.Size, c.eventTime(ev.Time))
}

func (c *Client) onTradeTick(ev tws.TradeTick) {
	c.quotes.OnTrade(models.TradeTick{
		TickerID:  ev.TickerID,
		Symbol:    c.correlator.RequestSymbol(ev.TickerID),
		Price:     ev.Price,
		Size:      ev.Size,
		TickType:  ev.TickType,
		Timestamp: c.eventTime(ev.Time),
	})
	c.metrics.TradeLogSize(c.quotes.TradeCount())
	c.firstTick.Resolve(ev.TickerID, struct{}{})
}

func (c *Client) onHistoricalBar(ev tws.HistoricalBar) {
	if !c.history.Append(ev.ReqID, ev.Bar) {
		c.logger.WithField("req_id", ev.ReqID).Debug("Dropping bar for finished historical request")
	}
}

func (c *Client) onHistoricalDataEnd(ev tws.HistoricalDataEnd) {
	c.history.End(ev.ReqID)
	c.ends.Resolve(ev.ReqID, struct{}{})
}

func (c *Client) onTickSnapshotEnd(ev tws.TickSnapshotEnd) {
	c.correlator.Unregister(ev.TickerID)
	c.ends.Resolve(ev.TickerID, struct{}{})
}

// onError logs the gateway error and fails any wait tied to its id.
// Connection notices (id <= 0), farm status codes and warnings never wake
// waiters.
func (c *Client) onError(ev tws.ErrorMessage) {
	te := ev.Err()
	c.metrics.TransportError(te.Code)

	entry := c.logger.WithFields(logrus.Fields{
		"id":      te.ID,
		"code":    te.Code,
		"message": te.Message,
	})
	if te.ID <= 0 || te.Informational() {
		entry.Info("Gateway notice")
		return
	}
	if te.Warning() {
		entry.Warn("Gateway warning")
		return
	}
	entry.Warn("Gateway error")

	c.acks.Reject(te.ID, te)
	c.cancels.Reject(te.ID, te)
	c.ends.Reject(te.ID, te)
	c.firstTick.Reject(te.ID, te)
}

func (c *Client) onConnectionClosed(ev tws.ConnectionClosed) {
	c.logger.WithField("reason", ev.Reason).Warn("Gateway connection closed")
}

func (c *Client) orderSymbol(id int64) string {
	if e, ok := c.correlator.LookupOrder(id); ok {
		return e.Symbol
	}
	return ""
}

func positive(d decimal.Decimal) decimal.NullDecimal {
	if !d.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func priceField(tickType int) (marketdata.Field, bool) {
	switch tickType {
	case tws.TickBid, tws.TickDelayedBid:
		return marketdata.FieldBid, true
	case tws.TickAsk, tws.TickDelayedAsk:
		return marketdata.FieldAsk, true
	case tws.TickLast, tws.TickDelayedLast:
		return marketdata.FieldLast, true
	case tws.TickClose, tws.TickDelayedClose:
		return marketdata.FieldClose, true
	}
	return 0, false
}

func sizeField(tickType int) (marketdata.Field, bool) {
	switch tickType {
	case tws.TickBidSize, tws.TickDelayedBidSize:
		return marketdata.FieldBidSize, true
	case tws.TickAskSize, tws.TickDelayedAskSize:
		return marketdata.FieldAskSize, true
	}
	return 0, false
}
