package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/orders"
	"github.com/gregtusar/twsbridge/pkg/pending"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultTimeInForce = "DAY"

// SubmitOrder places a plain or bracket order and waits a bounded time for
// the gateway to acknowledge the parent. When no acknowledgement arrives the
// result carries the locally recorded state with OutcomeTimedOut.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (OrderResult, error) {
	if !c.IsConnected() {
		return OrderResult{}, ErrNotConnected
	}
	if err := validateRequest(req); err != nil {
		return OrderResult{}, err
	}
	inst, err := contract.ToInstrument(req.Symbol)
	if err != nil {
		return OrderResult{}, fmt.Errorf("failed to map symbol %q: %w", req.Symbol, err)
	}

	parent := c.newOrder(req, inst)
	legs := []models.Order{parent}
	if req.IsBracket() {
		legs, err = orders.BuildBracket(parent, c.orderIDs.NextN(orders.BracketSize), req.TakeProfitPrice, req.StopLossPrice)
		if err != nil {
			return OrderResult{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
	} else {
		legs[0].OrderID = c.orderIDs.Next()
	}
	parentID := legs[0].OrderID

	for _, leg := range legs {
		c.orders.Put(leg)
		c.correlator.RegisterOrder(leg.OrderID, leg.Symbol)
	}
	ack := c.acks.Register(parentID)

	for i, leg := range legs {
		if err := c.send(ctx, tws.PlaceOrder{OrderID: leg.OrderID, Contract: inst, Order: leg}); err != nil {
			c.acks.Forget(parentID)
			for _, unsent := range legs[i:] {
				c.orders.Apply(orders.Update{OrderID: unsent.OrderID, Status: models.OrderStatusInactive, Time: c.now()})
			}
			c.logger.WithError(err).WithField("order_id", leg.OrderID).Error("Failed to place order")
			return c.orderResult(parentID, legs, pending.OutcomeRejected, err), err
		}
	}
	c.metrics.OrderSubmitted(len(legs) > 1)

	c.logger.WithFields(logrus.Fields{
		"order_id":   parentID,
		"client_ref": parent.ClientRef,
		"symbol":     parent.Symbol,
		"side":       parent.Side,
		"type":       parent.Type,
		"quantity":   parent.Quantity.String(),
		"legs":       len(legs),
	}).Info("Order submitted")

	outcome, waitErr := await(ctx, c, "submit_order", ack, c.timeouts.OrderAck)
	if outcome == pending.OutcomeTimedOut {
		c.acks.Forget(parentID)
	}
	return c.orderResult(parentID, legs, outcome, waitErr), nil
}

func (c *Client) newOrder(req models.OrderRequest, inst models.Instrument) models.Order {
	ref := strings.TrimSpace(req.ClientRef)
	if ref == "" {
		ref = uuid.NewString()
	}
	tif := strings.ToUpper(strings.TrimSpace(req.TimeInForce))
	if tif == "" {
		tif = defaultTimeInForce
	}
	typ := req.Type
	if typ == "" {
		typ = orders.DeriveType(req.LimitPrice, req.StopPrice)
	}

	o := models.Order{
		ClientRef:   ref,
		Symbol:      contract.FromInstrument(inst),
		AssetType:   inst.SecType,
		Side:        req.Side,
		Type:        typ,
		TimeInForce: tif,
		Quantity:    req.Quantity,
		Status:      models.OrderStatusPending,
		Transmit:    true,
		LastUpdated: c.now(),
	}
	if req.LimitPrice.IsPositive() {
		o.LimitPrice = decimal.NewNullDecimal(req.LimitPrice)
	}
	if req.StopPrice.IsPositive() {
		o.StopPrice = decimal.NewNullDecimal(req.StopPrice)
	}
	return o
}

func validateRequest(req models.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, req.Side)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if req.LimitPrice.IsNegative() || req.StopPrice.IsNegative() {
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidOrder)
	}
	switch req.Type {
	case "", models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if !req.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order needs a limit price", ErrInvalidOrder)
		}
	case models.OrderTypeStop:
		if !req.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop order needs a stop price", ErrInvalidOrder)
		}
	case models.OrderTypeStopLimit:
		if !req.LimitPrice.IsPositive() || !req.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop limit order needs limit and stop prices", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unsupported order type %q", ErrInvalidOrder, req.Type)
	}
	if req.IsBracket() && (!req.TakeProfitPrice.IsPositive() || !req.StopLossPrice.IsPositive()) {
		return fmt.Errorf("%w: bracket needs both take-profit and stop-loss prices", ErrInvalidOrder)
	}
	return nil
}

func (c *Client) orderResult(parentID int64, legs []models.Order, outcome pending.Outcome, err error) OrderResult {
	res := OrderResult{Outcome: outcome, Reason: reason(err)}
	if o, getErr := c.orders.Get(parentID); getErr == nil {
		res.Order = o
	} else {
		res.Order = legs[0]
	}
	if len(legs) > 1 {
		for _, leg := range legs {
			if o, getErr := c.orders.Get(leg.OrderID); getErr == nil {
				res.Legs = append(res.Legs, o)
			} else {
				res.Legs = append(res.Legs, leg)
			}
		}
	}
	return res
}

// GetOrder returns the cached state of one order.
func (c *Client) GetOrder(id int64) (models.Order, error) {
	o, err := c.orders.Get(id)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %d: %w", id, err)
	}
	return o, nil
}

// CancelOrder asks the gateway to cancel id. The stored status changes only
// when the gateway reports it.
func (c *Client) CancelOrder(ctx context.Context, id int64) (OrderResult, error) {
	if !c.IsConnected() {
		return OrderResult{}, ErrNotConnected
	}
	existing, err := c.orders.Get(id)
	if err != nil {
		return OrderResult{}, fmt.Errorf("order %d: %w", id, err)
	}

	done := c.cancels.Register(id)
	if err := c.send(ctx, tws.CancelOrder{OrderID: id}); err != nil {
		c.cancels.Forget(id)
		return OrderResult{Order: existing, Outcome: pending.OutcomeRejected, Reason: err.Error()}, err
	}
	c.logger.WithField("order_id", id).Info("Cancel requested")

	outcome, waitErr := await(ctx, c, "cancel_order", done, c.timeouts.Cancel)
	if outcome == pending.OutcomeTimedOut {
		c.cancels.Forget(id)
	}
	return c.orderResult(id, []models.Order{existing}, outcome, waitErr), nil
}

// ModifyOrder resends id with the requested overrides. The store shows the
// transitional Modified status right away and the next gateway report
// replaces it; the outcome says whether that report arrived in time.
func (c *Client) ModifyOrder(ctx context.Context, id int64, m orders.Modification) (OrderResult, error) {
	if !c.IsConnected() {
		return OrderResult{}, ErrNotConnected
	}
	if m.Quantity.IsNegative() || m.LimitPrice.IsNegative() || m.StopPrice.IsNegative() {
		return OrderResult{}, fmt.Errorf("%w: overrides must not be negative", ErrInvalidOrder)
	}
	existing, err := c.orders.Get(id)
	if err != nil {
		return OrderResult{}, fmt.Errorf("order %d: %w", id, err)
	}
	if existing.Status.Terminal() {
		return OrderResult{}, fmt.Errorf("%w: order %d is %s", ErrInvalidOrder, id, existing.Status)
	}
	inst, err := contract.ToInstrument(existing.Symbol)
	if err != nil {
		return OrderResult{}, fmt.Errorf("failed to map symbol %q: %w", existing.Symbol, err)
	}

	modified := orders.ApplyModification(existing, m, c.now())
	c.orders.Put(modified)
	ack := c.acks.Register(id)

	outbound := modified
	outbound.Transmit = true
	if err := c.send(ctx, tws.PlaceOrder{OrderID: id, Contract: inst, Order: outbound}); err != nil {
		c.acks.Forget(id)
		c.orders.Put(existing)
		c.logger.WithError(err).WithField("order_id", id).Error("Failed to modify order")
		return OrderResult{Order: existing, Outcome: pending.OutcomeRejected, Reason: err.Error()}, err
	}
	c.logger.WithFields(logrus.Fields{
		"order_id": id,
		"quantity": modified.Quantity.String(),
		"tif":      modified.TimeInForce,
		"type":     modified.Type,
	}).Info("Order modification sent")

	outcome, waitErr := await(ctx, c, "modify_order", ack, c.timeouts.Modify)
	if outcome == pending.OutcomeTimedOut {
		c.acks.Forget(id)
	}
	return c.orderResult(id, []models.Order{modified}, outcome, waitErr), nil
}

// ListOrders returns a filtered snapshot. With refresh set the table is
// cleared and rebuilt from the gateway's open orders first; readers racing
// the refresh may see a partial table.
func (c *Client) ListOrders(ctx context.Context, f orders.Filter, refresh bool) (OrderList, error) {
	if !refresh {
		return OrderList{Orders: c.orders.List(f), Outcome: pending.OutcomeConfirmed}, nil
	}
	if !c.IsConnected() {
		return OrderList{}, ErrNotConnected
	}

	done := c.ends.Register(endOpenOrders)
	c.orders.Clear()
	if err := c.send(ctx, tws.ReqAllOpenOrders{}); err != nil {
		c.ends.Forget(endOpenOrders)
		return OrderList{}, err
	}

	outcome, waitErr := await(ctx, c, "list_orders", done, c.timeouts.OpenOrders)
	if outcome == pending.OutcomeTimedOut {
		c.ends.Forget(endOpenOrders)
	}
	return OrderList{Orders: c.orders.List(f), Outcome: outcome, Reason: reason(waitErr)}, nil
}

// IsNotFound reports whether err means the order id is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, orders.ErrOrderNotFound)
}
