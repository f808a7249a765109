package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/shopspring/decimal"
)

// BracketSize is the number of ids a bracket consumes: parent, take-profit, stop-loss.
const BracketSize = 3

// BuildBracket turns parent into a three leg group using ids in order.
// Only the stop-loss leg is transmitted, which releases the whole group.
func BuildBracket(parent models.Order, ids []int64, takeProfit, stopLoss decimal.Decimal) ([]models.Order, error) {
	if len(ids) != BracketSize {
		return nil, fmt.Errorf("bracket needs %d ids, got %d", BracketSize, len(ids))
	}
	if !takeProfit.IsPositive() || !stopLoss.IsPositive() {
		return nil, fmt.Errorf("bracket needs positive take-profit and stop-loss prices")
	}

	parent.OrderID = ids[0]
	parent.ParentID = 0
	parent.Transmit = false
	parent.Status = models.OrderStatusBracketPending

	takeProfitLeg := child(parent, ids[1], "tp")
	takeProfitLeg.Type = models.OrderTypeLimit
	takeProfitLeg.LimitPrice = decimal.NewNullDecimal(takeProfit)

	stopLossLeg := child(parent, ids[2], "sl")
	stopLossLeg.Type = models.OrderTypeStop
	stopLossLeg.StopPrice = decimal.NewNullDecimal(stopLoss)
	stopLossLeg.Transmit = true

	return []models.Order{parent, takeProfitLeg, stopLossLeg}, nil
}

func child(parent models.Order, id int64, suffix string) models.Order {
	ref := ""
	if parent.ClientRef != "" {
		ref = parent.ClientRef + "-" + suffix
	}
	return models.Order{
		OrderID:     id,
		ClientRef:   ref,
		Symbol:      parent.Symbol,
		AssetType:   parent.AssetType,
		Side:        parent.Side.Opposite(),
		TimeInForce: parent.TimeInForce,
		Quantity:    parent.Quantity,
		Status:      models.OrderStatusBracketPending,
		ParentID:    parent.OrderID,
		Transmit:    false,
		LastUpdated: parent.LastUpdated,
	}
}

// KeepTimeInForce leaves the time in force of a modified order untouched.
const KeepTimeInForce = "-"

// Modification lists requested overrides. Zero quantity or price, and an
// empty or KeepTimeInForce time in force, mean "retain".
type Modification struct {
	Quantity    decimal.Decimal
	TimeInForce string
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
}

func (m Modification) changesPrice() bool {
	return m.LimitPrice.IsPositive() || m.StopPrice.IsPositive()
}

// ApplyModification computes the locally visible order after a change
// request. The order type is derived again only when a price changed.
func ApplyModification(o models.Order, m Modification, now time.Time) models.Order {
	if m.Quantity.IsPositive() {
		o.Quantity = m.Quantity
	}
	if tif := strings.TrimSpace(m.TimeInForce); tif != "" && tif != KeepTimeInForce {
		o.TimeInForce = strings.ToUpper(tif)
	}
	if m.changesPrice() {
		if m.LimitPrice.IsPositive() {
			o.LimitPrice = decimal.NewNullDecimal(m.LimitPrice)
		}
		if m.StopPrice.IsPositive() {
			o.StopPrice = decimal.NewNullDecimal(m.StopPrice)
		}
		o.Type = DeriveType(o.LimitPrice.Decimal, o.StopPrice.Decimal)
	}
	o.Status = models.OrderStatusModified
	o.LastUpdated = now
	return o
}

// DeriveType picks the order type implied by which prices are set.
func DeriveType(limit, stop decimal.Decimal) models.OrderType {
	switch {
	case limit.IsPositive() && stop.IsPositive():
		return models.OrderTypeStopLimit
	case limit.IsPositive():
		return models.OrderTypeLimit
	case stop.IsPositive():
		return models.OrderTypeStop
	}
	return models.OrderTypeMarket
}
