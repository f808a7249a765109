// Package orders holds the authoritative table of known orders.
package orders

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("order not found")

// Update carries broker-reported fields for one order. Zero-valued fields
// are treated as "not reported" and leave the stored value alone.
type Update struct {
	OrderID     int64
	ClientRef   string
	Symbol      string
	AssetType   models.AssetType
	Side        models.OrderSide
	Type        models.OrderType
	TimeInForce string
	Quantity    decimal.NullDecimal
	LimitPrice  decimal.NullDecimal
	StopPrice   decimal.NullDecimal
	Status      models.OrderStatus
	ParentID    int64
	Transmit    *bool
	Time        time.Time
}

// Store is safe for concurrent use. Event handlers write through Apply;
// the submission path inserts through Put.
type Store struct {
	mu     sync.RWMutex
	orders map[int64]*models.Order
}

func NewStore() *Store {
	return &Store{orders: make(map[int64]*models.Order)}
}

// Put inserts or replaces a locally built order.
func (s *Store) Put(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.orders[o.OrderID] = &cp
}

// Apply merges u into the stored order, creating it when the broker reports
// an order this process never placed. Applying the same update twice leaves
// the same result as applying it once. The bool reports whether the order
// was newly created.
func (s *Store) Apply(u Update) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[u.OrderID]
	if !ok {
		o = &models.Order{OrderID: u.OrderID, Transmit: true}
		s.orders[u.OrderID] = o
	}
	merge(o, u)
	return *o, !ok
}

// merge moves LastUpdated only when the update changed something, so a
// duplicate push leaves the order exactly as it was.
func merge(o *models.Order, u Update) {
	before := *o
	if u.ClientRef != "" {
		o.ClientRef = u.ClientRef
	}
	if u.Symbol != "" {
		o.Symbol = u.Symbol
	}
	if u.AssetType != "" {
		o.AssetType = u.AssetType
	}
	if u.Side != "" {
		o.Side = u.Side
	}
	if u.Type != "" {
		o.Type = u.Type
	}
	if u.TimeInForce != "" {
		o.TimeInForce = u.TimeInForce
	}
	if u.Quantity.Valid {
		o.Quantity = u.Quantity.Decimal
	}
	if u.LimitPrice.Valid {
		o.LimitPrice = normalizePrice(u.LimitPrice)
	}
	if u.StopPrice.Valid {
		o.StopPrice = normalizePrice(u.StopPrice)
	}
	if u.ParentID != 0 {
		o.ParentID = u.ParentID
	}
	if u.Transmit != nil {
		o.Transmit = *u.Transmit
	}
	// A late non-terminal push must not resurrect a finished order.
	if u.Status != "" && !(o.Status.Terminal() && !u.Status.Terminal()) {
		o.Status = u.Status
	}
	if (before.LastUpdated.IsZero() || changed(before, *o)) && u.Time.After(o.LastUpdated) {
		o.LastUpdated = u.Time
	}
}

func changed(a, b models.Order) bool {
	return a.ClientRef != b.ClientRef ||
		a.Symbol != b.Symbol ||
		a.AssetType != b.AssetType ||
		a.Side != b.Side ||
		a.Type != b.Type ||
		a.TimeInForce != b.TimeInForce ||
		!a.Quantity.Equal(b.Quantity) ||
		!samePrice(a.LimitPrice, b.LimitPrice) ||
		!samePrice(a.StopPrice, b.StopPrice) ||
		a.ParentID != b.ParentID ||
		a.Transmit != b.Transmit ||
		a.Status != b.Status
}

func samePrice(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// Gateways report an unset price as zero.
func normalizePrice(p decimal.NullDecimal) decimal.NullDecimal {
	if p.Valid && p.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	return p
}

func (s *Store) Get(id int64) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Clear empties the table ahead of a full refresh. Readers running
// concurrently may see the empty table until the refresh repopulates it.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[int64]*models.Order)
}

type StatusFilter string

const (
	StatusAll    StatusFilter = "all"
	StatusOpen   StatusFilter = "open"
	StatusClosed StatusFilter = "closed"
)

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

type Filter struct {
	Symbols   []string
	Side      models.OrderSide
	Status    StatusFilter
	After     time.Time
	Until     time.Time
	Direction Direction
	Limit     int
}

// List returns a filtered, sorted and capped copy of the table.
func (s *Store) List(f Filter) []models.Order {
	symbols := make(map[string]bool, len(f.Symbols))
	for _, sym := range f.Symbols {
		symbols[strings.ToUpper(sym)] = true
	}

	s.mu.RLock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if len(symbols) > 0 && !symbols[strings.ToUpper(o.Symbol)] {
			continue
		}
		if f.Side != "" && o.Side != f.Side {
			continue
		}
		if !f.Status.matches(o.Status) {
			continue
		}
		if !f.After.IsZero() && o.LastUpdated.Before(f.After) {
			continue
		}
		if !f.Until.IsZero() && o.LastUpdated.After(f.Until) {
			continue
		}
		out = append(out, *o)
	}
	s.mu.RUnlock()

	asc := f.Direction == Ascending
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastUpdated.Equal(b.LastUpdated) {
			if asc {
				return a.LastUpdated.Before(b.LastUpdated)
			}
			return a.LastUpdated.After(b.LastUpdated)
		}
		if asc {
			return a.OrderID < b.OrderID
		}
		return a.OrderID > b.OrderID
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (f StatusFilter) matches(s models.OrderStatus) bool {
	closed := s.Terminal() || s == models.OrderStatusInactive
	switch f {
	case StatusOpen:
		return !closed
	case StatusClosed:
		return closed
	}
	return true
}
