// Package sim is an in-process gateway used to run the bridge without a
// broker. Orders are accepted and rest as Submitted; market data is a
// deterministic walk per symbol.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	account        = "DU12345"
	firstOrderID   = 1
	queueSize      = 1024
	codeNotFound   = 10147
	codeNoSecurity = 200
)

type placed struct {
	contract models.Instrument
	order    models.Order
	status   string
}

// Gateway implements tws.Transport.
type Gateway struct {
	mu        sync.Mutex
	sendMu    sync.RWMutex
	connected bool
	handler   func(tws.Event)
	events    chan tws.Event
	orders    map[int64]*placed
	positions map[string]models.Position
	streams   map[int64]models.Instrument
	ticks     int64
	now       func() time.Time
	logger    *logrus.Logger
}

func New(logger *logrus.Logger) *Gateway {
	return &Gateway{
		orders:    make(map[int64]*placed),
		positions: make(map[string]models.Position),
		streams:   make(map[int64]models.Instrument),
		now:       time.Now,
		logger:    logger,
	}
}

// SeedPosition preloads a position reported by ReqPositions.
func (g *Gateway) SeedPosition(symbol string, qty int64, avgCost decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[symbol] = models.Position{Account: account, Symbol: symbol, Quantity: qty, AvgCost: avgCost}
}

func (g *Gateway) Connect(ctx context.Context, host string, port, clientID int) error {
	g.mu.Lock()
	if g.connected {
		g.mu.Unlock()
		return nil
	}
	g.connected = true
	g.events = make(chan tws.Event, queueSize)
	events := g.events
	g.mu.Unlock()

	go g.readLoop(events)

	g.logger.WithField("client_id", clientID).Info("Simulated gateway connected")
	g.emit(tws.NextValidID{OrderID: g.nextOrderID()})
	return nil
}

func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return nil
	}
	g.connected = false
	g.mu.Unlock()

	g.emit(tws.ConnectionClosed{Reason: "disconnect requested"})

	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	g.mu.Lock()
	close(g.events)
	g.events = nil
	g.mu.Unlock()
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *Gateway) OnEvent(handler func(tws.Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

// readLoop is the single reader delivering events in order.
func (g *Gateway) readLoop(events <-chan tws.Event) {
	for ev := range events {
		g.mu.Lock()
		h := g.handler
		g.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

func (g *Gateway) emit(evs ...tws.Event) {
	g.sendMu.RLock()
	defer g.sendMu.RUnlock()

	g.mu.Lock()
	events := g.events
	g.mu.Unlock()
	if events == nil {
		return
	}
	for _, ev := range evs {
		events <- ev
	}
}

func (g *Gateway) Send(ctx context.Context, req tws.Request) error {
	if !g.IsConnected() {
		return fmt.Errorf("simulated gateway not connected")
	}

	switch r := req.(type) {
	case tws.PlaceOrder:
		g.placeOrder(r)
	case tws.CancelOrder:
		g.cancelOrder(r.OrderID)
	case tws.ReqAllOpenOrders:
		g.openOrders()
	case tws.ReqPositions:
		g.reportPositions()
	case tws.CancelPositions:
	case tws.ReqMktData:
		g.marketData(r)
	case tws.CancelMktData:
		g.dropStream(r.TickerID)
	case tws.ReqTickByTick:
		g.tickByTick(r)
	case tws.CancelTickByTick:
		g.dropStream(r.TickerID)
	case tws.ReqHistoricalData:
		g.historical(r)
	case tws.CancelHistoricalData:
	case tws.ReqIDs:
		g.emit(tws.NextValidID{OrderID: g.nextOrderID()})
	default:
		return fmt.Errorf("simulated gateway cannot handle %s", req.RequestKind())
	}
	return nil
}

func (g *Gateway) nextOrderID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := int64(firstOrderID)
	for id := range g.orders {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

func (g *Gateway) placeOrder(r tws.PlaceOrder) {
	now := g.now()

	g.mu.Lock()
	p, exists := g.orders[r.OrderID]
	if exists && (p.status == string(models.OrderStatusCancelled) || p.status == string(models.OrderStatusFilled)) {
		g.mu.Unlock()
		g.emit(tws.ErrorMessage{ID: r.OrderID, Code: 104, Message: "Cannot modify a filled or cancelled order", Time: now})
		return
	}
	status := string(models.OrderStatusSubmitted)
	if !r.Order.Transmit {
		status = string(models.OrderStatusPreSubmitted)
	}
	p = &placed{contract: r.Contract, order: r.Order, status: status}
	g.orders[r.OrderID] = p
	if r.Order.Transmit && r.Order.ParentID != 0 {
		// The transmitting leg releases the held siblings.
		for _, sibling := range g.orders {
			if sibling.order.OrderID == r.Order.ParentID || sibling.order.ParentID == r.Order.ParentID {
				sibling.status = string(models.OrderStatusSubmitted)
			}
		}
	}
	snapshot := *p
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"order_id": r.OrderID,
		"symbol":   r.Order.Symbol,
		"side":     r.Order.Side,
		"quantity": r.Order.Quantity.String(),
	}).Debug("Simulated order accepted")

	g.emit(
		tws.OrderStatus{OrderID: r.OrderID, Status: snapshot.status, Remaining: r.Order.Quantity, ParentID: r.Order.ParentID, Time: now},
		openOrderEvent(r.OrderID, snapshot, now),
	)
}

func (g *Gateway) cancelOrder(id int64) {
	now := g.now()

	g.mu.Lock()
	p, ok := g.orders[id]
	if ok {
		p.status = string(models.OrderStatusCancelled)
	}
	g.mu.Unlock()

	if !ok {
		g.emit(tws.ErrorMessage{ID: id, Code: codeNotFound, Message: fmt.Sprintf("OrderId %d that needs to be cancelled is not found.", id), Time: now})
		return
	}
	g.emit(tws.OrderStatus{OrderID: id, Status: string(models.OrderStatusCancelled), Time: now})
}

func (g *Gateway) openOrders() {
	now := g.now()

	g.mu.Lock()
	ids := make([]int64, 0, len(g.orders))
	for id, p := range g.orders {
		if p.status != string(models.OrderStatusCancelled) && p.status != string(models.OrderStatusFilled) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	evs := make([]tws.Event, 0, len(ids)+1)
	for _, id := range ids {
		evs = append(evs, openOrderEvent(id, *g.orders[id], now))
	}
	g.mu.Unlock()

	g.emit(append(evs, tws.OpenOrderEnd{})...)
}

func openOrderEvent(id int64, p placed, now time.Time) tws.OpenOrder {
	return tws.OpenOrder{
		OrderID:       id,
		Contract:      p.contract,
		Action:        string(p.order.Side),
		OrderType:     string(p.order.Type),
		TotalQuantity: p.order.Quantity,
		LmtPrice:      p.order.LimitPrice.Decimal,
		AuxPrice:      p.order.StopPrice.Decimal,
		TIF:           p.order.TimeInForce,
		OrderRef:      p.order.ClientRef,
		ParentID:      p.order.ParentID,
		Transmit:      p.order.Transmit,
		Status:        p.status,
		Time:          now,
	}
}

func (g *Gateway) reportPositions() {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.positions))
	for s := range g.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	evs := make([]tws.Event, 0, len(symbols)+1)
	for _, s := range symbols {
		pos := g.positions[s]
		inst, err := contract.ToInstrument(s)
		if err != nil {
			continue
		}
		evs = append(evs, tws.Position{
			Account:  pos.Account,
			Contract: inst,
			Quantity: decimal.NewFromInt(pos.Quantity),
			AvgCost:  pos.AvgCost,
		})
	}
	g.mu.Unlock()

	g.emit(append(evs, tws.PositionEnd{})...)
}

// basePrice gives every symbol a stable price between 20 and 520.
func basePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	cents := int64(h.Sum32()%50_000) + 2_000
	return decimal.New(cents, -2)
}

func (g *Gateway) step() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ticks++
	return decimal.New(g.ticks%7-3, -2)
}

func (g *Gateway) marketData(r tws.ReqMktData) {
	symbol := contract.FromInstrument(r.Contract)
	if symbol == "" {
		g.emit(tws.ErrorMessage{ID: r.TickerID, Code: codeNoSecurity, Message: "No security definition has been found", Time: g.now()})
		return
	}
	if !r.Snapshot {
		g.mu.Lock()
		g.streams[r.TickerID] = r.Contract
		g.mu.Unlock()
	}

	now := g.now()
	mid := basePrice(symbol).Add(g.step())
	spread := decimal.New(1, -2)
	evs := []tws.Event{
		tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickBid, Price: mid.Sub(spread), Time: now},
		tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickAsk, Price: mid.Add(spread), Time: now},
		tws.TickSize{TickerID: r.TickerID, TickType: tws.TickBidSize, Size: 100, Time: now},
		tws.TickSize{TickerID: r.TickerID, TickType: tws.TickAskSize, Size: 200, Time: now},
		tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickLast, Price: mid, Time: now},
		tws.TickPrice{TickerID: r.TickerID, TickType: tws.TickClose, Price: basePrice(symbol), Time: now},
	}
	if r.Snapshot {
		evs = append(evs, tws.TickSnapshotEnd{TickerID: r.TickerID})
	}
	g.emit(evs...)
}

func (g *Gateway) tickByTick(r tws.ReqTickByTick) {
	symbol := contract.FromInstrument(r.Contract)
	g.mu.Lock()
	g.streams[r.TickerID] = r.Contract
	g.mu.Unlock()

	g.emit(tws.TradeTick{
		TickerID: r.TickerID,
		TickType: tws.TradeLast,
		Price:    basePrice(symbol).Add(g.step()),
		Size:     decimal.NewFromInt(100),
		Time:     g.now(),
	})
}

func (g *Gateway) dropStream(tickerID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.streams, tickerID)
}

// historical returns daily bars ending at the request's end date, or today.
func (g *Gateway) historical(r tws.ReqHistoricalData) {
	symbol := contract.FromInstrument(r.Contract)
	end := g.now()
	if len(r.EndDateTime) >= 8 {
		if t, err := time.Parse("20060102", r.EndDateTime[:8]); err == nil {
			end = t
		}
	}

	const bars = 20
	base := basePrice(symbol)
	evs := make([]tws.Event, 0, bars+1)
	for i := bars - 1; i >= 0; i-- {
		day := end.AddDate(0, 0, -i)
		drift := decimal.New(int64((bars-i)%5-2), 0)
		open := base.Add(drift)
		evs = append(evs, tws.HistoricalBar{ReqID: r.ReqID, Bar: models.HistoricalBar{
			Time:   day.Format("20060102"),
			Open:   open,
			High:   open.Add(decimal.NewFromInt(1)),
			Low:    open.Sub(decimal.NewFromInt(1)),
			Close:  open.Add(decimal.New(5, -1)),
			Volume: 1_000_000 + int64(i)*1_000,
		}})
	}
	evs = append(evs, tws.HistoricalDataEnd{ReqID: r.ReqID, End: end.Format("20060102")})
	g.emit(evs...)
}
