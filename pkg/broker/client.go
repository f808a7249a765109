// Package broker is the synchronous facade over the gateway's event stream.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/gregtusar/twsbridge/pkg/correlator"
	"github.com/gregtusar/twsbridge/pkg/ids"
	"github.com/gregtusar/twsbridge/pkg/marketdata"
	"github.com/gregtusar/twsbridge/pkg/metrics"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/orders"
	"github.com/gregtusar/twsbridge/pkg/pending"
	"github.com/gregtusar/twsbridge/pkg/portfolio"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/sirupsen/logrus"
)

// Keys in the end-of-list registry. Request ids are always positive so
// these never collide with historical or snapshot requests.
const (
	endOpenOrders int64 = -1
	endPositions  int64 = -2
)

type Client struct {
	transport tws.Transport
	config    Config
	timeouts  Timeouts
	logger    *logrus.Logger
	metrics   *metrics.Metrics

	orderIDs   *ids.Allocator
	requestIDs *ids.Allocator
	correlator *correlator.Correlator
	orders     *orders.Store
	quotes     *marketdata.Cache
	positions  *portfolio.Positions
	history    *portfolio.History

	acks      *pending.Registry[models.Order]
	cancels   *pending.Registry[models.Order]
	ends      *pending.Registry[struct{}]
	firstTick *pending.Registry[struct{}]

	handlers map[tws.EventKind]func(tws.Event)
	now      func() time.Time
}

// NewClient wires the stores to transport. m may be nil, in which case the
// client gets its own metrics registry.
func NewClient(transport tws.Transport, cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Client {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.RequestIDBase <= 0 {
		cfg.RequestIDBase = 900_000_000
	}
	if cfg.TradeLogCapacity <= 0 {
		cfg.TradeLogCapacity = 10_000
	}
	if m == nil {
		m = metrics.New()
	}

	c := &Client{
		transport:  transport,
		config:     cfg,
		timeouts:   cfg.Timeouts,
		logger:     logger,
		metrics:    m,
		orderIDs:   ids.NewAllocator(cfg.FallbackOrderID, logger),
		requestIDs: ids.NewSequence(cfg.RequestIDBase, logger),
		correlator: correlator.New(),
		orders:     orders.NewStore(),
		quotes:     marketdata.NewCache(cfg.TradeLogCapacity, cfg.TradeLogMaxAge),
		positions:  portfolio.NewPositions(),
		history:    portfolio.NewHistory(),
		acks:       pending.NewRegistry[models.Order](),
		cancels:    pending.NewRegistry[models.Order](),
		ends:       pending.NewRegistry[struct{}](),
		firstTick:  pending.NewRegistry[struct{}](),
		now:        time.Now,
	}
	c.handlers = map[tws.EventKind]func(tws.Event){
		tws.KindNextValidID:       on(c.onNextValidID),
		tws.KindOrderStatus:       on(c.onOrderStatus),
		tws.KindOpenOrder:         on(c.onOpenOrder),
		tws.KindOpenOrderEnd:      on(c.onOpenOrderEnd),
		tws.KindPosition:          on(c.onPosition),
		tws.KindPositionEnd:       on(c.onPositionEnd),
		tws.KindTickPrice:         on(c.onTickPrice),
		tws.KindTickSize:          on(c.onTickSize),
		tws.KindTradeTick:         on(c.onTradeTick),
		tws.KindHistoricalBar:     on(c.onHistoricalBar),
		tws.KindHistoricalDataEnd: on(c.onHistoricalDataEnd),
		tws.KindTickSnapshotEnd:   on(c.onTickSnapshotEnd),
		tws.KindError:             on(c.onError),
		tws.KindConnectionClosed:  on(c.onConnectionClosed),
	}
	transport.OnEvent(c.HandleEvent)
	return c
}

// on adapts a typed handler to the dispatch table.
func on[T tws.Event](fn func(T)) func(tws.Event) {
	return func(ev tws.Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	}
}

// HandleEvent routes one gateway event to the store that owns it. Kinds
// without a handler are ignored.
func (c *Client) HandleEvent(ev tws.Event) {
	c.metrics.Event(string(ev.Kind()))
	if h, ok := c.handlers[ev.Kind()]; ok {
		h(ev)
	}
}

// Connect opens the transport and waits for the gateway's next valid order
// id. Without it, order ids come from the configured fallback seed.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{
		"host":      c.config.Host,
		"port":      c.config.Port,
		"client_id": c.config.ClientID,
	}).Info("Connecting to gateway")

	if err := c.transport.Connect(ctx, c.config.Host, c.config.Port, c.config.ClientID); err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}

	start := c.now()
	ready := c.orderIDs.WaitReady(ctx, c.timeouts.NextValidID)
	outcome := pending.OutcomeConfirmed
	if !ready {
		outcome = pending.OutcomeTimedOut
		c.logger.WithField("timeout", c.timeouts.NextValidID).
			Warn("Gateway did not report a next valid id, order ids will use the fallback seed")
	}
	c.metrics.Wait("next_valid_id", string(outcome), c.now().Sub(start))
	return nil
}

func (c *Client) Disconnect() error {
	if err := c.transport.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from gateway: %w", err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

// OrderIDsReady reports whether order ids are seeded by the gateway rather
// than the fallback.
func (c *Client) OrderIDsReady() bool {
	return c.orderIDs.Ready() && !c.orderIDs.Degraded()
}

func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

func (c *Client) send(ctx context.Context, req tws.Request) error {
	if !c.transport.IsConnected() {
		return ErrNotConnected
	}
	if err := c.transport.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to send %s: %w", req.RequestKind(), err)
	}
	return nil
}

// await waits on f and records how the wait ended.
func await[T any](ctx context.Context, c *Client, op string, f *pending.Future[T], timeout time.Duration) (pending.Outcome, error) {
	start := c.now()
	_, err := f.Wait(ctx, timeout)
	outcome := pending.Classify(err)
	c.metrics.Wait(op, string(outcome), c.now().Sub(start))

	if outcome != pending.OutcomeConfirmed {
		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"outcome": outcome,
			"timeout": timeout,
		}).WithError(err).Debug("Wait on gateway ended without confirmation")
	}
	return outcome, err
}
