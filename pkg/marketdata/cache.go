// Package marketdata caches the latest quote per subscription and a bounded
// log of trade ticks.
package marketdata

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/shopspring/decimal"
)

// Field names the part of a quote one tick updates. Bid, ask, last and
// close arrive as separate events, so a cached quote may be partly fresh.
type Field int

const (
	FieldBid Field = iota
	FieldAsk
	FieldLast
	FieldClose
	FieldBidSize
	FieldAskSize
)

type quoteEntry struct {
	quote models.Quote
	seq   uint64
}

type Cache struct {
	mu     sync.RWMutex
	quotes map[int64]*quoteEntry
	seq    uint64
	trades *TradeLog
	now    func() time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now for window filtering and eviction.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(tradeCapacity int, tradeMaxAge time.Duration, opts ...Option) *Cache {
	c := &Cache{
		quotes: make(map[int64]*quoteEntry),
		trades: NewTradeLog(tradeCapacity, tradeMaxAge),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entry(tickerID int64, symbol string) *quoteEntry {
	e, ok := c.quotes[tickerID]
	if !ok {
		e = &quoteEntry{quote: models.Quote{TickerID: tickerID, Symbol: symbol}}
		c.quotes[tickerID] = e
	}
	if symbol != "" {
		e.quote.Symbol = symbol
	}
	c.seq++
	e.seq = c.seq
	return e
}

// OnPrice updates one price field of the quote cached for tickerID.
func (c *Cache) OnPrice(tickerID int64, symbol string, field Field, value decimal.Decimal, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(tickerID, symbol)
	switch field {
	case FieldBid:
		e.quote.BidPrice = value
	case FieldAsk:
		e.quote.AskPrice = value
	case FieldLast:
		e.quote.LastPrice = value
	case FieldClose:
		e.quote.ClosePrice = value
	}
	e.quote.Timestamp = ts
}

// OnSize updates one size field of the quote cached for tickerID.
func (c *Cache) OnSize(tickerID int64, symbol string, field Field, size int64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(tickerID, symbol)
	switch field {
	case FieldBidSize:
		e.quote.BidSize = size
	case FieldAskSize:
		e.quote.AskSize = size
	}
	e.quote.Timestamp = ts
}

func (c *Cache) OnTrade(tick models.TradeTick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades.Append(tick, c.now())
}

func (c *Cache) HasQuote(tickerID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.quotes[tickerID]
	return ok
}

// Quote returns the quote cached for one ticker id.
func (c *Cache) Quote(tickerID int64) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.quotes[tickerID]
	if !ok {
		return models.Quote{}, false
	}
	return e.quote, true
}

// LatestQuote returns the most recently updated quote for symbol across
// all of its subscriptions.
func (c *Cache) LatestQuote(symbol string) (models.Quote, bool) {
	quotes := c.quotesFor(symbolSet([]string{symbol}), time.Time{})
	if len(quotes) == 0 {
		return models.Quote{}, false
	}
	return quotes[len(quotes)-1], true
}

func (c *Cache) LatestTrade(symbol string) (models.TradeTick, bool) {
	symbol = strings.ToUpper(symbol)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trades.Latest(func(t models.TradeTick) bool { return strings.ToUpper(t.Symbol) == symbol })
}

// QuotesSince returns quotes for symbols updated within window of now, in
// update order.
func (c *Cache) QuotesSince(symbols []string, window time.Duration) []models.Quote {
	return c.quotesFor(symbolSet(symbols), c.now().Add(-window))
}

// TradesSince returns trade ticks for symbols with timestamp >= now-window,
// in arrival order.
func (c *Cache) TradesSince(symbols []string, window time.Duration) []models.TradeTick {
	set := symbolSet(symbols)
	cutoff := c.now().Add(-window)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trades.Filter(func(t models.TradeTick) bool {
		return set[strings.ToUpper(t.Symbol)] && !t.Timestamp.Before(cutoff)
	})
}

// TradeCount reports how many ticks the log currently holds.
func (c *Cache) TradeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trades.Len()
}

// Drop forgets the quote for a cancelled subscription.
func (c *Cache) Drop(tickerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quotes, tickerID)
}

func (c *Cache) quotesFor(set map[string]bool, cutoff time.Time) []models.Quote {
	c.mu.RLock()
	entries := make([]*quoteEntry, 0, len(c.quotes))
	for _, e := range c.quotes {
		if !set[strings.ToUpper(e.quote.Symbol)] {
			continue
		}
		if e.quote.Timestamp.Before(cutoff) {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]models.Quote, len(entries))
	for i, e := range entries {
		out[i] = e.quote
	}
	return out
}

func symbolSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return set
}
