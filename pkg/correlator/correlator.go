// Package correlator remembers which symbol and purpose each outbound id
// was issued for, so inbound events can be attributed.
package correlator

import (
	"sort"
	"sync"
	"time"
)

// Unknown is reported for ids that were never registered or were removed.
const Unknown = "Unknown"

type Kind int

const (
	KindOrderSubmit Kind = iota
	KindSnapshot
	KindSubscription
	KindHistorical
)

func (k Kind) String() string {
	switch k {
	case KindOrderSubmit:
		return "order_submit"
	case KindSnapshot:
		return "snapshot"
	case KindSubscription:
		return "subscription"
	case KindHistorical:
		return "historical"
	}
	return "unknown"
}

type Channel string

const (
	ChannelNone  Channel = ""
	ChannelQuote Channel = "quote"
	ChannelTrade Channel = "trade"
)

type Entry struct {
	RequestID int64
	Kind      Kind
	Channel   Channel
	Symbol    string
	CreatedAt time.Time
}

// Correlator keeps order ids and ticker/request ids in separate tables.
type Correlator struct {
	mu       sync.RWMutex
	orders   map[int64]Entry
	requests map[int64]Entry
}

func New() *Correlator {
	return &Correlator{
		orders:   make(map[int64]Entry),
		requests: make(map[int64]Entry),
	}
}

func (c *Correlator) RegisterOrder(id int64, symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[id] = Entry{RequestID: id, Kind: KindOrderSubmit, Symbol: symbol, CreatedAt: time.Now()}
}

func (c *Correlator) RegisterRequest(id int64, symbol string, kind Kind, channel Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[id] = Entry{RequestID: id, Kind: kind, Channel: channel, Symbol: symbol, CreatedAt: time.Now()}
}

func (c *Correlator) LookupOrder(id int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.orders[id]
	return e, ok
}

func (c *Correlator) LookupRequest(id int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.requests[id]
	return e, ok
}

// OrderSymbol never fails: late or duplicate events may reference stale ids.
func (c *Correlator) OrderSymbol(id int64) string {
	if e, ok := c.LookupOrder(id); ok {
		return e.Symbol
	}
	return Unknown
}

func (c *Correlator) RequestSymbol(id int64) string {
	if e, ok := c.LookupRequest(id); ok {
		return e.Symbol
	}
	return Unknown
}

// Unregister drops a request mapping. Subscriptions only go away through here.
func (c *Correlator) Unregister(id int64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.requests[id]
	if ok {
		delete(c.requests, id)
	}
	return e, ok
}

// Subscriptions lists standing subscriptions on a channel, oldest id first.
// ChannelNone lists every channel.
func (c *Correlator) Subscriptions(channel Channel) []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.requests))
	for _, e := range c.requests {
		if e.Kind != KindSubscription {
			continue
		}
		if channel != ChannelNone && e.Channel != channel {
			continue
		}
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// ActiveSubscription returns the oldest standing subscription for symbol on channel.
func (c *Correlator) ActiveSubscription(symbol string, channel Channel) (Entry, bool) {
	for _, e := range c.Subscriptions(channel) {
		if e.Symbol == symbol {
			return e, true
		}
	}
	return Entry{}, false
}
