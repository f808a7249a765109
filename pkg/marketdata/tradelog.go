package marketdata

import (
	"time"

	"github.com/gregtusar/twsbridge/pkg/models"
)

// -----------------------------------------------------------------------------
// TradeLog is a fixed-size circular buffer of trade ticks with optional
// age-based eviction. It is not safe for concurrent use; Cache guards it.
// -----------------------------------------------------------------------------

type TradeLog struct {
	data     []models.TradeTick
	capacity int
	index    int // Next write position
	size     int
	maxAge   time.Duration
}

// -----------------------------------------------------------------------------

// NewTradeLog creates a log holding at most capacity ticks. A zero maxAge
// disables age eviction.
func NewTradeLog(capacity int, maxAge time.Duration) *TradeLog {
	if capacity <= 0 {
		capacity = 10000
	}
	return &TradeLog{
		data:     make([]models.TradeTick, capacity),
		capacity: capacity,
		maxAge:   maxAge,
	}
}

// -----------------------------------------------------------------------------

// Append stores a tick, overwriting the oldest one when full, then drops
// ticks older than maxAge relative to now.
func (l *TradeLog) Append(tick models.TradeTick, now time.Time) {
	l.data[l.index] = tick
	l.index = (l.index + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
	l.Evict(now)
}

// -----------------------------------------------------------------------------

// Evict drops ticks from the old end whose timestamp is before now-maxAge.
func (l *TradeLog) Evict(now time.Time) int {
	if l.maxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-l.maxAge)
	dropped := 0
	for l.size > 0 {
		oldest := l.data[l.start()]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		l.data[l.start()] = models.TradeTick{}
		l.size--
		dropped++
	}
	return dropped
}

// -----------------------------------------------------------------------------

// All returns ticks oldest to newest.
func (l *TradeLog) All() []models.TradeTick {
	return l.Filter(func(models.TradeTick) bool { return true })
}

// Filter returns matching ticks oldest to newest.
func (l *TradeLog) Filter(keep func(models.TradeTick) bool) []models.TradeTick {
	out := make([]models.TradeTick, 0)
	start := l.start()
	for i := 0; i < l.size; i++ {
		t := l.data[(start+i)%l.capacity]
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// Latest returns the newest tick matching keep.
func (l *TradeLog) Latest(keep func(models.TradeTick) bool) (models.TradeTick, bool) {
	for i := 1; i <= l.size; i++ {
		t := l.data[(l.index-i+l.capacity)%l.capacity]
		if keep(t) {
			return t, true
		}
	}
	return models.TradeTick{}, false
}

func (l *TradeLog) Len() int {
	return l.size
}

func (l *TradeLog) Capacity() int {
	return l.capacity
}

func (l *TradeLog) start() int {
	return (l.index - l.size + l.capacity) % l.capacity
}
