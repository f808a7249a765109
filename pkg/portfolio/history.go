package portfolio

import (
	"sync"

	"github.com/gregtusar/twsbridge/pkg/models"
)

type series struct {
	symbol string
	bars   []models.HistoricalBar
	done   bool
}

// History accumulates bars per request id until the end-of-history event.
type History struct {
	mu     sync.RWMutex
	series map[int64]*series
}

func NewHistory() *History {
	return &History{series: make(map[int64]*series)}
}

func (h *History) Begin(reqID int64, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series[reqID] = &series{symbol: symbol}
}

// Append adds a bar in arrival order. Bars for request ids that were never
// begun, or were already dropped, are discarded and Append reports false.
func (h *History) Append(reqID int64, bar models.HistoricalBar) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[reqID]
	if !ok {
		return false
	}
	s.bars = append(s.bars, bar)
	return true
}

func (h *History) End(reqID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[reqID]; ok {
		s.done = true
	}
}

func (h *History) Done(reqID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.series[reqID]
	return ok && s.done
}

// Bars returns up to limit bars in arrival order. limit <= 0 returns all.
func (h *History) Bars(reqID int64, limit int) []models.HistoricalBar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.series[reqID]
	if !ok {
		return []models.HistoricalBar{}
	}
	n := len(s.bars)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.HistoricalBar, n)
	copy(out, s.bars[:n])
	return out
}

func (h *History) Drop(reqID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.series, reqID)
}
