// Package portfolio keeps the position snapshot and historical bar buffers.
package portfolio

import (
	"strings"
	"sync"

	"github.com/gregtusar/twsbridge/pkg/models"
)

// Positions is rebuilt wholesale on every refresh. Between Begin and End a
// reader may observe an empty or partial set; callers that need the full
// set wait for the refresh to complete.
type Positions struct {
	mu         sync.RWMutex
	items      []models.Position
	index      map[string]int
	generation uint64
	refreshing bool
}

func NewPositions() *Positions {
	return &Positions{index: make(map[string]int)}
}

// Begin discards the current snapshot and starts a new refresh generation.
func (p *Positions) Begin() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
	p.index = make(map[string]int)
	p.generation++
	p.refreshing = true
	return p.generation
}

// Add records one position. A repeat for the same account and symbol
// within a generation replaces the earlier entry.
func (p *Positions) Add(pos models.Position) {
	key := pos.Account + "|" + strings.ToUpper(pos.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[key]; ok {
		p.items[i] = pos
		return
	}
	p.index[key] = len(p.items)
	p.items = append(p.items, pos)
}

// End marks the current refresh complete.
func (p *Positions) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshing = false
}

func (p *Positions) Refreshing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshing
}

func (p *Positions) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

func (p *Positions) Snapshot() []models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Position, len(p.items))
	copy(out, p.items)
	return out
}

// Find returns the first position held in symbol across accounts.
func (p *Positions) Find(symbol string) (models.Position, bool) {
	symbol = strings.ToUpper(symbol)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pos := range p.items {
		if strings.ToUpper(pos.Symbol) == symbol {
			return pos, true
		}
	}
	return models.Position{}, false
}
