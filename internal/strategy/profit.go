package strategy

import (
	"sync"

	"cointoss/internal/event"

	"github.com/shopspring/decimal"
)

// PositionSource publishes ledger changes.
type PositionSource interface {
	ObservePositions(fn func(event.PositionEvent)) (cancel func())
}

// ProfitTracker accumulates realized profit from position removals.
type ProfitTracker struct {
	mu       sync.Mutex
	realized decimal.Decimal
	closes   int
	wins     int
}

// TrackProfit attaches a tracker to src.
func TrackProfit(src PositionSource) (*ProfitTracker, func()) {
	t := &ProfitTracker{}
	return t, src.ObservePositions(t.OnPosition)
}

// OnPosition records one ledger event.
func (t *ProfitTracker) OnPosition(ev event.PositionEvent) {
	if ev.Kind != event.PositionRemoved {
		return
	}
	pnl := ev.Realized()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.realized = t.realized.Add(pnl)
	t.closes++
	if pnl.IsPositive() {
		t.wins++
	}
}

// Realized returns the total realized profit.
func (t *ProfitTracker) Realized() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realized
}

// WinRate returns the share of profitable closes, or zero before the first close.
func (t *ProfitTracker) WinRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closes == 0 {
		return 0
	}
	return float64(t.wins) / float64(t.closes)
}
