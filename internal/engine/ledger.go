package engine

import (
	"log/slog"
	"sync"

	"cointoss/internal/domain"
	"cointoss/internal/event"

	"github.com/shopspring/decimal"
)

// Ledger nets confirmed fills into directional positions.
//
// Apply must be called from a single writer (the reconciler's drain loop); readers may call
// the accessors concurrently.
type Ledger struct {
	mu        sync.RWMutex
	positions []*domain.Position

	market     decimal.Decimal
	unrealized decimal.Decimal
	size       decimal.Decimal
	price      decimal.Decimal

	events event.Signal[event.PositionEvent]
	logger *slog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		unrealized: decimal.Zero,
		size:       decimal.Zero,
		price:      decimal.Zero,
		logger:     logger.With("module", "ledger"),
	}
}

// Observe registers fn for added/removed events.
func (l *Ledger) Observe(fn func(event.PositionEvent)) (cancel func()) {
	return l.events.Observe(fn)
}

// Apply nets a fill against the current positions.
func (l *Ledger) Apply(f domain.Fill) {
	if !f.Size.IsPositive() {
		return
	}

	l.mu.Lock()
	events := l.apply(f)
	l.recalculate()
	l.mu.Unlock()

	for _, e := range events {
		l.events.Emit(e)
	}
}

func (l *Ledger) apply(f domain.Fill) []event.PositionEvent {
	var events []event.PositionEvent

	// Same direction at the same price: merge.
	for _, p := range l.positions {
		if p.Direction == f.Direction && p.Price.Equal(f.Price) {
			p.Size = p.Size.Add(f.Size)
			events = append(events, event.PositionEvent{
				Kind: event.PositionAdded, Position: *p, Size: f.Size, Price: f.Price, Time: f.Time,
			})
			return events
		}
	}

	// Close opposite positions first in, first out.
	size := f.Size
	kept := l.positions[:0:0]
	for i, p := range l.positions {
		if p.Direction != f.Direction.Inverse() || size.IsZero() {
			kept = append(kept, p)
			continue
		}

		remaining := size.Sub(p.Size)
		switch remaining.Sign() {
		case 1, 0:
			events = append(events, event.PositionEvent{
				Kind: event.PositionRemoved, Position: *p, Size: p.Size, Price: f.Price, Time: f.Time,
			})
			size = remaining
		default:
			before := *p
			p.Size = p.Size.Sub(size)
			events = append(events, event.PositionEvent{
				Kind: event.PositionRemoved, Position: before, Size: size, Price: f.Price, Time: f.Time,
			})
			size = decimal.Zero
			kept = append(kept, p)
		}
		if size.IsZero() {
			kept = append(kept, l.positions[i+1:]...)
			break
		}
	}
	l.positions = kept

	if size.IsPositive() {
		p := &domain.Position{Direction: f.Direction, Price: f.Price, Size: size, OpenedAt: f.Time}
		l.positions = append(l.positions, p)
		events = append(events, event.PositionEvent{
			Kind: event.PositionAdded, Position: *p, Size: size, Price: f.Price, Time: f.Time,
		})
	}
	return events
}

// Mark records a new market price and recomputes unrealized profit.
func (l *Ledger) Mark(price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.market = price
	l.recalculate()
}

// recalculate refreshes the running totals. Must be called with lock held.
func (l *Ledger) recalculate() {
	size := decimal.Zero
	notional := decimal.Zero
	unrealized := decimal.Zero

	for _, p := range l.positions {
		size = size.Add(p.Size)
		notional = notional.Add(p.Price.Mul(p.Size))
		if !l.market.IsZero() {
			unrealized = unrealized.Add(p.Profit(l.market))
		}
	}

	l.size = size
	l.unrealized = unrealized
	if size.IsZero() {
		l.price = decimal.Zero
	} else {
		l.price = notional.Div(size)
	}
}

// Positions returns copies of the open positions in creation order.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Direction is the side of the open exposure; ok is false when flat.
func (l *Ledger) Direction() (domain.Direction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.positions) == 0 {
		return 0, false
	}
	return l.positions[0].Direction, true
}

// Size is the total open size.
func (l *Ledger) Size() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Price is the volume weighted entry price of the open size.
func (l *Ledger) Price() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.price
}

// Unrealized is the profit of the open positions at the last marked price.
func (l *Ledger) Unrealized() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unrealized
}
