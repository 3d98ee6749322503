package execution

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
)

// Tape generates market activity on a Paper venue: a random walk of prices, one trade per tick.
type Tape struct {
	paper    *Paper
	price    decimal.Decimal
	tick     decimal.Decimal
	size     decimal.Decimal
	interval time.Duration
	rng      *rand.Rand

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewTape creates a tape starting at price, moving by tick and trading size every interval.
// seed makes the walk reproducible.
func NewTape(paper *Paper, price, tick, size decimal.Decimal, interval time.Duration, seed uint64, logger *slog.Logger) *Tape {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tape{
		paper:    paper,
		price:    price,
		tick:     tick,
		size:     size,
		interval: interval,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:   logger.With("module", "tape"),
	}
}

// Start begins trading until ctx ends or Stop is called.
func (t *Tape) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("Tape panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				t.logger.Info("Tape stopped")
				return
			case <-ticker.C:
				t.Step()
			}
		}
	}()
}

// Step moves the price one tick up or down and trades at it. The trade's direction follows
// the move. Prices never fall below one tick.
func (t *Tape) Step() []domain.Execution {
	dir := domain.Buy
	if t.rng.IntN(2) == 0 {
		dir = domain.Sell
		if next := t.price.Sub(t.tick); next.GreaterThanOrEqual(t.tick) {
			t.price = next
		}
	} else {
		t.price = t.price.Add(t.tick)
	}
	return t.paper.Trade(dir, t.price, t.size)
}

// Stop ends trading and waits for the loop to exit.
func (t *Tape) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}
}
