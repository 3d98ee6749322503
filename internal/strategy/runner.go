package strategy

import (
	"context"
	"log/slog"
	"sync/atomic"

	"cointoss/internal/domain"
)

// Trader is the engine surface a strategy needs.
type Trader interface {
	ObserveMarket(fn func(domain.Execution)) (cancel func())
	Request(ctx context.Context, o *domain.Order) error
}

// Runner feeds market trades to a strategy and places the orders it asks for. Decisions are
// made on the goroutine delivering the trades; placement runs on the Run goroutine because a
// request may retry for several seconds.
type Runner struct {
	trader   Trader
	strategy Strategy
	actions  chan Action
	dropped  atomic.Uint64
	logger   *slog.Logger
}

// NewRunner creates a runner. buffer bounds the actions waiting for placement.
func NewRunner(trader Trader, s Strategy, buffer int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		trader:   trader,
		strategy: s,
		actions:  make(chan Action, buffer),
		logger:   logger.With("module", "strategy"),
	}
}

// Attach starts feeding trades to the strategy and returns a function that stops it.
func (r *Runner) Attach() (detach func()) {
	return r.trader.ObserveMarket(func(e domain.Execution) {
		for _, a := range r.strategy.OnExecution(e) {
			select {
			case r.actions <- a:
			default:
				r.dropped.Add(1)
				r.logger.Warn("Strategy action dropped, placement backlog full",
					slog.String("direction", a.Direction.String()),
					slog.String("size", a.Size.String()),
				)
			}
		}
	})
}

// Run places queued actions until ctx ends.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-r.actions:
			o := a.Order()
			if err := r.trader.Request(ctx, o); err != nil {
				r.logger.Warn("Strategy order not placed", slog.Any("error", err))
				continue
			}
			v := o.View()
			r.logger.Info("Strategy order placed",
				slog.String("id", v.ID),
				slog.String("direction", v.Direction.String()),
				slog.String("size", v.Size.String()),
			)
		}
	}
}

// Dropped returns how many actions were discarded.
func (r *Runner) Dropped() uint64 {
	return r.dropped.Load()
}
