package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/event"
	"cointoss/internal/infra"

	"github.com/shopspring/decimal"
)

// Config wires the engine components.
type Config struct {
	Retry          RetryPolicy
	Timeline       TimelineConfig
	WindowCapacity int
	DumpPath       string
}

// ConfigFrom maps the application configuration onto the engine.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		Retry: RetryPolicy{
			Attempts: cfg.Engine.PlacementAttempts,
			Interval: cfg.PlacementInterval(),
		},
		Timeline: TimelineConfig{
			PageSize: cfg.Engine.BackfillPageSize,
			Interval: cfg.BackfillInterval(),
			Buffer:   cfg.Engine.TimelineBuffer,
		},
		WindowCapacity: cfg.Engine.WindowCapacity,
		DumpPath:       cfg.App.DumpPath,
	}
}

// Engine reconciles our orders against a venue's executions and keeps the position ledger.
type Engine struct {
	timeline   *Timeline
	reconciler *Reconciler
	lifecycle  *Lifecycle
	ledger     *Ledger
	sequencer  *Sequencer

	updates  domain.OrderUpdateStreamer
	trades   domain.TradeStreamer
	interval time.Duration

	orders event.Signal[domain.OrderView]
	market event.Signal[domain.Execution]

	mu      sync.Mutex
	started bool
	done    chan struct{}

	metrics *infra.Metrics
	logger  *slog.Logger
}

// New creates an engine on top of venue. cache and store may be nil.
func New(venue domain.Venue, cache domain.ExecutionCache, store domain.ExecutionStore, cfg Config, metrics *infra.Metrics, logger *slog.Logger) *Engine {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		done:    make(chan struct{}),
		metrics: metrics,
		logger:  logger.With("module", "engine"),
	}
	e.ledger = NewLedger(logger)
	e.reconciler = NewReconciler(cfg.WindowCapacity, e.ledger.Apply, e.orders.Emit, metrics, logger)
	e.lifecycle = NewLifecycle(venue, e.reconciler, cfg.Retry, metrics, logger)
	e.timeline = NewTimeline(cache, venue, venue, cfg.Timeline, metrics, logger)
	e.sequencer = NewSequencer(e.reconciler, e.ledger, store, cfg.DumpPath, metrics, logger)

	e.interval = e.timeline.cfg.Interval
	e.updates, _ = venue.(domain.OrderUpdateStreamer)
	if trades, ok := venue.(domain.TradeStreamer); ok {
		e.trades = trades
	} else {
		// Without a public feed the timeline is the market.
		e.sequencer.Observe(e.market.Emit)
	}
	return e
}

// Start subscribes to the unified timeline from since and runs the pipeline until ctx ends.
func (e *Engine) Start(ctx context.Context, since time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	e.started = true

	e.logger.Info("Engine starting", slog.Time("since", since))
	executions := e.timeline.Subscribe(ctx, since)
	if e.updates != nil {
		watch(ctx, "order_updates", e.updates.StreamOrderUpdates, e.reconciler.OnOrderUpdate, e.interval, e.logger)
	}
	if e.trades != nil {
		watch(ctx, "trades", e.trades.StreamTrades, func(x domain.Execution) {
			e.ledger.Mark(x.Price)
			e.market.Emit(x)
		}, e.interval, e.logger)
	}
	go func() {
		defer close(e.done)
		e.sequencer.Run(ctx, executions)
	}()
	return nil
}

// Done is closed once the pipeline has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Request places o and blocks until it is accepted or placement is given up.
func (e *Engine) Request(ctx context.Context, o *domain.Order) error {
	return e.lifecycle.Request(ctx, o)
}

// Cancel cancels o; see Lifecycle.Cancel.
func (e *Engine) Cancel(ctx context.Context, o *domain.Order) domain.OrderView {
	return e.lifecycle.Cancel(ctx, o)
}

// CancelByID cancels the active order registered under id.
func (e *Engine) CancelByID(ctx context.Context, id string) (domain.OrderView, error) {
	o, ok := e.reconciler.Lookup(id)
	if !ok {
		return domain.OrderView{}, fmt.Errorf("cancel %s: %w", id, domain.ErrUnknownOrder)
	}
	return e.lifecycle.Cancel(ctx, o), nil
}

// ObserveExecutions registers fn for every execution of the unified timeline.
func (e *Engine) ObserveExecutions(fn func(domain.Execution)) (cancel func()) {
	return e.sequencer.Observe(fn)
}

// ObserveMarket registers fn for market trades: the venue's public trades when it has a
// feed for them, the unified timeline otherwise.
func (e *Engine) ObserveMarket(fn func(domain.Execution)) (cancel func()) {
	return e.market.Observe(fn)
}

// ObserveOrders registers fn for every order state change.
func (e *Engine) ObserveOrders(fn func(domain.OrderView)) (cancel func()) {
	return e.orders.Observe(fn)
}

// ObservePositions registers fn for position added/removed events.
func (e *Engine) ObservePositions(fn func(event.PositionEvent)) (cancel func()) {
	return e.ledger.Observe(fn)
}

// ActiveOrders returns the registered orders, oldest first.
func (e *Engine) ActiveOrders() []domain.OrderView {
	views := e.reconciler.Active()
	slices.SortFunc(views, func(a, b domain.OrderView) int {
		if c := a.CreationTime.Compare(b.CreationTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return views
}

// CurrentPositions returns the open positions in creation order.
func (e *Engine) CurrentPositions() []domain.Position {
	return e.ledger.Positions()
}

// Unrealized is the profit of the open positions at the last execution price.
func (e *Engine) Unrealized() decimal.Decimal {
	return e.ledger.Unrealized()
}

// Watermark is the highest execution id delivered by the timeline.
func (e *Engine) Watermark() int64 {
	return e.timeline.Watermark()
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() infra.MetricsSnapshot {
	return e.metrics.Snapshot()
}
