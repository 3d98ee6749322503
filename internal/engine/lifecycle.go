package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"
)

// RetryPolicy bounds placement attempts.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetryPolicy is 40 attempts spaced 100ms apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 40, Interval: 100 * time.Millisecond}

// Lifecycle drives orders through INIT → REQUESTING → ACTIVE → terminal against the venue.
type Lifecycle struct {
	gateway    domain.OrderGateway
	reconciler *Reconciler
	retry      RetryPolicy
	now        func() time.Time
	metrics    *infra.Metrics
	logger     *slog.Logger
}

// NewLifecycle creates the order lifecycle manager.
// Order events are published through the reconciler's output queue, so observers see them
// in the same order as fill-driven updates.
func NewLifecycle(gateway domain.OrderGateway, reconciler *Reconciler, retry RetryPolicy, metrics *infra.Metrics, logger *slog.Logger) *Lifecycle {
	if retry.Attempts <= 0 {
		retry = DefaultRetryPolicy
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		gateway:    gateway,
		reconciler: reconciler,
		retry:      retry,
		now:        time.Now,
		metrics:    metrics,
		logger:     logger.With("module", "lifecycle"),
	}
}

// Request places o at the venue. The order turns REQUESTING before the first network call.
// On success it is ACTIVE (or already COMPLETED by fills that raced the response) and
// registered by its venue id. When every attempt fails the order is CANCELED and an error
// wrapping domain.ErrPlacementExhausted is returned. A non-retriable venue error stops the
// retries at once and leaves the order REJECTED.
func (l *Lifecycle) Request(ctx context.Context, o *domain.Order) error {
	if !o.CompareAndTransition(domain.OrderStateInit, domain.OrderStateRequesting, l.now()) {
		return fmt.Errorf("request order in %s: %w", o.State(), domain.ErrOrderNotInit)
	}
	l.reconciler.Notify(o)

	// Buffer fills from now on: the venue may report them before it answers us.
	window := l.reconciler.Open()

	id, err := l.place(ctx, o.View())
	if err != nil {
		l.reconciler.Discard(window)
		final := domain.OrderStateCanceled
		if errors.Is(err, domain.ErrPlacementExhausted) {
			l.metrics.RecordPlacementExhausted()
		} else {
			// The venue refused the order outright.
			final = domain.OrderStateRejected
			l.metrics.RecordError()
		}
		if _, ok := o.Transition(final, l.now()); ok {
			l.reconciler.Notify(o)
		}
		l.logger.Error("Order placement failed",
			slog.String("direction", o.View().Direction.String()),
			slog.Any("error", err))
		return err
	}

	l.reconciler.Accept(window, o, id)
	l.logger.Info("Order accepted", slog.String("id", id), slog.String("state", o.State().String()))
	return nil
}

func (l *Lifecycle) place(ctx context.Context, view domain.OrderView) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= l.retry.Attempts; attempt++ {
		id, err := l.gateway.Request(ctx, view)
		l.metrics.RecordPlacement(err != nil)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if isFatal(err) {
			return "", fmt.Errorf("order rejected: %w", err)
		}
		l.logger.Warn("Order placement attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max", l.retry.Attempts),
			slog.Any("error", err))

		if attempt == l.retry.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w after %d attempts: %w", domain.ErrPlacementExhausted, attempt, ctx.Err())
		case <-time.After(l.retry.Interval):
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", domain.ErrPlacementExhausted, l.retry.Attempts, lastErr)
}

// isFatal reports whether err says outright that retrying cannot help.
func isFatal(err error) bool {
	var re domain.RetriableError
	return errors.As(err, &re) && !re.IsRetriable()
}

// Cancel cancels o. Orders that are neither ACTIVE nor REQUESTING are returned unchanged.
// A failed cancel restores the prior state and is only logged.
func (l *Lifecycle) Cancel(ctx context.Context, o *domain.Order) domain.OrderView {
	prior := o.State()
	if prior != domain.OrderStateActive && prior != domain.OrderStateRequesting {
		return o.View()
	}
	if prior == domain.OrderStateActive {
		if !o.CompareAndTransition(domain.OrderStateActive, domain.OrderStateRequesting, l.now()) {
			return o.View()
		}
		l.reconciler.Notify(o)
	}

	if err := l.gateway.Cancel(ctx, o.View()); err != nil {
		l.logger.Warn("Order cancel failed",
			slog.String("id", o.ID()),
			slog.String("restore", prior.String()),
			slog.Any("error", err))
		l.metrics.RecordError()
		if o.CompareAndTransition(domain.OrderStateRequesting, prior, l.now()) {
			l.reconciler.Notify(o)
		}
		return o.View()
	}

	l.metrics.RecordCancel()
	if id := o.ID(); id != "" {
		l.reconciler.Remove(id)
	}
	if _, ok := o.Transition(domain.OrderStateCanceled, l.now()); ok {
		l.reconciler.Notify(o)
	}
	return o.View()
}
