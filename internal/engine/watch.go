package engine

import (
	"context"
	"log/slog"
	"time"
)

// watch subscribes before returning, so nothing published after the call is missed, then
// passes every item to handle on its own goroutine until ctx ends. A subscription that
// fails or closes is reopened after interval.
func watch[T any](ctx context.Context, name string, subscribe func(context.Context) (<-chan T, error), handle func(T), interval time.Duration, logger *slog.Logger) {
	ch, err := subscribe(ctx)
	go func() {
		for {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Subscription failed", slog.String("stream", name), slog.Any("error", err))
			} else {
				for v := range ch {
					handle(v)
				}
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Stream closed, resubscribing", slog.String("stream", name))
			}
			if !sleep(ctx, interval) {
				return
			}
			ch, err = subscribe(ctx)
		}
	}()
}
