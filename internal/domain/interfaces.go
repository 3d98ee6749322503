package domain

import (
	"context"
	"time"
)

// OrderGateway places and cancels orders at the venue.
type OrderGateway interface {
	// Request places the order and returns the venue-assigned id.
	Request(ctx context.Context, order OrderView) (string, error)
	// Cancel cancels an accepted order.
	Cancel(ctx context.Context, order OrderView) error
}

// FillStreamer delivers the venue's live execution feed. The channel is closed when ctx ends
// or the connection is lost; the caller resubscribes and backfills the gap.
type FillStreamer interface {
	StreamFills(ctx context.Context) (<-chan Execution, error)
}

// OrderUpdateStreamer delivers venue-side terminations of our orders (IOC remainders dropped,
// asynchronous rejections, cancels from elsewhere). Venues that never end orders on their own
// need not implement it.
type OrderUpdateStreamer interface {
	StreamOrderUpdates(ctx context.Context) (<-chan OrderUpdate, error)
}

// TradeStreamer delivers the public trade feed of the market. Venues whose fill stream
// already carries every market trade need not implement it.
type TradeStreamer interface {
	StreamTrades(ctx context.Context) (<-chan Execution, error)
}

// FillFetcher pulls historical executions for backfill. Pages are returned newest first.
type FillFetcher interface {
	FetchFills(ctx context.Context, page PageRequest) ([]Execution, error)
}

// ExecutionCache reads executions recorded by previous runs, one day at a time.
type ExecutionCache interface {
	CachedDays(ctx context.Context, since time.Time) ([]time.Time, error)
	ReadCachedDay(ctx context.Context, day time.Time, fn func(Execution) error) error
}

// ExecutionStore records executions so that later runs can replay them.
type ExecutionStore interface {
	SaveExecutions(ctx context.Context, executions []Execution) error
}

// Venue is everything the engine needs from a trading venue.
type Venue interface {
	OrderGateway
	FillStreamer
	FillFetcher
}
