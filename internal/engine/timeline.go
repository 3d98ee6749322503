package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"
)

// TimelineConfig paces the backfill loop.
type TimelineConfig struct {
	PageSize int
	Interval time.Duration
	Buffer   int
}

// DefaultTimelineConfig matches the venue rate limits we run against.
var DefaultTimelineConfig = TimelineConfig{PageSize: 500, Interval: 200 * time.Millisecond, Buffer: 1024}

// Timeline stitches the execution cache, REST backfill and the live stream into one
// strictly increasing, duplicate free sequence.
type Timeline struct {
	cache    domain.ExecutionCache
	fetcher  domain.FillFetcher
	streamer domain.FillStreamer
	cfg      TimelineConfig

	watermark atomic.Int64

	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewTimeline creates a timeline. cache may be nil.
func NewTimeline(cache domain.ExecutionCache, fetcher domain.FillFetcher, streamer domain.FillStreamer, cfg TimelineConfig, metrics *infra.Metrics, logger *slog.Logger) *Timeline {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultTimelineConfig.PageSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTimelineConfig.Interval
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		cache:    cache,
		fetcher:  fetcher,
		streamer: streamer,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("module", "timeline"),
	}
}

// Watermark is the highest id delivered so far.
func (t *Timeline) Watermark() int64 {
	return t.watermark.Load()
}

// Subscribe starts the pump and returns the unified stream. Cancelling ctx stops the cache
// reader, the backfill loop and the live subscription; the channel is closed afterwards.
func (t *Timeline) Subscribe(ctx context.Context, since time.Time) <-chan domain.Execution {
	out := make(chan domain.Execution, t.cfg.Buffer)
	go t.run(ctx, since, out)
	return out
}

func (t *Timeline) run(ctx context.Context, since time.Time, out chan<- domain.Execution) {
	defer close(out)

	if t.cache != nil {
		if err := t.replayCache(ctx, since, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			// The backfill below covers whatever the cache could not.
			t.logger.Error("Cache replay failed", slog.Any("error", err))
			t.metrics.RecordError()
		}
	}
	t.logger.Info("Cache exhausted", slog.Int64("watermark", t.watermark.Load()))

	live := newLiveBuffer()
	go t.readLive(ctx, live)

	// Live executions up to covered were already delivered by a backfill that ran ahead of
	// the live stream; they are expected duplicates, not anomalies.
	var covered int64
	if t.watermark.Load() > 0 {
		ahead, ok := t.backfill(ctx, live, out)
		if !ok {
			return
		}
		covered = ahead
		t.logger.Info("Backfill complete", slog.Int64("watermark", t.watermark.Load()))
	}

	for {
		batch, resync := live.take()
		for _, e := range batch {
			if e.ID <= covered {
				continue
			}
			if !t.emit(ctx, out, e) {
				return
			}
		}
		if resync {
			// The subscription that delivered batch is gone. Whatever traded before the next
			// one started comes from the fetcher.
			if t.watermark.Load() > 0 {
				t.metrics.RecordResync()
				t.logger.Info("Live stream resubscribed, backfilling", slog.Int64("watermark", t.watermark.Load()))
				ahead, ok := t.backfill(ctx, live, out)
				if !ok {
					return
				}
				covered = ahead
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-live.notify:
		}
	}
}

func (t *Timeline) replayCache(ctx context.Context, since time.Time, out chan<- domain.Execution) error {
	days, err := t.cache.CachedDays(ctx, since)
	if err != nil {
		return err
	}
	for _, day := range days {
		err := t.cache.ReadCachedDay(ctx, day, func(e domain.Execution) error {
			if !t.emit(ctx, out, e) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// backfill fetches pages after the watermark until it meets the first execution of the live
// subscription currently at the head of the buffer. ahead is the highest id it delivered
// before that subscription had produced anything. ok is false when ctx ended first.
func (t *Timeline) backfill(ctx context.Context, live *liveBuffer, out chan<- domain.Execution) (ahead int64, ok bool) {
	offset := 0
	for {
		after := t.watermark.Load()
		first, known := live.firstID()
		if known && after >= first-1 {
			return ahead, true
		}

		page, err := t.fetcher.FetchFills(ctx, domain.PageRequest{AfterID: after, Offset: offset, Limit: t.cfg.PageSize})
		if err != nil {
			if ctx.Err() != nil {
				return ahead, false
			}
			t.logger.Warn("Backfill page failed",
				slog.Int64("after", after),
				slog.Int("offset", offset),
				slog.Any("error", err))
			t.metrics.RecordBackfillPage(true)
			if !sleep(ctx, t.cfg.Interval) {
				return ahead, false
			}
			continue
		}
		t.metrics.RecordBackfillPage(false)

		switch {
		case len(page) == 0:
			if known {
				return ahead, true
			}
		case page[0].ID == after:
			// No progress: the venue handed back the id we asked after.
			offset++
		default:
			slices.Reverse(page)
			reached := false
			for _, e := range page {
				if known && e.ID >= first {
					reached = true
					break
				}
				if e.ID <= t.watermark.Load() {
					continue
				}
				if !t.emit(ctx, out, e) {
					return ahead, false
				}
				if !known {
					ahead = e.ID
				}
			}
			if reached {
				return ahead, true
			}
			if t.watermark.Load() > after {
				offset = 0
			} else {
				offset++
			}
		}

		if !sleep(ctx, t.cfg.Interval) {
			return ahead, false
		}
	}
}

// readLive keeps a live subscription open until ctx ends, resubscribing whenever the
// stream closes or fails to open. Each subscription fills its own segment of live, so the
// pump knows where a gap may have opened.
func (t *Timeline) readLive(ctx context.Context, live *liveBuffer) {
	for {
		ch, err := t.streamer.StreamFills(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("Live subscription failed", slog.Any("error", err))
			t.metrics.RecordError()
		} else {
			for e := range ch {
				live.push(e)
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("Live stream closed, resubscribing")
		}
		live.reconnect()
		if !sleep(ctx, t.cfg.Interval) {
			return
		}
	}
}

// emit forwards e if it advances the watermark. Anything else is a data-integrity anomaly:
// logged and dropped.
func (t *Timeline) emit(ctx context.Context, out chan<- domain.Execution, e domain.Execution) bool {
	wm := t.watermark.Load()
	if e.ID <= wm {
		t.logger.Warn("Dropped out-of-order execution",
			slog.Int64("id", e.ID),
			slog.Int64("watermark", wm))
		t.metrics.RecordAnomaly()
		return true
	}
	select {
	case out <- e:
		t.watermark.Store(e.ID)
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// liveBuffer holds live executions until the pump is ready to forward them. Executions are
// kept in one segment per subscription; the head segment is drained first.
type liveBuffer struct {
	mu       sync.Mutex
	segments []*liveSegment
	notify   chan struct{}
}

type liveSegment struct {
	pending []domain.Execution
	first   int64
	seen    bool
	closed  bool
}

func newLiveBuffer() *liveBuffer {
	return &liveBuffer{
		segments: []*liveSegment{{}},
		notify:   make(chan struct{}, 1),
	}
}

func (b *liveBuffer) push(e domain.Execution) {
	b.mu.Lock()
	tail := b.segments[len(b.segments)-1]
	if !tail.seen {
		tail.seen = true
		tail.first = e.ID
	}
	tail.pending = append(tail.pending, e)
	b.mu.Unlock()

	b.signal()
}

// reconnect closes the current segment. A segment that never received anything is reused,
// since nothing it delivered can precede a gap.
func (b *liveBuffer) reconnect() {
	b.mu.Lock()
	tail := b.segments[len(b.segments)-1]
	if tail.seen {
		tail.closed = true
		b.segments = append(b.segments, &liveSegment{})
	}
	b.mu.Unlock()

	b.signal()
}

func (b *liveBuffer) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take returns what the head segment holds. resync is true when that segment is finished:
// it has been dropped and the pump must backfill up to the next one before going on.
func (b *liveBuffer) take() (batch []domain.Execution, resync bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	head := b.segments[0]
	batch = head.pending
	head.pending = nil
	if head.closed {
		b.segments = b.segments[1:]
		return batch, true
	}
	return batch, false
}

// firstID is the first id delivered by the earliest segment that delivered anything.
func (b *liveBuffer) firstID() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, seg := range b.segments {
		if seg.seen {
			return seg.first, true
		}
	}
	return 0, false
}
