package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/event"
	"cointoss/internal/infra"
)

// persistBatch bounds how many executions are written to the store at once.
const persistBatch = 256

// Sequencer is the single goroutine that drives every execution of the unified timeline
// through persistence, reconciliation and the ledger.
type Sequencer struct {
	reconciler *Reconciler
	ledger     *Ledger
	store      domain.ExecutionStore

	executions event.Signal[domain.Execution]

	lastID atomic.Int64

	// Owned by the Run goroutine.
	pending []domain.Execution

	dumpPath string
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewSequencer creates a sequencer. store may be nil.
func NewSequencer(reconciler *Reconciler, ledger *Ledger, store domain.ExecutionStore, dumpPath string, metrics *infra.Metrics, logger *slog.Logger) *Sequencer {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		reconciler: reconciler,
		ledger:     ledger,
		store:      store,
		dumpPath:   dumpPath,
		metrics:    metrics,
		logger:     logger.With("module", "sequencer"),
	}
}

// Observe registers fn for every execution that passed the sequencer.
func (s *Sequencer) Observe(fn func(domain.Execution)) (cancel func()) {
	return s.executions.Observe(fn)
}

// Run consumes in until it is closed or ctx ends. This MUST be run in a single goroutine.
// A panic dumps the engine state before halting.
func (s *Sequencer) Run(ctx context.Context, in <-chan domain.Execution) {
	s.logger.Info("Sequencer started")

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()
	defer s.persist(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			return
		case e, ok := <-in:
			if !ok {
				s.logger.Info("Timeline closed")
				return
			}
			s.process(e)
			if len(in) == 0 || len(s.pending) >= persistBatch {
				s.persist(ctx)
			}
		}
	}
}

func (s *Sequencer) process(e domain.Execution) {
	start := time.Now()

	// 1. Order check: the timeline guarantees it, we still verify.
	last := s.lastID.Load()
	if e.ID <= last {
		s.logger.Warn("Execution out of order",
			slog.Int64("id", e.ID),
			slog.Int64("last", last))
		s.metrics.RecordAnomaly()
		return
	}
	s.lastID.Store(e.ID)

	// 2. Queue for the cache
	if s.store != nil {
		s.pending = append(s.pending, e)
	}

	// 3. Our orders, then the mark price
	s.reconciler.OnExecution(e)
	s.ledger.Mark(e.Price)

	// 4. Fan out
	s.executions.Emit(e)

	s.metrics.RecordExecution(time.Since(start).Nanoseconds(), e.ID)
}

// persist writes queued executions. A failing store is logged; the pipeline never stops
// for it.
func (s *Sequencer) persist(ctx context.Context) {
	if s.store == nil || len(s.pending) == 0 {
		return
	}
	if err := s.store.SaveExecutions(ctx, s.pending); err != nil {
		s.logger.Error("Failed to persist executions",
			slog.Int("count", len(s.pending)),
			slog.Any("error", err))
		s.metrics.RecordError()
	}
	s.pending = s.pending[:0]
}

// LastID is the id of the last processed execution.
func (s *Sequencer) LastID() int64 {
	return s.lastID.Load()
}

// DumpState writes orders, positions and the watermark to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	if filename == "" {
		return
	}
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Watermark int64              `json:"watermark"`
		Orders    []domain.OrderView `json:"orders"`
		Positions []domain.Position  `json:"positions"`
	}{
		Watermark: s.lastID.Load(),
		Orders:    s.reconciler.Active(),
		Positions: s.ledger.Positions(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
