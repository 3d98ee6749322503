package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cointoss/internal/api"
	"cointoss/internal/domain"
	"cointoss/internal/engine"
	"cointoss/internal/execution"
	"cointoss/internal/infra"
	"cointoss/internal/infra/bitget"
	"cointoss/internal/infra/kafka"
	"cointoss/internal/infra/storage"
	"cointoss/internal/strategy"

	"github.com/shopspring/decimal"
)

// shutdownTimeout bounds how long Run waits for the pipeline to drain after cancellation.
const shutdownTimeout = 10 * time.Second

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Metrics *infra.Metrics
	Storage *storage.Storage
	Venue   domain.Venue
	Engine  *engine.Engine

	// Optional components, nil when disabled.
	Tape      *execution.Tape
	Publisher *kafka.Publisher
	Status    *api.Server
	Runner    *strategy.Runner
	Profit    *strategy.ProfitTracker
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration at path and builds every component.
func (b *Bootstrap) Initialize(path string) error {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith builds every component from an already loaded configuration.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.Config = cfg

	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Logger.Info("Bootstrapping cointoss", slog.String("mode", cfg.App.Mode), slog.String("version", cfg.App.Version))

	b.Metrics = &infra.Metrics{}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	b.Logger.Info("Execution cache opened", slog.String("path", cfg.Storage.Path))

	if err := b.buildVenue(); err != nil {
		b.Storage.Close()
		return err
	}

	b.Engine = engine.New(b.Venue, b.Storage, b.Storage, engine.ConfigFrom(cfg), b.Metrics, b.Logger)

	if len(cfg.Kafka.Brokers) > 0 {
		b.Publisher = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, b.Logger)
		b.Publisher.Attach(b.Engine)
		b.Logger.Info("Kafka publisher enabled", slog.String("topic", cfg.Kafka.Topic))
	}
	if cfg.Status.Addr != "" {
		b.Status = api.NewServer(b.Engine, cfg.Status.AllowedOrigins, b.Logger)
	}
	if cfg.Strategy.Enabled {
		size := decimal.RequireFromString(cfg.Strategy.Size)
		sma := strategy.NewSMACrossStrategy(cfg.Strategy.ShortPeriod, cfg.Strategy.LongPeriod, size)
		b.Runner = strategy.NewRunner(b.Engine, sma, cfg.Strategy.Backlog, b.Logger)
		b.Runner.Attach()
	}
	b.Profit, _ = strategy.TrackProfit(b.Engine)

	return nil
}

func (b *Bootstrap) buildVenue() error {
	cfg := b.Config
	switch cfg.App.Mode {
	case "bitget":
		b.Venue = bitget.NewVenue(cfg, b.Metrics, b.Logger)
	case "paper":
		paper := execution.NewPaper(cfg.PaperLatency(), b.Logger)
		latest, err := b.Storage.LatestID(context.Background())
		if err != nil {
			return fmt.Errorf("read cache watermark: %w", err)
		}
		paper.ResumeAfter(latest)
		if cfg.Paper.TakerDepth != "" {
			paper.SetTakerDepth(decimal.RequireFromString(cfg.Paper.TakerDepth))
		}

		b.Tape = execution.NewTape(paper,
			decimal.RequireFromString(cfg.Paper.StartPrice),
			decimal.RequireFromString(cfg.Paper.TickSize),
			decimal.RequireFromString(cfg.Paper.TradeSize),
			cfg.TapeInterval(), cfg.Paper.Seed, b.Logger)
		b.Venue = paper
	default:
		return &domain.ConfigError{Field: "app.mode", Err: fmt.Errorf("unknown mode %q", cfg.App.Mode)}
	}
	return nil
}

// Run starts the engine and the optional components, and blocks until ctx ends and the
// pipeline has drained.
func (b *Bootstrap) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	since := time.Now().AddDate(0, 0, -b.Config.App.StartDays)
	if err := b.Engine.Start(ctx, since); err != nil {
		return err
	}
	b.Logger.Info("Engine started", slog.Time("since", since))

	if b.Tape != nil {
		b.Tape.Start(ctx)
		defer b.Tape.Stop()
	}
	if b.Publisher != nil {
		go b.Publisher.Run(ctx)
	}
	if b.Runner != nil {
		go b.Runner.Run(ctx)
	}

	statusErr := make(chan error, 1)
	if b.Status != nil {
		go func() { statusErr <- b.Status.Run(ctx, b.Config.Status.Addr) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-statusErr:
		runErr = fmt.Errorf("status api: %w", err)
	case <-b.Engine.Done():
		runErr = errors.New("engine stopped unexpectedly")
	}
	cancel()

	return errors.Join(runErr, b.drain())
}

// drain waits for the pipeline and the publisher to finish after cancellation.
func (b *Bootstrap) drain() error {
	timeout := time.After(shutdownTimeout)
	select {
	case <-b.Engine.Done():
	case <-timeout:
		return errors.New("engine did not stop in time")
	}
	if b.Publisher != nil {
		select {
		case <-b.Publisher.Done():
		case <-timeout:
			return errors.New("kafka publisher did not stop in time")
		}
	}

	m := b.Engine.Metrics()
	b.Logger.Info("Pipeline stopped",
		slog.Int64("watermark", b.Engine.Watermark()),
		slog.Uint64("executions", m.ExecutionsProcessed),
		slog.Uint64("anomalies", m.Anomalies),
		slog.String("realized", b.Profit.Realized().String()),
		slog.String("unrealized", b.Engine.Unrealized().String()),
	)
	return nil
}

// Close releases resources held by Initialize.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}
