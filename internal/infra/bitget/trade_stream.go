package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"

	"github.com/shopspring/decimal"
)

// TradeStream delivers the public trades of symbol. The private fill channel only carries
// our own fills, so mark prices and strategy input come from here.
type TradeStream struct {
	url     string
	symbol  string
	metrics *infra.Metrics
	logger  *slog.Logger
}

var _ domain.TradeStreamer = (*TradeStream)(nil)

// NewTradeStream creates a public trade stream for symbol.
func NewTradeStream(url, symbol string, metrics *infra.Metrics, logger *slog.Logger) *TradeStream {
	if url == "" {
		url = PublicWSURL
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeStream{
		url:     url,
		symbol:  symbol,
		metrics: metrics,
		logger:  logger.With("module", "bitget_trades"),
	}
}

// StreamTrades implements domain.TradeStreamer. Trades of one push are delivered oldest first.
func (s *TradeStream) StreamTrades(ctx context.Context) (<-chan domain.Execution, error) {
	spec := channelSpec{
		name: tradeChannel,
		url:  s.url,
		arg:  subscribeArg{InstType: "SPOT", Channel: tradeChannel, InstId: s.symbol},
	}
	decode := func(data json.RawMessage, _ time.Time) []domain.Execution {
		var trades []tradeData
		if err := json.Unmarshal(data, &trades); err != nil {
			s.logger.Warn("Bitget trade stream: bad data", slog.Any("error", err))
			return nil
		}
		out := make([]domain.Execution, 0, len(trades))
		for _, t := range trades {
			e, err := toTrade(t)
			if err != nil {
				s.logger.Warn("Skipping malformed trade", slog.String("tradeId", t.TradeID), slog.Any("error", err))
				continue
			}
			out = append(out, e)
		}
		slices.SortFunc(out, func(a, b domain.Execution) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			default:
				return 0
			}
		})
		return out
	}
	return startWorker(ctx, spec, decode, s.metrics, s.logger), nil
}

func toTrade(t tradeData) (domain.Execution, error) {
	id, err := strconv.ParseInt(t.TradeID, 10, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("trade id %q: %w", t.TradeID, err)
	}
	dir, ok := domain.ParseDirection(t.Side)
	if !ok {
		return domain.Execution{}, fmt.Errorf("side %q", t.Side)
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("price %q: %w", t.Price, err)
	}
	size, err := decimal.NewFromString(t.Size)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("size %q: %w", t.Size, err)
	}
	ms, err := strconv.ParseInt(t.TS, 10, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("ts %q: %w", t.TS, err)
	}
	return domain.Execution{
		ID:             id,
		Direction:      dir,
		Price:          price,
		Size:           size,
		CumulativeSize: size,
		Time:           time.UnixMilli(ms),
	}, nil
}
