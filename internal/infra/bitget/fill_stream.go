package bitget

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"

	"github.com/shopspring/decimal"
)

// FillStream delivers our fills and order status changes from the private websocket. Each
// returned channel covers one connection and is closed when that connection drops.
type FillStream struct {
	url     string
	symbol  string
	signer  *Signer
	delay   domain.DelayEstimator
	metrics *infra.Metrics
	logger  *slog.Logger
}

var (
	_ domain.FillStreamer        = (*FillStream)(nil)
	_ domain.OrderUpdateStreamer = (*FillStream)(nil)
)

// NewFillStream creates a stream for symbol.
func NewFillStream(url, symbol string, signer *Signer, metrics *infra.Metrics, logger *slog.Logger) *FillStream {
	if url == "" {
		url = PrivateWSURL
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FillStream{
		url:     url,
		symbol:  symbol,
		signer:  signer,
		delay:   domain.ReceiveDelay{},
		metrics: metrics,
		logger:  logger.With("module", "bitget_fills"),
	}
}

// StreamFills implements domain.FillStreamer.
func (s *FillStream) StreamFills(ctx context.Context) (<-chan domain.Execution, error) {
	spec := channelSpec{
		name:   fillChannel,
		url:    s.url,
		signer: s.signer,
		arg:    subscribeArg{InstType: "SPOT", Channel: fillChannel, InstId: fillInstIDDefault},
	}

	// Chain state lives as long as the subscription.
	var last domain.Execution
	decode := func(data json.RawMessage, received time.Time) []domain.Execution {
		var fills []fillData
		if err := json.Unmarshal(data, &fills); err != nil {
			s.logger.Warn("Bitget fill stream: bad data", slog.Any("error", err))
			return nil
		}
		out := make([]domain.Execution, 0, len(fills))
		for _, f := range fills {
			if f.Symbol != "" && f.Symbol != s.symbol {
				continue
			}
			e, err := toExecution(f)
			if err != nil {
				s.logger.Warn("Skipping malformed fill", slog.String("tradeId", f.TradeID), slog.Any("error", err))
				continue
			}
			e = domain.Chain(last, e)
			e.Delay = s.delay.Estimate(e, received)
			last = e
			out = append(out, e)
		}
		return out
	}
	return startWorker(ctx, spec, decode, s.metrics, s.logger), nil
}

// StreamOrderUpdates implements domain.OrderUpdateStreamer on the private orders channel.
func (s *FillStream) StreamOrderUpdates(ctx context.Context) (<-chan domain.OrderUpdate, error) {
	spec := channelSpec{
		name:   ordersChannel,
		url:    s.url,
		signer: s.signer,
		arg:    subscribeArg{InstType: "SPOT", Channel: ordersChannel, InstId: s.symbol},
	}
	decode := func(data json.RawMessage, _ time.Time) []domain.OrderUpdate {
		var orders []orderData
		if err := json.Unmarshal(data, &orders); err != nil {
			s.logger.Warn("Bitget order stream: bad data", slog.Any("error", err))
			return nil
		}
		var out []domain.OrderUpdate
		for _, o := range orders {
			u, ok, err := toOrderUpdate(o)
			if err != nil {
				s.logger.Warn("Skipping malformed order update", slog.String("orderId", o.OrderID), slog.Any("error", err))
				continue
			}
			if ok {
				out = append(out, u)
			}
		}
		return out
	}
	return startWorker(ctx, spec, decode, s.metrics, s.logger), nil
}

// toOrderUpdate maps a venue-side cancellation. A cancelled IOC/FOK order is an expired
// remainder. Other statuses are reported through fills and yield ok == false.
func toOrderUpdate(o orderData) (domain.OrderUpdate, bool, error) {
	if o.Status != "cancelled" {
		return domain.OrderUpdate{}, false, nil
	}
	filled := decimal.Zero
	if o.AccBaseVolume != "" {
		v, err := decimal.NewFromString(o.AccBaseVolume)
		if err != nil {
			return domain.OrderUpdate{}, false, err
		}
		filled = v
	}
	u := domain.OrderUpdate{ID: o.OrderID, State: domain.OrderStateCanceled, Filled: filled}
	if o.Force == "ioc" || o.Force == "fok" {
		u.State = domain.OrderStateExpired
	}
	if ms, err := strconv.ParseInt(o.UTime, 10, 64); err == nil {
		u.Time = time.UnixMilli(ms)
	}
	return u, true, nil
}
