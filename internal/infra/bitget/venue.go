package bitget

import (
	"log/slog"

	"cointoss/internal/domain"
	"cointoss/internal/infra"
)

// Venue is the Bitget spot venue: REST for orders and backfill, the private websocket for
// fills and order status, the public websocket for market trades.
type Venue struct {
	*Client
	*FillStream
	*TradeStream
}

var (
	_ domain.Venue               = (*Venue)(nil)
	_ domain.OrderUpdateStreamer = (*Venue)(nil)
	_ domain.TradeStreamer       = (*Venue)(nil)
)

// NewVenue builds the venue from the application config.
func NewVenue(cfg *infra.Config, metrics *infra.Metrics, logger *slog.Logger) *Venue {
	bg := cfg.API.Bitget
	signer := NewSigner(bg.AccessKey, bg.SecretKey, bg.Passphrase)
	return &Venue{
		Client:      NewClient(bg.RestURL, bg.Symbol, signer, logger),
		FillStream:  NewFillStream(bg.WSURL, bg.Symbol, signer, metrics, logger),
		TradeStream: NewTradeStream(bg.PublicWSURL, bg.Symbol, metrics, logger),
	}
}
