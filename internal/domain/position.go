package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is open directional exposure at a single entry price.
// Size is never negative; a flip closes the position and opens a new one.
type Position struct {
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// Profit is the mark-to-market profit of the position at price.
func (p Position) Profit(price decimal.Decimal) decimal.Decimal {
	return p.Direction.Sign().Mul(price.Sub(p.Price)).Mul(p.Size)
}
