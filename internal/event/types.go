package event

import (
	"time"

	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
)

// PositionEventKind tells whether exposure was added or removed.
type PositionEventKind uint8

const (
	PositionAdded PositionEventKind = iota + 1
	PositionRemoved
)

func (k PositionEventKind) String() string {
	switch k {
	case PositionAdded:
		return "ADDED"
	case PositionRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText keeps kinds readable in published events.
func (k PositionEventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// PositionEvent describes one change of the position ledger.
//
// Size is the amount added or removed by this event. Price is the entry price for
// PositionAdded and the close price for PositionRemoved. Position is the affected
// position as it was before a removal or after an addition.
type PositionEvent struct {
	Kind     PositionEventKind `json:"kind"`
	Position domain.Position   `json:"position"`
	Size     decimal.Decimal   `json:"size"`
	Price    decimal.Decimal   `json:"price"`
	Time     time.Time         `json:"time"`
}

// Realized is the profit locked in by a removal; zero for additions.
func (e PositionEvent) Realized() decimal.Decimal {
	if e.Kind != PositionRemoved {
		return decimal.Zero
	}
	return e.Position.Direction.Sign().Mul(e.Price.Sub(e.Position.Price)).Mul(e.Size)
}
