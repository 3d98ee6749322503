package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of an order, a fill or a position.
type Direction int8

const (
	Buy Direction = iota + 1
	Sell
)

// String returns the venue-neutral name of the direction.
func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText keeps directions readable in JSON.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, ok := ParseDirection(string(b))
	if !ok {
		return fmt.Errorf("invalid direction %q", b)
	}
	*d = v
	return nil
}

// Sign returns +1 for Buy and -1 for Sell.
func (d Direction) Sign() decimal.Decimal {
	if d == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Inverse returns the opposite direction.
func (d Direction) Inverse() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// ParseDirection accepts "buy"/"sell" in any case.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "BUY", "buy", "Buy":
		return Buy, true
	case "SELL", "sell", "Sell":
		return Sell, true
	default:
		return 0, false
	}
}

// ConsecutiveType tags whether an execution continues a run of fills by the same maker or taker.
type ConsecutiveType uint8

const (
	ConsecutiveNone ConsecutiveType = iota
	ConsecutiveSameMaker
	ConsecutiveSameTaker
)

func (c ConsecutiveType) String() string {
	switch c {
	case ConsecutiveSameMaker:
		return "SAME_MAKER"
	case ConsecutiveSameTaker:
		return "SAME_TAKER"
	default:
		return "NONE"
	}
}

// Execution is a single trade match reported by the venue. It is created once by the
// venue adapter and never mutated afterwards.
type Execution struct {
	ID             int64           `json:"id"`
	Direction      Direction       `json:"direction"`
	Price          decimal.Decimal `json:"price"`
	Size           decimal.Decimal `json:"size"`
	CumulativeSize decimal.Decimal `json:"cumulative_size"`
	Time           time.Time       `json:"time"`
	MakerID        string          `json:"maker_id,omitempty"`
	TakerID        string          `json:"taker_id,omitempty"`
	Consecutive    ConsecutiveType `json:"consecutive"`
	Delay          time.Duration   `json:"delay"`
}

// Matches reports whether the execution carries the given venue order id on either side.
func (e Execution) Matches(orderID string) bool {
	if orderID == "" {
		return false
	}
	return e.MakerID == orderID || e.TakerID == orderID
}

// Chain fills in Consecutive and CumulativeSize of next relative to the previous execution
// of the same stream. A zero prev starts a new run.
func Chain(prev, next Execution) Execution {
	next.Consecutive = ConsecutiveNone
	next.CumulativeSize = next.Size

	if prev.ID == 0 || prev.Direction != next.Direction {
		return next
	}
	switch {
	case next.TakerID != "" && next.TakerID == prev.TakerID:
		next.Consecutive = ConsecutiveSameTaker
		next.CumulativeSize = prev.CumulativeSize.Add(next.Size)
	case next.MakerID != "" && next.MakerID == prev.MakerID:
		next.Consecutive = ConsecutiveSameMaker
	}
	return next
}

// PageRequest selects a backfill page: executions with id above AfterID, newest first.
// Offset widens the window when the venue returns no progress.
type PageRequest struct {
	AfterID int64
	Offset  int
	Limit   int
}

// Fill is an execution confirmed against one of our orders.
type Fill struct {
	OrderID     string          `json:"order_id"`
	ExecutionID int64           `json:"execution_id"`
	Direction   Direction       `json:"direction"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Time        time.Time       `json:"time"`
}
