package strategy

import (
	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
)

// Action is an order a strategy wants placed. A zero Price asks for a taker order.
type Action struct {
	Direction domain.Direction
	Size      decimal.Decimal
	Price     decimal.Decimal
}

// Order builds the engine order for the action.
func (a Action) Order() *domain.Order {
	if a.Price.IsZero() {
		return domain.TakerOrder(a.Direction, a.Size)
	}
	return domain.MakerOrder(a.Direction, a.Size, a.Price)
}

// Strategy is called synchronously for every execution of the unified timeline, on the
// sequencer goroutine. It must not block.
type Strategy interface {
	OnExecution(e domain.Execution) []Action
}
