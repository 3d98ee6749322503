package strategy

import (
	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
)

// SMACrossStrategy trades the crossover of two simple moving averages of execution prices.
// It is stateful and deterministic.
type SMACrossStrategy struct {
	shortPeriod int
	longPeriod  int
	size        decimal.Decimal

	// Ring buffer over the last longPeriod prices.
	prices []decimal.Decimal
	head   int
	count  int
	sum    decimal.Decimal

	prevShort decimal.Decimal
	prevLong  decimal.Decimal
	primed    bool
}

// NewSMACrossStrategy creates a strategy that trades size at market on every cross.
func NewSMACrossStrategy(shortPeriod, longPeriod int, size decimal.Decimal) *SMACrossStrategy {
	if shortPeriod <= 0 || shortPeriod >= longPeriod {
		panic("SMACrossStrategy: need 0 < shortPeriod < longPeriod")
	}
	return &SMACrossStrategy{
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		size:        size,
		prices:      make([]decimal.Decimal, longPeriod),
	}
}

// OnExecution implements Strategy.
func (s *SMACrossStrategy) OnExecution(e domain.Execution) []Action {
	if s.count == s.longPeriod {
		s.sum = s.sum.Sub(s.prices[s.head]) // head is the oldest slot when full
	}
	s.prices[s.head] = e.Price
	s.sum = s.sum.Add(e.Price)
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
		if s.count < s.longPeriod {
			return nil
		}
	}

	currLong := s.sum.Div(decimal.NewFromInt(int64(s.longPeriod)))
	currShort := s.shortSMA()

	var actions []Action
	if s.primed {
		// Golden cross
		if s.prevShort.LessThanOrEqual(s.prevLong) && currShort.GreaterThan(currLong) {
			actions = append(actions, Action{Direction: domain.Buy, Size: s.size})
		}
		// Dead cross
		if s.prevShort.GreaterThanOrEqual(s.prevLong) && currShort.LessThan(currLong) {
			actions = append(actions, Action{Direction: domain.Sell, Size: s.size})
		}
	}

	s.prevShort, s.prevLong, s.primed = currShort, currLong, true
	return actions
}

// shortSMA walks back from the newest price.
func (s *SMACrossStrategy) shortSMA() decimal.Decimal {
	sum := decimal.Zero
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = sum.Add(s.prices[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
}
