package strategy_test

import (
	"testing"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/event"
	"cointoss/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakePositions struct {
	event.Signal[event.PositionEvent]
}

func (f *fakePositions) ObservePositions(fn func(event.PositionEvent)) func() {
	return f.Observe(fn)
}

func TestProfitTracker(t *testing.T) {
	src := &fakePositions{}
	tracker, detach := strategy.TrackProfit(src)
	defer detach()

	long := domain.Position{Direction: domain.Buy, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(2), OpenedAt: time.Now()}
	src.Emit(event.PositionEvent{Kind: event.PositionAdded, Position: long, Size: long.Size, Price: long.Price})

	// Partial close at 110 wins 10, the rest at 95 loses 5.
	src.Emit(event.PositionEvent{Kind: event.PositionRemoved, Position: long, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(110)})
	src.Emit(event.PositionEvent{Kind: event.PositionRemoved, Position: long, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(95)})

	assert.True(t, tracker.Realized().Equal(decimal.NewFromInt(5)), "realized %s", tracker.Realized())
	assert.InDelta(t, 0.5, tracker.WinRate(), 1e-9)
}

func TestProfitTracker_Short(t *testing.T) {
	tracker := &strategy.ProfitTracker{}
	short := domain.Position{Direction: domain.Sell, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}

	tracker.OnPosition(event.PositionEvent{Kind: event.PositionRemoved, Position: short, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(90)})

	assert.True(t, tracker.Realized().Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1.0, tracker.WinRate())
}
