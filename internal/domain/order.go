package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes resting (maker/limit) from aggressive (taker/market) orders.
type OrderType string

const (
	OrderTypeMaker OrderType = "MAKER"
	OrderTypeTaker OrderType = "TAKER"
)

// QuantityCondition is the time-in-force of an order.
type QuantityCondition string

const (
	GoodTillCanceled  QuantityCondition = "GTC"
	ImmediateOrCancel QuantityCondition = "IOC"
	FillOrKill        QuantityCondition = "FOK"
)

// OrderState tracks the lifecycle of an order.
type OrderState uint8

const (
	OrderStateInit OrderState = iota
	OrderStateRequesting
	OrderStateActive
	OrderStateCompleted
	OrderStateCanceled
	OrderStateExpired
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStateInit:
		return "INIT"
	case OrderStateRequesting:
		return "REQUESTING"
	case OrderStateActive:
		return "ACTIVE"
	case OrderStateCompleted:
		return "COMPLETED"
	case OrderStateCanceled:
		return "CANCELED"
	case OrderStateExpired:
		return "EXPIRED"
	case OrderStateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is absorbing.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateCompleted, OrderStateCanceled, OrderStateExpired, OrderStateRejected:
		return true
	default:
		return false
	}
}

// MarshalText keeps state names readable in JSON dumps and published events.
func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderState) UnmarshalText(b []byte) error {
	for st := OrderStateInit; st <= OrderStateRejected; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown order state %q", b)
}

// OrderView is a read-only snapshot of an order handed to observers.
type OrderView struct {
	ID                string            `json:"id"`
	Direction         Direction         `json:"direction"`
	Type              OrderType         `json:"type"`
	QuantityCondition QuantityCondition `json:"quantity_condition"`
	State             OrderState        `json:"state"`
	Size              decimal.Decimal   `json:"size"`
	Price             decimal.Decimal   `json:"price"`
	RemainingSize     decimal.Decimal   `json:"remaining_size"`
	ExecutedSize      decimal.Decimal   `json:"executed_size"`
	AveragePrice      decimal.Decimal   `json:"average_price"`
	CreationTime      time.Time         `json:"creation_time"`
	TerminationTime   time.Time         `json:"termination_time"`
}

// OrderUpdate is a venue-reported status change of one of our orders. Filled is the venue's
// cumulative executed size at the time of the update; the engine settles the order only once
// fills up to that size have reached it through the timeline.
type OrderUpdate struct {
	ID     string
	State  OrderState
	Filled decimal.Decimal
	Time   time.Time
}

// Order is owned by the engine. Every mutation goes through the methods below, which keep
// ExecutedSize + RemainingSize == Size.
type Order struct {
	mu sync.Mutex

	direction Direction
	typ       OrderType
	condition QuantityCondition
	size      decimal.Decimal
	price     decimal.Decimal

	state      OrderState
	remaining  decimal.Decimal
	executed   decimal.Decimal
	avgPrice   decimal.Decimal
	id         string
	created    time.Time
	terminated time.Time
	lastExecID int64
}

// NewOrder creates an order in INIT state.
func NewOrder(direction Direction, typ OrderType, condition QuantityCondition, size, price decimal.Decimal) *Order {
	if condition == "" {
		condition = GoodTillCanceled
	}
	o := &Order{
		direction: direction,
		typ:       typ,
		condition: condition,
		size:      size,
		price:     price,
		state:     OrderStateInit,
		remaining: size,
		executed:  decimal.Zero,
		avgPrice:  decimal.Zero,
	}
	if typ == OrderTypeMaker {
		o.avgPrice = price
	}
	return o
}

// MakerOrder creates a good-till-canceled limit order.
func MakerOrder(direction Direction, size, price decimal.Decimal) *Order {
	return NewOrder(direction, OrderTypeMaker, GoodTillCanceled, size, price)
}

// TakerOrder creates a market order.
func TakerOrder(direction Direction, size decimal.Decimal) *Order {
	return NewOrder(direction, OrderTypeTaker, ImmediateOrCancel, size, decimal.Zero)
}

// ID returns the venue-assigned id, empty until the order is accepted.
func (o *Order) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

// State returns the current lifecycle state.
func (o *Order) State() OrderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// View returns a consistent snapshot.
func (o *Order) View() OrderView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

func (o *Order) viewLocked() OrderView {
	return OrderView{
		ID:                o.id,
		Direction:         o.direction,
		Type:              o.typ,
		QuantityCondition: o.condition,
		State:             o.state,
		Size:              o.size,
		Price:             o.price,
		RemainingSize:     o.remaining,
		ExecutedSize:      o.executed,
		AveragePrice:      o.avgPrice,
		CreationTime:      o.created,
		TerminationTime:   o.terminated,
	}
}

// Transition moves the order to next unless it is already terminal.
// It returns the state before the call and whether the transition happened.
func (o *Order) Transition(next OrderState, now time.Time) (OrderState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.state
	if prev.IsTerminal() {
		return prev, false
	}
	o.state = next
	if next.IsTerminal() {
		o.terminated = now
	}
	return prev, true
}

// CompareAndTransition moves the order to next only while it is still in expect.
func (o *Order) CompareAndTransition(expect, next OrderState, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != expect {
		return false
	}
	o.state = next
	if next.IsTerminal() {
		o.terminated = now
	}
	return true
}

// Accept records the venue id and activates the order. An order that was terminated while
// the request was in flight keeps its terminal state; the id is still recorded.
func (o *Order) Accept(id string, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.id = id
	o.created = now
	if o.state.IsTerminal() {
		return false
	}
	o.remaining = o.size.Sub(o.executed)
	o.state = OrderStateActive
	return true
}

// ApplyFill applies an execution of size at price. Executions at or below the last applied
// id are ignored so a re-reported execution never counts twice. It returns the applied size
// and whether the order completed.
func (o *Order) ApplyFill(executionID int64, price, size decimal.Decimal, now time.Time) (decimal.Decimal, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if executionID != 0 && executionID <= o.lastExecID {
		return decimal.Zero, false
	}
	if !o.remaining.IsPositive() || !size.IsPositive() {
		return decimal.Zero, false
	}
	o.lastExecID = executionID

	executed := decimal.Min(o.remaining, size)
	if o.typ == OrderTypeTaker {
		total := o.executed.Add(executed)
		o.avgPrice = o.avgPrice.Mul(o.executed).Add(price.Mul(executed)).Div(total)
	}
	o.executed = o.executed.Add(executed)
	o.remaining = o.remaining.Sub(executed)

	completed := o.remaining.IsZero()
	if completed && !o.state.IsTerminal() {
		o.state = OrderStateCompleted
		o.terminated = now
	}
	return executed, completed
}

// IsOpen checks if the order can still trade.
func (o *Order) IsOpen() bool {
	s := o.State()
	return s == OrderStateRequesting || s == OrderStateActive
}
