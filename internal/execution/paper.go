package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
)

// subscriberBuffer is the live channel capacity per StreamFills call.
const subscriberBuffer = 1024

// Paper is an in-memory venue. Other participants trade through Trade; our maker orders
// rest until a crossing trade fills them, taker orders fill at the last price.
//
// Taker fills are published before Request returns, so every taker order exercises the
// fill-before-acknowledgement path. With a taker depth set, a taker order fills at most that
// much and the remainder expires, reported through StreamOrderUpdates.
type Paper struct {
	mu sync.Mutex

	latency    time.Duration
	delay      domain.DelayEstimator
	now        func() time.Time
	takerDepth decimal.Decimal

	history   []domain.Execution
	last      domain.Execution
	nextID    int64
	nextOrder int
	nextTaker int

	resting    []*restingOrder
	subs       map[int]*subscriber[domain.Execution]
	updateSubs map[int]*subscriber[domain.OrderUpdate]
	nextSub    int

	failRequests int
	failCancels  int
	failFetches  int

	logger *slog.Logger
}

type restingOrder struct {
	id        string
	direction domain.Direction
	price     decimal.Decimal
	remaining decimal.Decimal
}

type subscriber[T any] struct {
	ch   chan T
	done <-chan struct{}
}

var (
	_ domain.Venue               = (*Paper)(nil)
	_ domain.OrderUpdateStreamer = (*Paper)(nil)
)

// NewPaper creates a paper venue that answers requests after latency.
func NewPaper(latency time.Duration, logger *slog.Logger) *Paper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paper{
		latency: latency,
		delay:   domain.FixedDelay(latency),
		now:        time.Now,
		subs:       make(map[int]*subscriber[domain.Execution]),
		updateSubs: make(map[int]*subscriber[domain.OrderUpdate]),
		logger:     logger.With("module", "paper"),
	}
}

// SetTakerDepth caps the size one taker order can fill. Zero removes the cap.
func (p *Paper) SetTakerDepth(depth decimal.Decimal) {
	p.mu.Lock()
	p.takerDepth = depth
	p.mu.Unlock()
}

// Seed appends pre-existing market history. Ids are assigned in order.
func (p *Paper) Seed(executions ...domain.Execution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range executions {
		p.record(e)
	}
}

// FailNextRequests makes the next n placement calls fail with a retriable network error.
func (p *Paper) FailNextRequests(n int) {
	p.mu.Lock()
	p.failRequests = n
	p.mu.Unlock()
}

// FailNextCancels makes the next n cancel calls fail.
func (p *Paper) FailNextCancels(n int) {
	p.mu.Lock()
	p.failCancels = n
	p.mu.Unlock()
}

// FailNextFetches makes the next n backfill calls fail.
func (p *Paper) FailNextFetches(n int) {
	p.mu.Lock()
	p.failFetches = n
	p.mu.Unlock()
}

// ResumeAfter makes new executions start above id, so that a restarted paper venue does not
// reuse ids already recorded in the execution cache.
func (p *Paper) ResumeAfter(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id > p.nextID {
		p.nextID = id
	}
}

// LastPrice is the price of the latest execution.
func (p *Paper) LastPrice() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last.Price
}

// History returns every execution recorded so far, oldest first.
func (p *Paper) History() []domain.Execution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.history)
}

// Trade simulates another participant taking size at price. The trade fills our crossing
// resting orders first (at their price), the remainder trades with the rest of the book.
func (p *Paper) Trade(direction domain.Direction, price, size decimal.Decimal) []domain.Execution {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextTaker++
	taker := fmt.Sprintf("MKT-T-%d", p.nextTaker)
	left := size

	var out []domain.Execution
	kept := p.resting[:0]
	for _, o := range p.resting {
		if left.IsZero() || o.direction == direction || !crosses(direction, price, o.price) {
			kept = append(kept, o)
			continue
		}
		executed := decimal.Min(left, o.remaining)
		out = append(out, p.publish(domain.Execution{
			Direction: direction,
			Price:     o.price,
			Size:      executed,
			MakerID:   o.id,
			TakerID:   taker,
		}))
		left = left.Sub(executed)
		o.remaining = o.remaining.Sub(executed)
		if o.remaining.IsPositive() {
			kept = append(kept, o)
		}
	}
	p.resting = kept

	if left.IsPositive() {
		out = append(out, p.publish(domain.Execution{
			Direction: direction,
			Price:     price,
			Size:      left,
			MakerID:   fmt.Sprintf("MKT-M-%d", p.nextTaker),
			TakerID:   taker,
		}))
	}
	return out
}

func crosses(taker domain.Direction, takerPrice, makerPrice decimal.Decimal) bool {
	if taker == domain.Buy {
		return takerPrice.GreaterThanOrEqual(makerPrice)
	}
	return takerPrice.LessThanOrEqual(makerPrice)
}

// Request implements domain.OrderGateway.
func (p *Paper) Request(ctx context.Context, order domain.OrderView) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failRequests > 0 {
		p.failRequests--
		return "", domain.NewNetworkError("place order", domain.ErrConnectionFailed)
	}
	if !order.Size.IsPositive() {
		return "", domain.NewFatalNetworkError("place order", errors.New("size must be positive"))
	}

	p.nextOrder++
	id := fmt.Sprintf("PAPER-%d", p.nextOrder)

	switch order.Type {
	case domain.OrderTypeTaker:
		if p.last.ID == 0 {
			return "", domain.NewFatalNetworkError("place order", errors.New("no market price"))
		}
		filled := order.Size
		if p.takerDepth.IsPositive() {
			filled = decimal.Min(filled, p.takerDepth)
		}
		if order.QuantityCondition == domain.FillOrKill && filled.LessThan(order.Size) {
			filled = decimal.Zero
		}
		if filled.IsPositive() {
			p.nextTaker++
			p.publish(domain.Execution{
				Direction: order.Direction,
				Price:     p.last.Price,
				Size:      filled,
				MakerID:   fmt.Sprintf("MKT-M-%d", p.nextTaker),
				TakerID:   id,
			})
		}
		if filled.LessThan(order.Size) {
			p.update(domain.OrderUpdate{ID: id, State: domain.OrderStateExpired, Filled: filled})
		}
	case domain.OrderTypeMaker:
		if order.QuantityCondition != domain.GoodTillCanceled {
			// Nothing rests on the paper book for an immediate order to hit.
			p.update(domain.OrderUpdate{ID: id, State: domain.OrderStateExpired, Filled: decimal.Zero})
			break
		}
		fallthrough
	default:
		p.resting = append(p.resting, &restingOrder{
			id:        id,
			direction: order.Direction,
			price:     order.Price,
			remaining: order.Size,
		})
	}

	p.logger.Debug("Order placed", slog.String("id", id), slog.String("type", string(order.Type)))
	return id, nil
}

// Cancel implements domain.OrderGateway.
func (p *Paper) Cancel(ctx context.Context, order domain.OrderView) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCancels > 0 {
		p.failCancels--
		return domain.NewNetworkError("cancel order", domain.ErrConnectionFailed)
	}
	for i, o := range p.resting {
		if o.id == order.ID {
			p.resting = slices.Delete(p.resting, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("cancel %s: %w", order.ID, domain.ErrUnknownOrder)
}

// StreamFills implements domain.FillStreamer.
func (p *Paper) StreamFills(ctx context.Context) (<-chan domain.Execution, error) {
	return subscribe(ctx, p, p.subs), nil
}

// StreamOrderUpdates implements domain.OrderUpdateStreamer. Expirations are published before
// the Request that caused them returns.
func (p *Paper) StreamOrderUpdates(ctx context.Context) (<-chan domain.OrderUpdate, error) {
	return subscribe(ctx, p, p.updateSubs), nil
}

func subscribe[T any](ctx context.Context, p *Paper, subs map[int]*subscriber[T]) <-chan T {
	sub := &subscriber[T]{ch: make(chan T, subscriberBuffer), done: ctx.Done()}

	p.mu.Lock()
	p.nextSub++
	key := p.nextSub
	subs[key] = sub
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(subs, key)
		p.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch
}

// FetchFills implements domain.FillFetcher: executions above AfterID, skipping Offset pages,
// newest first.
func (p *Paper) FetchFills(ctx context.Context, page domain.PageRequest) ([]domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failFetches > 0 {
		p.failFetches--
		return nil, domain.NewNetworkError("fetch fills", domain.ErrConnectionFailed)
	}

	start, _ := slices.BinarySearchFunc(p.history, page.AfterID+1, func(e domain.Execution, id int64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		default:
			return 0
		}
	})
	start += page.Offset * page.Limit
	if start >= len(p.history) {
		return nil, nil
	}
	end := min(start+page.Limit, len(p.history))

	out := slices.Clone(p.history[start:end])
	slices.Reverse(out)
	return out, nil
}

func (p *Paper) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// record assigns an id and chains e onto the history. Must be called with lock held.
func (p *Paper) record(e domain.Execution) domain.Execution {
	p.nextID++
	e.ID = p.nextID
	if e.Time.IsZero() {
		e.Time = p.now()
	}
	e = domain.Chain(p.last, e)
	e.Delay = p.delay.Estimate(e, p.now())

	p.history = append(p.history, e)
	p.last = e
	return e
}

// publish records e and fans it out to live subscribers. Must be called with lock held.
func (p *Paper) publish(e domain.Execution) domain.Execution {
	e = p.record(e)
	fanOut(p.subs, e)
	return e
}

// update reports a venue-side termination. Must be called with lock held.
func (p *Paper) update(u domain.OrderUpdate) {
	u.Time = p.now()
	p.logger.Debug("Order expired", slog.String("id", u.ID), slog.String("filled", u.Filled.String()))
	fanOut(p.updateSubs, u)
}

func fanOut[T any](subs map[int]*subscriber[T], v T) {
	for _, sub := range subs {
		select {
		case sub.ch <- v:
		case <-sub.done:
		}
	}
}
