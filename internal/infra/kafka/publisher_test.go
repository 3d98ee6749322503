package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/event"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	attempts int
	fail     bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeSource struct {
	orders    event.Signal[domain.OrderView]
	positions event.Signal[event.PositionEvent]
}

func (s *fakeSource) ObserveOrders(fn func(domain.OrderView)) func() {
	return s.orders.Observe(fn)
}

func (s *fakeSource) ObservePositions(fn func(event.PositionEvent)) func() {
	return s.positions.Observe(fn)
}

func TestPublisher_PublishesAttachedEvents(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, 16, nil)
	src := &fakeSource{}
	detach := p.Attach(src)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	src.orders.Emit(domain.OrderView{ID: "A", State: domain.OrderStateActive, Size: decimal.NewFromInt(1)})
	src.positions.Emit(event.PositionEvent{Kind: event.PositionAdded, Size: decimal.NewFromInt(1)})

	require.Eventually(t, func() bool { return len(w.messages()) == 2 }, time.Second, 5*time.Millisecond)

	detach()
	src.orders.Emit(domain.OrderView{ID: "B"})

	cancel()
	<-p.Done()

	msgs := w.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", string(msgs[0].Key))
	assert.Equal(t, TypePosition, string(msgs[1].Key))

	var env struct {
		Type    string          `json:"type"`
		Payload domain.OrderView `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.Equal(t, TypeOrder, env.Type)
	assert.Equal(t, domain.OrderStateActive, env.Payload.State)
	assert.True(t, w.closed)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, 2, nil)

	for i := 0; i < 5; i++ {
		p.PublishOrder(domain.OrderView{ID: "X"})
	}
	assert.Equal(t, uint64(3), p.Dropped())

	// Queued messages are flushed on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
	assert.Len(t, w.messages(), 2)
}

func TestPublisher_WriteFailureKeepsRunning(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := newPublisher(w, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	p.PublishOrder(domain.OrderView{ID: "A"})
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.attempts == 1
	}, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()
	p.PublishOrder(domain.OrderView{ID: "B"})
	require.Eventually(t, func() bool { return len(w.messages()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-p.Done()
	assert.Equal(t, "B", string(w.messages()[0].Key))
}
