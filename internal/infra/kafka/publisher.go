package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/event"

	"github.com/segmentio/kafka-go"
)

const (
	defaultQueueSize = 4096
	maxBatch         = 256
	closeTimeout     = 5 * time.Second
)

// Message types carried in Envelope.Type.
const (
	TypeOrder    = "order"
	TypePosition = "position"
)

// Envelope is the JSON value of every published message.
type Envelope struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Source is what the publisher listens to. *engine.Engine satisfies it.
type Source interface {
	ObserveOrders(fn func(domain.OrderView)) (cancel func())
	ObservePositions(fn func(event.PositionEvent)) (cancel func())
}

// Publisher forwards order and position changes to a Kafka topic. Observers only enqueue;
// a single Run goroutine talks to the brokers, so a slow cluster never stalls the engine.
type Publisher struct {
	writer  messageWriter
	queue   chan kafka.Message
	done    chan struct{}
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewPublisher creates a publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}, defaultQueueSize, logger)
}

func newPublisher(w messageWriter, queueSize int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer: w,
		queue:  make(chan kafka.Message, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("module", "kafka"),
	}
}

// Attach subscribes the publisher to src and returns a function that detaches it.
func (p *Publisher) Attach(src Source) (detach func()) {
	cancelOrders := src.ObserveOrders(p.PublishOrder)
	cancelPositions := src.ObservePositions(p.PublishPosition)
	return func() {
		cancelOrders()
		cancelPositions()
	}
}

// PublishOrder enqueues an order snapshot keyed by order id. Orders without a venue id yet
// are keyed by their creation time.
func (p *Publisher) PublishOrder(o domain.OrderView) {
	key := o.ID
	if key == "" {
		key = o.CreationTime.Format(time.RFC3339Nano)
	}
	p.enqueue(key, Envelope{Type: TypeOrder, Time: time.Now(), Payload: o})
}

// PublishPosition enqueues a position change.
func (p *Publisher) PublishPosition(ev event.PositionEvent) {
	p.enqueue(TypePosition, Envelope{Type: TypePosition, Time: ev.Time, Payload: ev})
}

func (p *Publisher) enqueue(key string, env Envelope) {
	value, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("Failed to encode event", slog.String("type", env.Type), slog.Any("error", err))
		return
	}
	select {
	case p.queue <- kafka.Message{Key: []byte(key), Value: value}:
	default:
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			p.logger.Warn("Kafka queue full, dropping events", slog.Uint64("dropped", n))
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run writes queued messages until ctx ends, then flushes what is left and closes the writer.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			p.shutdown(ctx)
			return
		case m := <-p.queue:
			p.write(ctx, p.batch(m))
		}
	}
}

// Done is closed once Run has flushed and closed the writer.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

// batch collects first plus whatever is already queued, up to maxBatch.
func (p *Publisher) batch(first kafka.Message) []kafka.Message {
	msgs := []kafka.Message{first}
	for len(msgs) < maxBatch {
		select {
		case m := <-p.queue:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
	return msgs
}

func (p *Publisher) write(ctx context.Context, msgs []kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Warn("Kafka write failed", slog.Int("messages", len(msgs)), slog.Any("error", err))
	}
}

func (p *Publisher) shutdown(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	for len(p.queue) > 0 {
		p.write(flushCtx, p.batch(<-p.queue))
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("Kafka writer close failed", slog.Any("error", err))
	}
	p.logger.Info("Kafka publisher stopped", slog.Uint64("dropped", p.dropped.Load()))
}
