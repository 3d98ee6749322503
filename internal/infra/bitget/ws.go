package bitget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cointoss/internal/infra"

	"github.com/gorilla/websocket"
)

// channelSpec describes one websocket subscription.
type channelSpec struct {
	name   string
	url    string
	signer *Signer // nil for public channels
	arg    subscribeArg
}

// wsWorker owns one subscription: its connection, its output channel and the decoder state.
//
// Until a connection is established the worker keeps dialing with backoff. Once an
// established connection is lost the output channel is closed, so the consumer learns that
// pushes may have been missed and can resynchronise before subscribing again.
type wsWorker[T any] struct {
	spec    channelSpec
	decode  func(data json.RawMessage, received time.Time) []T
	out     chan T
	metrics *infra.Metrics
	logger  *slog.Logger

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
}

func startWorker[T any](ctx context.Context, spec channelSpec, decode func(json.RawMessage, time.Time) []T, metrics *infra.Metrics, logger *slog.Logger) <-chan T {
	w := &wsWorker[T]{
		spec:    spec,
		decode:  decode,
		out:     make(chan T, 256),
		metrics: metrics,
		logger:  logger,
	}
	go w.connectionLoop(ctx)
	return w.out
}

func (w *wsWorker[T]) connectionLoop(ctx context.Context) {
	defer close(w.out)
	defer w.closeConnection()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Bitget stream stopped", slog.String("channel", w.spec.name))
			return
		default:
		}

		stop, err := w.connect(ctx)
		if err != nil {
			w.logger.Warn("Bitget stream connection failed",
				slog.String("channel", w.spec.name),
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			delay := calculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		w.metrics.IncrementConnections()
		w.readLoop(ctx)
		stop()
		w.metrics.DecrementConnections()

		if ctx.Err() == nil {
			w.logger.Warn("Bitget stream connection lost", slog.String("channel", w.spec.name))
		}
		return
	}
}

// connect dials, logs in when the channel is private and subscribes. The returned stop ends
// the connection's helper goroutines and closes it.
func (w *wsWorker[T]) connect(ctx context.Context) (stop func(), err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	header := make(http.Header)
	header.Add("User-Agent", DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.spec.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if w.spec.signer != nil {
		if err := w.login(); err != nil {
			w.closeConnection()
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}
	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	go w.pingLoop(connCtx)
	go func() {
		// Unblock ReadMessage when the subscription ends.
		<-connCtx.Done()
		conn.Close()
	}()

	w.logger.Info("Bitget stream connected",
		slog.String("channel", w.spec.name),
		slog.String("inst", w.spec.arg.InstId))
	return func() {
		cancel()
		w.closeConnection()
	}, nil
}

// login sends the signed login frame and waits for the acknowledgement.
func (w *wsWorker[T]) login() error {
	b, err := json.Marshal(subscribeRequest{Op: "login", Args: []any{w.spec.signer.LoginArgs()}})
	if err != nil {
		return err
	}
	if err := w.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return err
	}

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return errors.New("no conn")
	}
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var ack wsEvent
	if err := json.Unmarshal(msg, &ack); err != nil {
		return err
	}
	if ack.Event != "login" || ack.Code.String() != "0" {
		return fmt.Errorf("login rejected: event=%s code=%s msg=%s", ack.Event, ack.Code, ack.Msg)
	}
	return nil
}

func (w *wsWorker[T]) subscribe() error {
	b, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: []any{w.spec.arg}})
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *wsWorker[T]) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (w *wsWorker[T]) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return errors.New("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *wsWorker[T]) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Bitget stream read failed", slog.String("channel", w.spec.name), slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		if string(msg) == "pong" {
			continue
		}
		if !w.handleMessage(ctx, msg) {
			return
		}
	}
}

// handleMessage forwards the items in msg. It returns false when ctx ended mid-delivery.
func (w *wsWorker[T]) handleMessage(ctx context.Context, msg []byte) bool {
	var ev wsEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		w.logger.Warn("Bitget stream: bad frame", slog.Any("error", err))
		return true
	}
	if ev.Event == "error" {
		w.logger.Error("Bitget stream error",
			slog.String("channel", w.spec.name),
			slog.String("code", ev.Code.String()),
			slog.String("msg", ev.Msg))
		return true
	}
	if ev.Arg.Channel != w.spec.arg.Channel || len(ev.Data) == 0 {
		return true
	}

	for _, item := range w.decode(ev.Data, time.Now()) {
		select {
		case w.out <- item:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (w *wsWorker[T]) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
