package engine

import (
	"log/slog"
	"sync"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"
)

// Window buffers executions and order updates for one placement request whose venue id is
// not known yet.
type Window struct {
	executions []domain.Execution
	updates    []domain.OrderUpdate
	dropped    int
	closed     bool
}

// output is a side effect of reconciliation, delivered outside the state lock.
type output struct {
	fill  *domain.Fill
	order *domain.OrderView
}

// Reconciler matches executions to our orders, resolving the race between a placement
// response and the fill stream.
type Reconciler struct {
	mu       sync.Mutex
	index    map[string]*domain.Order
	windows  map[*Window]struct{}
	settling map[string]domain.OrderUpdate
	capacity int
	queue    []output

	// drain serializes delivery so the ledger sees fills in reconciliation order.
	drain sync.Mutex

	onFill  func(domain.Fill)
	onOrder func(domain.OrderView)
	now     func() time.Time
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewReconciler creates a reconciler. capacity bounds each request window.
func NewReconciler(capacity int, onFill func(domain.Fill), onOrder func(domain.OrderView), metrics *infra.Metrics, logger *slog.Logger) *Reconciler {
	if capacity <= 0 {
		capacity = 4096
	}
	if onFill == nil {
		onFill = func(domain.Fill) {}
	}
	if onOrder == nil {
		onOrder = func(domain.OrderView) {}
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		index:    make(map[string]*domain.Order),
		windows:  make(map[*Window]struct{}),
		settling: make(map[string]domain.OrderUpdate),
		capacity: capacity,
		onFill:   onFill,
		onOrder:  onOrder,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger.With("module", "reconciler"),
	}
}

// Open starts buffering executions for a request that is about to be sent.
func (r *Reconciler) Open() *Window {
	w := &Window{}
	r.mu.Lock()
	r.windows[w] = struct{}{}
	r.mu.Unlock()
	return w
}

// Discard closes a window without registering anything.
func (r *Reconciler) Discard(w *Window) {
	r.mu.Lock()
	delete(r.windows, w)
	w.closed = true
	w.executions = nil
	w.updates = nil
	r.mu.Unlock()
}

// Accept is the acceptance step: it closes the window, activates the order under id,
// registers it and replays the buffered executions carrying id, all under one lock.
func (r *Reconciler) Accept(w *Window, o *domain.Order, id string) {
	r.mu.Lock()
	now := r.now()

	delete(r.windows, w)
	w.closed = true
	buffered := w.executions
	updates := w.updates
	w.executions = nil
	w.updates = nil
	if w.dropped > 0 {
		r.logger.Warn("Request window overflowed", slog.String("id", id), slog.Int("dropped", w.dropped))
	}

	if o.Accept(id, now) {
		r.index[id] = o
	}
	r.push(output{order: viewPtr(o.View())})

	for _, e := range buffered {
		if e.Matches(id) {
			r.applyLocked(o, id, e)
		}
	}
	for _, u := range updates {
		if u.ID == id {
			r.settleLocked(o, u)
		}
	}
	r.mu.Unlock()

	r.flush()
}

// OnExecution routes an execution from the unified timeline.
func (r *Reconciler) OnExecution(e domain.Execution) {
	r.mu.Lock()
	unmatched := false
	for _, id := range [2]string{e.MakerID, e.TakerID} {
		if id == "" {
			continue
		}
		if o, ok := r.index[id]; ok {
			r.applyLocked(o, id, e)
		} else {
			unmatched = true
		}
	}

	// A side we do not know yet may belong to a request still waiting for its id.
	if unmatched {
		for w := range r.windows {
			if len(w.executions) >= r.capacity {
				w.executions = w.executions[1:]
				w.dropped++
			}
			w.executions = append(w.executions, e)
		}
	}
	hasOutput := len(r.queue) > 0
	r.mu.Unlock()

	if hasOutput {
		r.flush()
	}
}

// applyLocked applies e to o. Must be called with lock held.
func (r *Reconciler) applyLocked(o *domain.Order, id string, e domain.Execution) {
	executed, completed := o.ApplyFill(e.ID, e.Price, e.Size, r.now())
	if executed.IsZero() {
		return
	}
	r.metrics.RecordFill()

	view := o.View()
	r.push(output{
		fill: &domain.Fill{
			OrderID:     id,
			ExecutionID: e.ID,
			Direction:   view.Direction,
			Price:       e.Price,
			Size:        executed,
			Time:        e.Time,
		},
	})
	if completed {
		delete(r.index, id)
		delete(r.settling, id)
	}
	r.push(output{order: &view})

	if u, ok := r.settling[id]; ok {
		r.settleLocked(o, u)
	}
}

// OnOrderUpdate applies a venue-reported termination. Completion is left to the fills.
func (r *Reconciler) OnOrderUpdate(u domain.OrderUpdate) {
	if !u.State.IsTerminal() || u.State == domain.OrderStateCompleted || u.ID == "" {
		return
	}

	r.mu.Lock()
	if o, ok := r.index[u.ID]; ok {
		r.settleLocked(o, u)
	} else {
		for w := range r.windows {
			if len(w.updates) >= r.capacity {
				w.updates = w.updates[1:]
				w.dropped++
			}
			w.updates = append(w.updates, u)
		}
	}
	hasOutput := len(r.queue) > 0
	r.mu.Unlock()

	if hasOutput {
		r.flush()
	}
}

// settleLocked terminates o as u reports once o has executed u.Filled. Until then the
// update is parked and retried after every fill of o. Must be called with lock held.
func (r *Reconciler) settleLocked(o *domain.Order, u domain.OrderUpdate) {
	view := o.View()
	if view.State.IsTerminal() {
		delete(r.settling, u.ID)
		return
	}
	if view.ExecutedSize.LessThan(u.Filled) {
		r.settling[u.ID] = u
		return
	}

	delete(r.settling, u.ID)
	delete(r.index, u.ID)
	if _, ok := o.Transition(u.State, r.now()); ok {
		r.metrics.RecordVenueTermination()
		r.logger.Info("Order terminated by venue",
			slog.String("id", u.ID),
			slog.String("state", u.State.String()),
			slog.String("executed", view.ExecutedSize.String()))
		r.push(output{order: viewPtr(o.View())})
	}
}

// Notify publishes a snapshot of o behind every output already queued.
func (r *Reconciler) Notify(o *domain.Order) {
	r.mu.Lock()
	r.push(output{order: viewPtr(o.View())})
	r.mu.Unlock()

	r.flush()
}

// Remove drops a terminated order from the index.
func (r *Reconciler) Remove(id string) {
	r.mu.Lock()
	delete(r.index, id)
	delete(r.settling, id)
	r.mu.Unlock()
}

// Lookup returns the active order registered under id.
func (r *Reconciler) Lookup(id string) (*domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.index[id]
	return o, ok
}

// Active returns snapshots of all registered orders.
func (r *Reconciler) Active() []domain.OrderView {
	r.mu.Lock()
	orders := make([]*domain.Order, 0, len(r.index))
	for _, o := range r.index {
		orders = append(orders, o)
	}
	r.mu.Unlock()

	views := make([]domain.OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, o.View())
	}
	return views
}

// Pending returns the number of open request windows.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// push queues an output. Must be called with lock held.
func (r *Reconciler) push(out output) {
	r.queue = append(r.queue, out)
}

// flush delivers queued outputs in order. A caller that finds another goroutine already
// draining leaves its outputs to that drainer, which keeps going until the queue is empty.
// This also makes re-entrant calls from observers safe.
func (r *Reconciler) flush() {
	for {
		if !r.drain.TryLock() {
			return
		}
		for {
			r.mu.Lock()
			batch := r.queue
			r.queue = nil
			r.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, out := range batch {
				if out.fill != nil {
					r.onFill(*out.fill)
				}
				if out.order != nil {
					r.onOrder(*out.order)
				}
			}
		}
		r.drain.Unlock()

		r.mu.Lock()
		empty := len(r.queue) == 0
		r.mu.Unlock()
		if empty {
			return
		}
	}
}

func viewPtr(v domain.OrderView) *domain.OrderView {
	return &v
}
