package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cointoss/internal/domain"
	"cointoss/internal/infra"
)

type memStore struct {
	mu    sync.Mutex
	saved []domain.Execution
	err   error
}

func (m *memStore) SaveExecutions(ctx context.Context, executions []domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, executions...)
	return nil
}

func (m *memStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func newTestSequencer(store domain.ExecutionStore, dumpPath string) (*Sequencer, *Reconciler, *Ledger) {
	metrics := &infra.Metrics{}
	ledger := NewLedger(nil)
	r := NewReconciler(0, ledger.Apply, nil, metrics, nil)
	return NewSequencer(r, ledger, store, dumpPath, metrics, nil), r, ledger
}

func TestSequencer_Pipeline(t *testing.T) {
	store := &memStore{}
	seq, r, ledger := newTestSequencer(store, "")

	o := domain.MakerOrder(domain.Buy, dec("2"), dec("100"))
	o.Transition(domain.OrderStateRequesting, time.Now())
	r.Accept(r.Open(), o, "ORD-1")

	var seen []int64
	seq.Observe(func(e domain.Execution) { seen = append(seen, e.ID) })

	in := make(chan domain.Execution, 4)
	in <- exec(1, domain.Sell, "1", "100", "ORD-1", "T")
	in <- exec(2, domain.Sell, "1", "101", "OTHER", "T")
	close(in)

	seq.Run(context.Background(), in)

	if len(seen) != 2 {
		t.Fatalf("Expected 2 executions observed, got %d", len(seen))
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 executions persisted, got %d", store.Len())
	}
	if !ledger.Size().Equal(dec("1")) {
		t.Errorf("Expected position size 1, got %s", ledger.Size())
	}
	// 1 long at 100 marked at 101
	if !ledger.Unrealized().Equal(dec("1")) {
		t.Errorf("Expected unrealized 1, got %s", ledger.Unrealized())
	}
	if seq.LastID() != 2 {
		t.Errorf("Expected last id 2, got %d", seq.LastID())
	}
}

func TestSequencer_DropsOutOfOrder(t *testing.T) {
	seq, _, _ := newTestSequencer(nil, "")

	var seen []int64
	seq.Observe(func(e domain.Execution) { seen = append(seen, e.ID) })

	seq.process(domain.Execution{ID: 5, Price: dec("1")})
	seq.process(domain.Execution{ID: 5, Price: dec("1")})
	seq.process(domain.Execution{ID: 3, Price: dec("1")})
	seq.process(domain.Execution{ID: 6, Price: dec("1")})

	if len(seen) != 2 || seen[0] != 5 || seen[1] != 6 {
		t.Errorf("Expected [5 6], got %v", seen)
	}
	if got := seq.metrics.Snapshot().Anomalies; got != 2 {
		t.Errorf("Expected 2 anomalies, got %d", got)
	}
}

func TestSequencer_StoreFailureIsNotFatal(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	seq, _, _ := newTestSequencer(store, "")

	in := make(chan domain.Execution, 2)
	in <- domain.Execution{ID: 1, Price: dec("1")}
	in <- domain.Execution{ID: 2, Price: dec("1")}
	close(in)

	seq.Run(context.Background(), in)

	if seq.LastID() != 2 {
		t.Errorf("Expected pipeline to keep going, last id %d", seq.LastID())
	}
}

func TestSequencer_PanicDumpsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	seq, r, _ := newTestSequencer(nil, path)

	o := domain.MakerOrder(domain.Buy, dec("1"), dec("100"))
	o.Transition(domain.OrderStateRequesting, time.Now())
	r.Accept(r.Open(), o, "ORD-9")

	seq.Observe(func(domain.Execution) { panic("observer bug") })

	in := make(chan domain.Execution, 1)
	in <- domain.Execution{ID: 42, Price: dec("1")}

	func() {
		defer func() {
			if rec := recover(); rec == nil {
				t.Error("Sequencer should have halted")
			}
		}()
		seq.Run(context.Background(), in)
	}()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected state dump: %v", err)
	}
	var dump struct {
		Watermark int64 `json:"watermark"`
		Orders    []struct {
			ID string `json:"id"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(b, &dump); err != nil {
		t.Fatalf("Corrupt dump: %v", err)
	}
	if dump.Watermark != 42 {
		t.Errorf("Expected watermark 42, got %d", dump.Watermark)
	}
	if len(dump.Orders) != 1 || dump.Orders[0].ID != "ORD-9" {
		t.Errorf("Expected ORD-9 in dump, got %+v", dump.Orders)
	}
}
