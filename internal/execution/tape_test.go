package execution

import (
	"context"
	"testing"
	"time"

	"cointoss/internal/domain"
)

func TestTape_StepWalksAndTrades(t *testing.T) {
	paper := NewPaper(0, nil)
	tape := NewTape(paper, d("100"), d("0.5"), d("0.01"), time.Hour, 7, nil)

	prev := d("100")
	for i := 0; i < 50; i++ {
		execs := tape.Step()
		if len(execs) != 1 {
			t.Fatalf("Step %d: expected 1 execution, got %d", i, len(execs))
		}
		e := execs[0]
		if !e.Price.Sub(prev).Abs().Equal(d("0.5")) && !e.Price.Equal(prev) {
			t.Fatalf("Step %d: price jumped from %s to %s", i, prev, e.Price)
		}
		if e.Price.LessThan(d("0.5")) {
			t.Fatalf("Step %d: price %s below one tick", i, e.Price)
		}
		prev = e.Price
	}

	if got := len(paper.History()); got != 50 {
		t.Errorf("Expected 50 executions in history, got %d", got)
	}
	if !paper.LastPrice().Equal(prev) {
		t.Errorf("Expected last price %s, got %s", prev, paper.LastPrice())
	}
}

func TestTape_Deterministic(t *testing.T) {
	walk := func() []string {
		tape := NewTape(NewPaper(0, nil), d("100"), d("1"), d("1"), time.Hour, 42, nil)
		var out []string
		for i := 0; i < 20; i++ {
			out = append(out, tape.Step()[0].Price.String())
		}
		return out
	}
	a, b := walk(), walk()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Walks diverge at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestTape_FillsRestingOrders(t *testing.T) {
	paper := NewPaper(0, nil)
	ctx := context.Background()
	// A bid far above the walk's reach from below is crossed by the first sell.
	id, err := paper.Request(ctx, makerView(domain.Buy, "1", "1000"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	tape := NewTape(paper, d("100"), d("1"), d("1"), time.Hour, 1, nil)
	filled := false
	for i := 0; i < 100 && !filled; i++ {
		for _, e := range tape.Step() {
			filled = filled || e.MakerID == id
		}
	}
	if !filled {
		t.Error("Expected the resting bid to be filled by a sell")
	}
}

func TestTape_StartStop(t *testing.T) {
	paper := NewPaper(0, nil)
	tape := NewTape(paper, d("100"), d("1"), d("1"), time.Millisecond, 3, nil)

	tape.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(paper.History()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	tape.Stop()

	n := len(paper.History())
	if n < 3 {
		t.Fatalf("Expected tape to trade, got %d executions", n)
	}
	time.Sleep(10 * time.Millisecond)
	if len(paper.History()) != n {
		t.Error("Tape kept trading after Stop")
	}
}
