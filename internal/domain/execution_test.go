package domain

import (
	"testing"
	"time"
)

func TestChain(t *testing.T) {
	first := Chain(Execution{}, Execution{ID: 1, Direction: Buy, Size: d("1"), TakerID: "T1", MakerID: "M1"})
	if first.Consecutive != ConsecutiveNone || !first.CumulativeSize.Equal(d("1")) {
		t.Fatalf("First execution should start a run, got %s %s", first.Consecutive, first.CumulativeSize)
	}

	t.Run("Same taker accumulates", func(t *testing.T) {
		next := Chain(first, Execution{ID: 2, Direction: Buy, Size: d("0.5"), TakerID: "T1", MakerID: "M2"})
		if next.Consecutive != ConsecutiveSameTaker {
			t.Errorf("Expected SAME_TAKER, got %s", next.Consecutive)
		}
		if !next.CumulativeSize.Equal(d("1.5")) {
			t.Errorf("Expected cumulative 1.5, got %s", next.CumulativeSize)
		}
	})

	t.Run("Same maker is tagged without accumulating", func(t *testing.T) {
		next := Chain(first, Execution{ID: 2, Direction: Buy, Size: d("2"), TakerID: "T2", MakerID: "M1"})
		if next.Consecutive != ConsecutiveSameMaker {
			t.Errorf("Expected SAME_MAKER, got %s", next.Consecutive)
		}
		if !next.CumulativeSize.Equal(d("2")) {
			t.Errorf("Expected cumulative 2, got %s", next.CumulativeSize)
		}
	})

	t.Run("Direction change resets", func(t *testing.T) {
		next := Chain(first, Execution{ID: 2, Direction: Sell, Size: d("2"), TakerID: "T1"})
		if next.Consecutive != ConsecutiveNone {
			t.Errorf("Expected NONE, got %s", next.Consecutive)
		}
	})
}

func TestExecution_Matches(t *testing.T) {
	e := Execution{MakerID: "M", TakerID: "T"}
	if !e.Matches("M") || !e.Matches("T") {
		t.Error("Should match either side")
	}
	if e.Matches("") || e.Matches("X") {
		t.Error("Should not match empty or foreign ids")
	}
}

func TestDirection_Inverse(t *testing.T) {
	if Buy.Inverse() != Sell || Sell.Inverse() != Buy {
		t.Error("Inverse should swap buy and sell")
	}
	if !Buy.Sign().Add(Buy.Inverse().Sign()).IsZero() {
		t.Error("A direction and its inverse should have opposite signs")
	}
}

func TestDelayEstimators(t *testing.T) {
	executed := time.Date(2018, 4, 27, 12, 34, 9, 500_000_000, time.UTC)
	e := Execution{Time: executed, TakerID: "JRF20180427-123407-869661"}

	t.Run("Acceptance id", func(t *testing.T) {
		got := AcceptanceIDDelay{}.Estimate(e, time.Time{})
		if got != 2500*time.Millisecond {
			t.Errorf("Expected 2.5s, got %s", got)
		}
	})

	t.Run("Acceptance id fallback", func(t *testing.T) {
		got := AcceptanceIDDelay{Fallback: time.Second}.Estimate(Execution{Time: executed, TakerID: "plain"}, time.Time{})
		if got != time.Second {
			t.Errorf("Expected fallback, got %s", got)
		}
	})

	t.Run("Receive delay floors at zero", func(t *testing.T) {
		if got := (ReceiveDelay{}).Estimate(e, executed.Add(-time.Second)); got != 0 {
			t.Errorf("Expected 0, got %s", got)
		}
		if got := (ReceiveDelay{}).Estimate(e, executed.Add(time.Second)); got != time.Second {
			t.Errorf("Expected 1s, got %s", got)
		}
	})
}
