package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func checkInvariant(t *testing.T, o *Order) {
	t.Helper()
	v := o.View()
	if !v.ExecutedSize.Add(v.RemainingSize).Equal(v.Size) {
		t.Fatalf("executed %s + remaining %s != size %s", v.ExecutedSize, v.RemainingSize, v.Size)
	}
}

func TestOrder_NewOrderInvariant(t *testing.T) {
	o := MakerOrder(Buy, d("3"), d("100"))
	if o.State() != OrderStateInit {
		t.Errorf("Expected INIT, got %s", o.State())
	}
	checkInvariant(t, o)

	if !o.View().AveragePrice.Equal(d("100")) {
		t.Errorf("Maker order should start with its quoted price as average")
	}
}

func TestOrder_ApplyFill(t *testing.T) {
	now := time.Now()

	t.Run("Taker average price is volume weighted", func(t *testing.T) {
		o := TakerOrder(Buy, d("4"))
		o.Accept("A", now)

		o.ApplyFill(1, d("10"), d("1"), now)
		checkInvariant(t, o)
		o.ApplyFill(2, d("13"), d("2"), now)
		checkInvariant(t, o)

		// (10*1 + 13*2) / 3 = 12
		if got := o.View().AveragePrice; !got.Equal(d("12")) {
			t.Errorf("Expected average 12, got %s", got)
		}
		if o.State() != OrderStateActive {
			t.Errorf("Expected ACTIVE, got %s", o.State())
		}
	})

	t.Run("Maker keeps quoted price", func(t *testing.T) {
		o := MakerOrder(Sell, d("2"), d("50"))
		o.Accept("B", now)
		o.ApplyFill(1, d("51"), d("1"), now)
		if got := o.View().AveragePrice; !got.Equal(d("50")) {
			t.Errorf("Expected 50, got %s", got)
		}
	})

	t.Run("Oversized fill is capped and completes", func(t *testing.T) {
		o := MakerOrder(Buy, d("1.5"), d("10"))
		o.Accept("C", now)
		executed, completed := o.ApplyFill(7, d("10"), d("4"), now)
		if !executed.Equal(d("1.5")) || !completed {
			t.Fatalf("Expected 1.5 executed and completion, got %s %v", executed, completed)
		}
		checkInvariant(t, o)
		if o.State() != OrderStateCompleted {
			t.Errorf("Expected COMPLETED, got %s", o.State())
		}
		if o.View().TerminationTime.IsZero() {
			t.Error("Termination time should be stamped")
		}
	})

	t.Run("Same execution id is applied once", func(t *testing.T) {
		o := MakerOrder(Buy, d("5"), d("10"))
		o.Accept("D", now)
		o.ApplyFill(9, d("10"), d("1"), now)
		executed, _ := o.ApplyFill(9, d("10"), d("1"), now)
		if !executed.IsZero() {
			t.Errorf("Duplicate execution should not apply, got %s", executed)
		}
		if got := o.View().ExecutedSize; !got.Equal(d("1")) {
			t.Errorf("Expected executed 1, got %s", got)
		}
	})
}

func TestOrder_TerminalStatesAbsorb(t *testing.T) {
	now := time.Now()
	for _, state := range []OrderState{OrderStateCompleted, OrderStateCanceled, OrderStateExpired, OrderStateRejected} {
		t.Run(state.String(), func(t *testing.T) {
			o := MakerOrder(Buy, d("1"), d("1"))
			o.Transition(state, now)

			prev, ok := o.Transition(OrderStateActive, now)
			if ok || prev != state {
				t.Errorf("Terminal %s should absorb transitions", state)
			}
			if o.Accept("X", now) {
				t.Errorf("Accept should not revive a %s order", state)
			}
			if o.ID() != "X" {
				t.Error("Accept should still record the venue id")
			}
		})
	}
}

func TestOrderState_TextRoundTrip(t *testing.T) {
	var s OrderState
	if err := s.UnmarshalText([]byte("CANCELED")); err != nil || s != OrderStateCanceled {
		t.Errorf("Expected CANCELED, got %s (err %v)", s, err)
	}
	if err := s.UnmarshalText([]byte("PENDING")); err == nil {
		t.Error("Expected error for unknown state")
	}
}
