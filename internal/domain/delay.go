package domain

import (
	"regexp"
	"time"
)

// DelayEstimator estimates how long an execution took to reach us after the order that
// caused it was sent. Estimates are venue specific and approximate; adapters pick one.
type DelayEstimator interface {
	Estimate(e Execution, received time.Time) time.Duration
}

// FixedDelay reports the same delay for every execution.
type FixedDelay time.Duration

func (d FixedDelay) Estimate(Execution, time.Time) time.Duration {
	return time.Duration(d)
}

// ReceiveDelay is the gap between the venue timestamp and local receipt, floored at zero.
type ReceiveDelay struct{}

func (ReceiveDelay) Estimate(e Execution, received time.Time) time.Duration {
	if e.Time.IsZero() {
		return 0
	}
	if d := received.Sub(e.Time); d > 0 {
		return d
	}
	return 0
}

// acceptanceStamp matches ids like "JRF20180427-123407-869661".
var acceptanceStamp = regexp.MustCompile(`(\d{8}-\d{6})`)

// AcceptanceIDDelay parses the order timestamp embedded in the taker's acceptance id and
// measures the time to the execution. Ids without a stamp yield Fallback.
type AcceptanceIDDelay struct {
	Location *time.Location
	Fallback time.Duration
}

func (a AcceptanceIDDelay) Estimate(e Execution, _ time.Time) time.Duration {
	m := acceptanceStamp.FindString(e.TakerID)
	if m == "" || e.Time.IsZero() {
		return a.Fallback
	}
	loc := a.Location
	if loc == nil {
		loc = time.UTC
	}
	ordered, err := time.ParseInLocation("20060102-150405", m, loc)
	if err != nil {
		return a.Fallback
	}
	// The stamp has second resolution; the execution can appear earlier than the stamp.
	if d := e.Time.Sub(ordered); d > 0 {
		return d
	}
	return 0
}
