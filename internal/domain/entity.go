package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedExecution is the persisted form of an Execution.
type CachedExecution struct {
	ID             int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Day            string          `gorm:"index;size:10" json:"day"` // YYYY-MM-DD (UTC)
	Direction      Direction       `json:"direction"`
	Price          decimal.Decimal `gorm:"type:text" json:"price"`
	Size           decimal.Decimal `gorm:"type:text" json:"size"`
	CumulativeSize decimal.Decimal `gorm:"type:text" json:"cumulative_size"`
	ExecutedAt     time.Time       `gorm:"index" json:"executed_at"`
	MakerID        string          `json:"maker_id"`
	TakerID        string          `json:"taker_id"`
	Consecutive    ConsecutiveType `json:"consecutive"`
	DelayMS        int64           `json:"delay_ms"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DayKey formats the cache partition of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NewCachedExecution converts an execution for storage.
func NewCachedExecution(e Execution) CachedExecution {
	return CachedExecution{
		ID:             e.ID,
		Day:            DayKey(e.Time),
		Direction:      e.Direction,
		Price:          e.Price,
		Size:           e.Size,
		CumulativeSize: e.CumulativeSize,
		ExecutedAt:     e.Time.UTC(),
		MakerID:        e.MakerID,
		TakerID:        e.TakerID,
		Consecutive:    e.Consecutive,
		DelayMS:        e.Delay.Milliseconds(),
	}
}

// Execution converts the row back.
func (c CachedExecution) Execution() Execution {
	return Execution{
		ID:             c.ID,
		Direction:      c.Direction,
		Price:          c.Price,
		Size:           c.Size,
		CumulativeSize: c.CumulativeSize,
		Time:           c.ExecutedAt,
		MakerID:        c.MakerID,
		TakerID:        c.TakerID,
		Consecutive:    c.Consecutive,
		Delay:          time.Duration(c.DelayMS) * time.Millisecond,
	}
}
