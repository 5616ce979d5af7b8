package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Position lifecycle: open -> closed. Closed rows are terminal and never
// reopened. At most one open position may exist per market.
type Position struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement"`
	MarketID       string     `gorm:"type:varchar(100);not null;index"`
	MarketTitle    string     `gorm:"type:text"`
	ResolutionTime *time.Time `gorm:"type:timestamptz"`

	TokenID string `gorm:"type:varchar(100);not null"`
	Side    string `gorm:"type:varchar(10);not null"`

	EntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	SizeUSD    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Probability   float64 `gorm:"not null"`
	Confidence    float64 `gorm:"not null"`
	ExpectedValue float64 `gorm:"not null"`

	Status string `gorm:"type:varchar(20);not null;default:'open';index"`
	Source string `gorm:"type:varchar(50);index"`

	OpenedAt    time.Time        `gorm:"type:timestamptz;not null"`
	ClosedAt    *time.Time       `gorm:"type:timestamptz"`
	ExitPrice   *decimal.Decimal `gorm:"type:numeric(20,10)"`
	RealizedPnL decimal.Decimal  `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`
	ExitReason  string           `gorm:"type:varchar(50)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
