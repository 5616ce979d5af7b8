package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideYes = "YES"
	SideNo  = "NO"
)

// TradeDecision is the evaluator's verdict for one market. Rejections are
// stored too; Reason is always populated.
type TradeDecision struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Approved bool   `gorm:"not null;index"`

	MarketID string `gorm:"type:varchar(100);not null;index"`
	TokenID  string `gorm:"type:varchar(100)"`
	Side     string `gorm:"type:varchar(10)"`

	MarketPrice   decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	Probability   float64         `gorm:"not null"`
	Confidence    float64         `gorm:"not null"`
	Edge          float64         `gorm:"not null"`
	ExpectedValue float64         `gorm:"not null"`
	SizeUSD       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Reason string `gorm:"type:text;not null"`
	Source string `gorm:"type:varchar(50);index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (TradeDecision) TableName() string {
	return "trade_decisions"
}
