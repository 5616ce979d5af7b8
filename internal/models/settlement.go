package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSettlement records a resolved market outcome, used both for closing
// positions at resolution and for calibration scoring.
type MarketSettlement struct {
	ID         uint64           `gorm:"primaryKey;autoIncrement"`
	MarketID   string           `gorm:"type:varchar(100);not null;uniqueIndex"`
	Category   string           `gorm:"type:varchar(30);index"`
	Outcome    string           `gorm:"type:varchar(10);not null"`
	FinalPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	SettledAt  time.Time        `gorm:"type:timestamptz;not null;index"`
	CreatedAt  time.Time        `gorm:"type:timestamptz;autoCreateTime"`
}

func (MarketSettlement) TableName() string {
	return "market_settlements"
}
