package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"oraclebot/internal/models"
)

// Repository unifies the history store (beliefs), position store, trust store
// (calibration), and settlement log behind one interface.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// History store.
	SaveBelief(ctx context.Context, item *models.Belief) error
	ListRecentBeliefs(ctx context.Context, marketID string, limit int) ([]models.Belief, error)
	ListBeliefsByMarketIDs(ctx context.Context, marketIDs []string) ([]models.Belief, error)

	// Trade decisions (audit trail).
	InsertTradeDecision(ctx context.Context, item *models.TradeDecision) error
	ListTradeDecisions(ctx context.Context, limit int) ([]models.TradeDecision, error)

	// Positions. OpenPositionIfAbsent reserves the market atomically: it
	// inserts the position only if no open position exists for the market,
	// inside one transaction, and reports whether the insert happened.
	OpenPositionIfAbsent(ctx context.Context, item *models.Position) (bool, error)
	GetOpenPositionByMarket(ctx context.Context, marketID string) (*models.Position, error)
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	ClosePosition(ctx context.Context, id uint64, exitPrice decimal.Decimal, realizedPnL decimal.Decimal, reason string, closedAt time.Time) error
	// DeletePosition removes a reservation whose entry order never filled.
	DeletePosition(ctx context.Context, id uint64) error
	// UpdateEntryFill records the actual fill price and size on a reserved
	// position once the entry order completes.
	UpdateEntryFill(ctx context.Context, id uint64, entryPrice decimal.Decimal, sizeUSD decimal.Decimal) error
	CountOpenPositions(ctx context.Context) (int64, error)
	SumOpenExposure(ctx context.Context) (decimal.Decimal, error)
	ListClosedPositionsSince(ctx context.Context, since time.Time) ([]models.Position, error)

	// Trust store.
	GetCalibrationScore(ctx context.Context, category string) (*models.CalibrationScore, error)
	UpsertCalibrationScore(ctx context.Context, item *models.CalibrationScore) error
	ListCalibrationScores(ctx context.Context) ([]models.CalibrationScore, error)

	// Settlements.
	UpsertMarketSettlement(ctx context.Context, item *models.MarketSettlement) error
	ListSettlementsSince(ctx context.Context, since time.Time, limit int) ([]models.MarketSettlement, error)
}
