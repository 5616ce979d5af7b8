package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"oraclebot/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- History store ----------------------------------------------------------

func (s *Store) SaveBelief(ctx context.Context, item *models.Belief) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListRecentBeliefs(ctx context.Context, marketID string, limit int) ([]models.Belief, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	var items []models.Belief
	if err := s.db.WithContext(ctx).Model(&models.Belief{}).
		Where("market_id = ?", marketID).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListBeliefsByMarketIDs(ctx context.Context, marketIDs []string) ([]models.Belief, error) {
	if s == nil || s.db == nil || len(marketIDs) == 0 {
		return nil, nil
	}
	var items []models.Belief
	if err := s.db.WithContext(ctx).Model(&models.Belief{}).
		Where("market_id IN ?", marketIDs).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Trade decisions --------------------------------------------------------

func (s *Store) InsertTradeDecision(ctx context.Context, item *models.TradeDecision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTradeDecisions(ctx context.Context, limit int) ([]models.TradeDecision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	var items []models.TradeDecision
	if err := s.db.WithContext(ctx).Model(&models.TradeDecision{}).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Positions --------------------------------------------------------------

func (s *Store) OpenPositionIfAbsent(ctx context.Context, item *models.Position) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	item.MarketID = strings.TrimSpace(item.MarketID)
	if item.MarketID == "" {
		return false, errors.New("position market id is empty")
	}
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Position
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("market_id = ? AND status = ?", item.MarketID, models.PositionOpen).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		// The pre-check read locks nothing when the row is absent, so two
		// concurrent reserves can both reach the insert. The partial unique
		// index on (market_id) WHERE status='open' breaks the tie; the loser
		// reports inserted=false instead of an error.
		if err := tx.Create(item).Error; err != nil {
			if isDuplicateKey(err) {
				return nil
			}
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// isDuplicateKey recognizes a unique-constraint violation across the gorm
// error translation and the raw Postgres SQLSTATE.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func (s *Store) GetOpenPositionByMarket(ctx context.Context, marketID string) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).
		Where("market_id = ? AND status = ?", marketID, models.PositionOpen).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	if err := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("status = ?", models.PositionOpen).
		Order("opened_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ClosePosition(ctx context.Context, id uint64, exitPrice decimal.Decimal, realizedPnL decimal.Decimal, reason string, closedAt time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionOpen).
		Updates(map[string]any{
			"status":       models.PositionClosed,
			"closed_at":    &closedAt,
			"exit_price":   exitPrice,
			"realized_pnl": realizedPnL,
			"exit_reason":  strings.TrimSpace(reason),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (s *Store) DeletePosition(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.Position{}, id).Error
}

func (s *Store) UpdateEntryFill(ctx context.Context, id uint64, entryPrice decimal.Decimal, sizeUSD decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"entry_price": entryPrice,
			"size_usd":    sizeUSD,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (s *Store) CountOpenPositions(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("status = ?", models.PositionOpen).
		Count(&total).Error
	return total, err
}

func (s *Store) SumOpenExposure(ctx context.Context) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var out float64
	err := s.db.WithContext(ctx).
		Table("positions").
		Select("COALESCE(SUM(size_usd),0)").
		Where("status = ?", models.PositionOpen).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(out), nil
}

func (s *Store) ListClosedPositionsSince(ctx context.Context, since time.Time) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	query := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("status = ?", models.PositionClosed)
	if !since.IsZero() {
		query = query.Where("closed_at >= ?", since.UTC())
	}
	if err := query.Order("closed_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Trust store ------------------------------------------------------------

func (s *Store) GetCalibrationScore(ctx context.Context, category string) (*models.CalibrationScore, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, nil
	}
	var item models.CalibrationScore
	err := s.db.WithContext(ctx).
		Where("category = ?", category).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertCalibrationScore(ctx context.Context, item *models.CalibrationScore) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Category = strings.TrimSpace(item.Category)
	if item.Category == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sample_count",
			"avg_brier",
			"trust_score",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListCalibrationScores(ctx context.Context) ([]models.CalibrationScore, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CalibrationScore
	if err := s.db.WithContext(ctx).Model(&models.CalibrationScore{}).
		Order("category asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Settlements ------------------------------------------------------------

func (s *Store) UpsertMarketSettlement(ctx context.Context, item *models.MarketSettlement) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.MarketID = strings.TrimSpace(item.MarketID)
	if item.MarketID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category",
			"outcome",
			"final_price",
			"settled_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSettlementsSince(ctx context.Context, since time.Time, limit int) ([]models.MarketSettlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}
	query := s.db.WithContext(ctx).Model(&models.MarketSettlement{})
	if !since.IsZero() {
		query = query.Where("settled_at >= ?", since.UTC())
	}
	var items []models.MarketSettlement
	if err := query.Order("settled_at desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
