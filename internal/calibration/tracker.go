package calibration

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// Store is the slice of the repository the tracker needs.
type Store interface {
	GetCalibrationScore(ctx context.Context, category string) (*models.CalibrationScore, error)
	UpsertCalibrationScore(ctx context.Context, item *models.CalibrationScore) error
	ListCalibrationScores(ctx context.Context) ([]models.CalibrationScore, error)
	UpsertMarketSettlement(ctx context.Context, item *models.MarketSettlement) error
	ListSettlementsSince(ctx context.Context, since time.Time, limit int) ([]models.MarketSettlement, error)
	ListBeliefsByMarketIDs(ctx context.Context, marketIDs []string) ([]models.Belief, error)
}

// NeutralTrust is the score used for categories with no track record yet.
const NeutralTrust = 0.5

// Tracker turns resolved markets into per-category Brier scores and the
// trust weights the consensus builder reads back.
type Tracker struct {
	Repo   Store
	Cfg    config.CalibrationConfig
	Logger *zap.Logger
}

func NewTracker(repo Store, cfg config.CalibrationConfig, logger *zap.Logger) *Tracker {
	return &Tracker{Repo: repo, Cfg: cfg, Logger: logger}
}

// TrustScore returns the stored trust for a category, or the neutral default
// when the category has no samples yet.
func (t *Tracker) TrustScore(ctx context.Context, category string) (float64, error) {
	if t == nil || t.Repo == nil {
		return NeutralTrust, nil
	}
	score, err := t.Repo.GetCalibrationScore(ctx, category)
	if err != nil {
		return 0, err
	}
	if score == nil || score.SampleCount == 0 {
		return NeutralTrust, nil
	}
	return score.TrustScore, nil
}

// RecordSettlement logs a resolved market. Upsert keyed on market id keeps
// repeated monitor passes idempotent.
func (t *Tracker) RecordSettlement(ctx context.Context, market models.Market, finalYes float64, settledAt time.Time) error {
	if t == nil || t.Repo == nil {
		return errors.New("calibration tracker is not configured")
	}
	outcome := models.SideNo
	if finalYes >= 0.5 {
		outcome = models.SideYes
	}
	price := decimal.NewFromFloat(finalYes)
	return t.Repo.UpsertMarketSettlement(ctx, &models.MarketSettlement{
		MarketID:   market.ConditionID,
		Category:   string(market.Category),
		Outcome:    outcome,
		FinalPrice: &price,
		SettledAt:  settledAt,
	})
}

// Recompute rebuilds every category score from settlements inside the
// trailing window. Each settled market is scored against the latest stored
// belief for that market; markets the system never analyzed are skipped.
func (t *Tracker) Recompute(ctx context.Context) error {
	if t == nil || t.Repo == nil {
		return errors.New("calibration tracker is not configured")
	}
	windowDays := t.Cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 90
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	settlements, err := t.Repo.ListSettlementsSince(ctx, since, 0)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		return nil
	}

	marketIDs := make([]string, 0, len(settlements))
	for _, s := range settlements {
		marketIDs = append(marketIDs, s.MarketID)
	}
	beliefs, err := t.Repo.ListBeliefsByMarketIDs(ctx, marketIDs)
	if err != nil {
		return err
	}
	latest := latestByMarket(beliefs)

	type bucket struct {
		sum   float64
		count int
	}
	buckets := map[string]*bucket{}
	for _, s := range settlements {
		belief, ok := latest[s.MarketID]
		if !ok {
			continue
		}
		outcome := 0.0
		if s.Outcome == models.SideYes {
			outcome = 1.0
		}
		d := belief.Probability - outcome
		b := buckets[s.Category]
		if b == nil {
			b = &bucket{}
			buckets[s.Category] = b
		}
		b.sum += d * d
		b.count++
	}

	for category, b := range buckets {
		avg := b.sum / float64(b.count)
		trust := 1.0 - avg
		if trust < 0 {
			trust = 0
		}
		if trust > 1 {
			trust = 1
		}
		err := t.Repo.UpsertCalibrationScore(ctx, &models.CalibrationScore{
			Category:    category,
			SampleCount: b.count,
			AvgBrier:    avg,
			TrustScore:  trust,
		})
		if err != nil {
			return err
		}
		if t.Logger != nil {
			t.Logger.Info("calibration updated",
				zap.String("category", category),
				zap.Int("samples", b.count),
				zap.Float64("avg_brier", avg),
				zap.Float64("trust", trust))
		}
	}
	return nil
}

// latestByMarket keeps the newest belief per market.
func latestByMarket(beliefs []models.Belief) map[string]models.Belief {
	out := map[string]models.Belief{}
	for _, b := range beliefs {
		current, ok := out[b.MarketID]
		if !ok || b.CreatedAt.After(current.CreatedAt) {
			out[b.MarketID] = b
		}
	}
	return out
}
