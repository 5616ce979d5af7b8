package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// BeliefHistory is the slice of the repository the blender needs: prior
// beliefs for a market, newest first.
type BeliefHistory interface {
	ListRecentBeliefs(ctx context.Context, marketID string, limit int) ([]models.Belief, error)
}

// Blender anchors a fresh consensus estimate against the stored belief
// history so one noisy run cannot whipsaw the position book.
type Blender struct {
	History BeliefHistory
	Cfg     config.AnalysisConfig
	Logger  *zap.Logger
}

func NewBlender(history BeliefHistory, cfg config.AnalysisConfig, logger *zap.Logger) *Blender {
	return &Blender{History: history, Cfg: cfg, Logger: logger}
}

// Recency weights for the prior. One past belief takes full weight, two
// split 60/40, three or more split 60/30/10 over the newest three.
var priorWeights = [][]float64{
	{1.0},
	{0.6, 0.4},
	{0.6, 0.3, 0.1},
}

// Blend replaces belief.Probability with the posterior and records the raw
// estimate and an uncertainty score. A history read failure is returned as
// an error: trading on an unblended estimate is worse than skipping.
func (b *Blender) Blend(ctx context.Context, belief *models.Belief, evidenceCount int) error {
	if b == nil || belief == nil {
		return fmt.Errorf("blender or belief is nil")
	}
	limit := b.Cfg.HistoryLimit
	if limit <= 0 {
		limit = 3
	}
	var history []models.Belief
	if b.History != nil {
		var err error
		history, err = b.History.ListRecentBeliefs(ctx, belief.MarketID, limit)
		if err != nil {
			return fmt.Errorf("belief history read: %w", err)
		}
	}

	raw := belief.Probability
	belief.RawProbability = &raw

	if len(history) == 0 {
		// First look at this market: nothing to anchor against.
		u := 0.5
		belief.Uncertainty = &u
		return nil
	}

	prior := priorEstimate(history)
	priorWeight := float64(len(history))
	if units := b.maxPriorUnits(); priorWeight > units {
		priorWeight = units
	}
	evidenceWeight := 0.5 + 0.1*float64(evidenceCount)
	if evidenceWeight > 1.0 {
		evidenceWeight = 1.0
	}

	posterior := (prior*priorWeight + raw*evidenceWeight) / (priorWeight + evidenceWeight)
	belief.Probability = clamp(posterior, 0.01, 0.99)

	uncertainty := clamp(1.0-evidenceWeight/(priorWeight+evidenceWeight), 0.05, 0.95)
	belief.Uncertainty = &uncertainty

	if b.Logger != nil {
		b.Logger.Debug("blended belief with history",
			zap.String("market_id", belief.MarketID),
			zap.Float64("raw", raw),
			zap.Float64("prior", prior),
			zap.Float64("posterior", belief.Probability),
			zap.Int("history", len(history)))
	}
	return nil
}

func priorEstimate(history []models.Belief) float64 {
	weights := priorWeights[len(priorWeights)-1]
	if len(history) < len(priorWeights) {
		weights = priorWeights[len(history)-1]
	}
	var sum, sumW float64
	for i, w := range weights {
		if i >= len(history) {
			break
		}
		sum += w * history[i].Probability
		sumW += w
	}
	return sum / sumW
}

func (b *Blender) maxPriorUnits() float64 {
	if b.Cfg.MaxPriorUnits > 0 {
		return b.Cfg.MaxPriorUnits
	}
	return 3.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
