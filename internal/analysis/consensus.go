package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// TrustSource returns the calibration trust score for a category.
type TrustSource interface {
	TrustScore(ctx context.Context, category string) (float64, error)
}

// Consensus is the merged view of an ensemble run plus the disagreement
// signal the downstream confidence handling keys off.
type Consensus struct {
	Belief           models.Belief
	EnsembleSize     int
	Estimates        []float64
	Weights          []float64
	Disagreement     float64
	HighDisagreement bool
}

// ConsensusBuilder combines member beliefs into one trust-weighted belief.
type ConsensusBuilder struct {
	Trust  TrustSource
	Cfg    config.AnalysisConfig
	Logger *zap.Logger
}

func NewConsensusBuilder(trust TrustSource, cfg config.AnalysisConfig, logger *zap.Logger) *ConsensusBuilder {
	return &ConsensusBuilder{Trust: trust, Cfg: cfg, Logger: logger}
}

// Combine builds the consensus belief. A trust lookup failure for any member
// falls back to neutral weight 1.0 so one bad read cannot skew the blend.
func (b *ConsensusBuilder) Combine(ctx context.Context, market models.Market, beliefs []models.Belief) (*Consensus, error) {
	if b == nil {
		return nil, errors.New("consensus builder is nil")
	}
	if len(beliefs) == 0 {
		return nil, errors.New("no member beliefs to combine")
	}

	weights := make([]float64, len(beliefs))
	estimates := make([]float64, len(beliefs))
	for i, member := range beliefs {
		estimates[i] = member.Probability
		weights[i] = b.weightFor(ctx, member.Category)
	}

	var sumW, sumWP, sumWC float64
	for i, member := range beliefs {
		sumW += weights[i]
		sumWP += weights[i] * member.Probability
		sumWC += weights[i] * member.Confidence
	}
	mean := sumWP / sumW
	confidence := sumWC / sumW

	variance := 0.0
	maxDeviation := 0.0
	for i, p := range estimates {
		d := p - mean
		variance += weights[i] * d * d
		if math.Abs(d) > maxDeviation {
			maxDeviation = math.Abs(d)
		}
	}
	variance /= sumW

	// A single member cannot disagree with itself.
	high := false
	if len(beliefs) > 1 {
		high = variance > b.varianceThreshold() || maxDeviation > b.outlierGap()
	}
	if high && b.Logger != nil {
		b.Logger.Info("high ensemble disagreement",
			zap.String("market_id", market.ConditionID),
			zap.Float64("variance", variance),
			zap.Float64("max_deviation", maxDeviation))
	}

	merged := models.Belief{
		MarketID:    market.ConditionID,
		Category:    string(market.Category),
		Probability: mean,
		Confidence:  confidence,
		Reasoning:   mergeReasoning(beliefs),
	}
	merged.SetFactors(mergeUnique(beliefs, models.Belief.FactorList))
	merged.SetCitations(mergeUnique(beliefs, models.Belief.CitationList))

	return &Consensus{
		Belief:           merged,
		EnsembleSize:     len(beliefs),
		Estimates:        estimates,
		Weights:          weights,
		Disagreement:     variance,
		HighDisagreement: high,
	}, nil
}

func (b *ConsensusBuilder) weightFor(ctx context.Context, category string) float64 {
	if b.Trust == nil {
		return 1.0
	}
	trust, err := b.Trust.TrustScore(ctx, category)
	if err != nil {
		if b.Logger != nil {
			b.Logger.Warn("trust lookup failed, using neutral weight",
				zap.String("category", category), zap.Error(err))
		}
		return 1.0
	}
	if trust <= 0 {
		return 0.05
	}
	return trust
}

func (b *ConsensusBuilder) varianceThreshold() float64 {
	if b.Cfg.VarianceThreshold > 0 {
		return b.Cfg.VarianceThreshold
	}
	return 0.02
}

func (b *ConsensusBuilder) outlierGap() float64 {
	if b.Cfg.OutlierGap > 0 {
		return b.Cfg.OutlierGap
	}
	return 0.15
}

// mergeReasoning concatenates member reasoning in member order so the stored
// consensus keeps every line of argument.
func mergeReasoning(beliefs []models.Belief) string {
	parts := make([]string, 0, len(beliefs))
	for i, member := range beliefs {
		r := strings.TrimSpace(member.Reasoning)
		if r == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[analyst %d] %s", i+1, r))
	}
	return strings.Join(parts, "\n\n")
}

// mergeUnique deduplicates list fields across members, keeping first-seen
// order.
func mergeUnique(beliefs []models.Belief, list func(models.Belief) []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, member := range beliefs {
		for _, item := range list(member) {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
