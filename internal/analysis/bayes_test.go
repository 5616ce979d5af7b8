package analysis

import (
	"context"
	"errors"
	"math"
	"testing"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

type stubHistory struct {
	beliefs []models.Belief
	err     error
}

func (s *stubHistory) ListRecentBeliefs(_ context.Context, _ string, limit int) ([]models.Belief, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.beliefs) > limit {
		return s.beliefs[:limit], nil
	}
	return s.beliefs, nil
}

func historyOf(probs ...float64) []models.Belief {
	out := make([]models.Belief, 0, len(probs))
	for _, p := range probs {
		out = append(out, models.Belief{MarketID: "mkt-1", Probability: p})
	}
	return out
}

func TestBlendNoHistoryKeepsRawEstimate(t *testing.T) {
	b := NewBlender(&stubHistory{}, config.AnalysisConfig{}, nil)
	belief := models.Belief{MarketID: "mkt-1", Probability: 0.62}
	if err := b.Blend(context.Background(), &belief, 4); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if belief.Probability != 0.62 {
		t.Fatalf("probability = %v, want raw 0.62", belief.Probability)
	}
	if belief.Uncertainty == nil || *belief.Uncertainty != 0.5 {
		t.Fatalf("uncertainty = %v, want 0.5 with no history", belief.Uncertainty)
	}
	if belief.RawProbability == nil || *belief.RawProbability != 0.62 {
		t.Fatalf("raw probability not recorded: %v", belief.RawProbability)
	}
}

func TestBlendAnchorsTowardPrior(t *testing.T) {
	// Newest-first history: prior = 0.6*0.5 + 0.4*0.4 = 0.46.
	b := NewBlender(&stubHistory{beliefs: historyOf(0.5, 0.4)}, config.AnalysisConfig{}, nil)
	belief := models.Belief{MarketID: "mkt-1", Probability: 0.9}
	if err := b.Blend(context.Background(), &belief, 0); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	// priorWeight 2, evidenceWeight 0.5: posterior = (0.46*2 + 0.9*0.5) / 2.5.
	want := (0.46*2 + 0.9*0.5) / 2.5
	if math.Abs(belief.Probability-want) > 1e-9 {
		t.Fatalf("posterior = %v, want %v", belief.Probability, want)
	}
	if belief.Probability >= 0.9 || belief.Probability <= 0.46 {
		t.Fatalf("posterior %v must sit between prior and raw", belief.Probability)
	}
}

func TestBlendMoreEvidenceTrustsFreshEstimate(t *testing.T) {
	history := historyOf(0.4, 0.4, 0.4)
	little := models.Belief{MarketID: "mkt-1", Probability: 0.8}
	lots := models.Belief{MarketID: "mkt-1", Probability: 0.8}

	b := NewBlender(&stubHistory{beliefs: history}, config.AnalysisConfig{}, nil)
	if err := b.Blend(context.Background(), &little, 0); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if err := b.Blend(context.Background(), &lots, 10); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if lots.Probability <= little.Probability {
		t.Fatalf("more evidence should pull posterior toward fresh estimate: %v vs %v", lots.Probability, little.Probability)
	}
	if *lots.Uncertainty >= *little.Uncertainty {
		t.Fatalf("more evidence should lower uncertainty: %v vs %v", *lots.Uncertainty, *little.Uncertainty)
	}
}

func TestBlendPriorWeightIsCapped(t *testing.T) {
	deep := NewBlender(&stubHistory{beliefs: historyOf(0.4, 0.4, 0.4)}, config.AnalysisConfig{HistoryLimit: 10}, nil)
	belief := models.Belief{MarketID: "mkt-1", Probability: 0.8}
	if err := deep.Blend(context.Background(), &belief, 0); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	// priorWeight capped at 3: posterior = (0.4*3 + 0.8*0.5) / 3.5.
	want := (0.4*3 + 0.8*0.5) / 3.5
	if math.Abs(belief.Probability-want) > 1e-9 {
		t.Fatalf("posterior = %v, want %v", belief.Probability, want)
	}
}

func TestBlendClampsPosterior(t *testing.T) {
	b := NewBlender(&stubHistory{beliefs: historyOf(0.001)}, config.AnalysisConfig{}, nil)
	belief := models.Belief{MarketID: "mkt-1", Probability: 0.001}
	if err := b.Blend(context.Background(), &belief, 0); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if belief.Probability != 0.01 {
		t.Fatalf("posterior = %v, want clamped 0.01", belief.Probability)
	}
}

func TestBlendHistoryErrorAborts(t *testing.T) {
	b := NewBlender(&stubHistory{err: errors.New("db down")}, config.AnalysisConfig{}, nil)
	belief := models.Belief{MarketID: "mkt-1", Probability: 0.7}
	if err := b.Blend(context.Background(), &belief, 0); err == nil {
		t.Fatalf("history failure must abort the blend")
	}
	if belief.Probability != 0.7 {
		t.Fatalf("probability must be untouched on error, got %v", belief.Probability)
	}
}
