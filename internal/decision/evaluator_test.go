package decision

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

type stubBook struct {
	openByMarket map[string]*models.Position
	openCount    int64
	exposure     float64
}

func (s *stubBook) GetOpenPositionByMarket(_ context.Context, marketID string) (*models.Position, error) {
	return s.openByMarket[marketID], nil
}

func (s *stubBook) CountOpenPositions(_ context.Context) (int64, error) {
	return s.openCount, nil
}

func (s *stubBook) SumOpenExposure(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromFloat(s.exposure), nil
}

func tradingConfig() config.TradingConfig {
	return config.TradingConfig{
		MinEdge:                0.05,
		MaxEdge:                0.30,
		MinConfidence:          0.60,
		MaxPositionUSD:         100,
		MinPositionUSD:         5,
		MaxTotalExposureUSD:    500,
		MaxConcurrentPositions: 10,
		EnabledCategories:      []string{"politics", "sports"},
	}
}

func candidate(yesPrice, probability, confidence float64) Candidate {
	return Candidate{
		Market: models.Market{
			ConditionID: "mkt-1",
			Title:       "Will the incumbent win?",
			Category:    models.CategoryPolitics,
			Outcomes: []models.Outcome{
				{TokenID: "tok-yes", Name: "Yes", Price: yesPrice},
				{TokenID: "tok-no", Name: "No", Price: 1 - yesPrice},
			},
		},
		Belief: models.Belief{MarketID: "mkt-1", Probability: probability, Confidence: confidence},
	}
}

func TestEvaluateApprovesYesSide(t *testing.T) {
	e := NewEvaluator(&stubBook{}, tradingConfig(), nil)
	d, err := e.Evaluate(context.Background(), candidate(0.5, 0.7, 0.8))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Approved {
		t.Fatalf("rejected: %s", d.Reason)
	}
	if d.Side != models.SideYes || d.TokenID != "tok-yes" {
		t.Fatalf("side = %s/%s, want YES/tok-yes", d.Side, d.TokenID)
	}
	if math.Abs(d.ExpectedValue-0.2) > 1e-9 {
		t.Fatalf("EV = %v, want 0.2", d.ExpectedValue)
	}
	if math.Abs(d.Edge-0.2) > 1e-9 {
		t.Fatalf("edge = %v, want 0.2", d.Edge)
	}
}

func TestEvaluateTakesNoSideWhenBeliefIsBelowPrice(t *testing.T) {
	e := NewEvaluator(&stubBook{}, tradingConfig(), nil)
	d, err := e.Evaluate(context.Background(), candidate(0.6, 0.4, 0.8))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Approved {
		t.Fatalf("rejected: %s", d.Reason)
	}
	if d.Side != models.SideNo || d.TokenID != "tok-no" {
		t.Fatalf("side = %s/%s, want NO/tok-no", d.Side, d.TokenID)
	}
	// NO entry price is the complement of the YES quote.
	if got := d.MarketPrice.InexactFloat64(); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("entry price = %v, want 0.4", got)
	}
}

func TestEvaluateGateOrder(t *testing.T) {
	cases := []struct {
		name   string
		book   *stubBook
		cand   Candidate
		reason string
	}{
		{
			name: "disabled category first",
			book: &stubBook{},
			cand: func() Candidate {
				c := candidate(0.5, 0.7, 0.1)
				c.Market.Category = models.CategoryCrypto
				return c
			}(),
			reason: "category disabled",
		},
		{
			name: "dedup before confidence",
			book: &stubBook{openByMarket: map[string]*models.Position{
				"mkt-1": {MarketID: "mkt-1", Status: models.PositionOpen},
			}},
			cand:   candidate(0.5, 0.7, 0.1),
			reason: "open position",
		},
		{
			name:   "confidence before edge",
			book:   &stubBook{},
			cand:   candidate(0.5, 0.51, 0.3),
			reason: "confidence",
		},
		{
			name:   "edge minimum",
			book:   &stubBook{},
			cand:   candidate(0.5, 0.52, 0.8),
			reason: "below minimum",
		},
		{
			name:   "edge divergence cap",
			book:   &stubBook{},
			cand:   candidate(0.5, 0.95, 0.8),
			reason: "above maximum",
		},
		{
			name:   "concurrent position cap",
			book:   &stubBook{openCount: 10},
			cand:   candidate(0.5, 0.7, 0.8),
			reason: "max concurrent",
		},
		{
			name:   "exposure headroom",
			book:   &stubBook{exposure: 499},
			cand:   candidate(0.5, 0.7, 0.8),
			reason: "bankroll",
		},
	}
	for _, tc := range cases {
		e := NewEvaluator(tc.book, tradingConfig(), nil)
		d, err := e.Evaluate(context.Background(), tc.cand)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if d.Approved {
			t.Fatalf("%s: approved, want rejection", tc.name)
		}
		if !strings.Contains(d.Reason, tc.reason) {
			t.Fatalf("%s: reason %q does not mention %q", tc.name, d.Reason, tc.reason)
		}
	}
}

func TestEvaluateRoundsConfidenceBeforeComparing(t *testing.T) {
	e := NewEvaluator(&stubBook{}, tradingConfig(), nil)
	d, err := e.Evaluate(context.Background(), candidate(0.5, 0.7, 0.5999999999999999))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Approved {
		t.Fatalf("0.5999999999999999 should round to the 0.60 minimum: %s", d.Reason)
	}
}

func TestEvaluateSizeScalesWithConvictionAndEdge(t *testing.T) {
	e := NewEvaluator(&stubBook{}, tradingConfig(), nil)
	strong, err := e.Evaluate(context.Background(), candidate(0.5, 0.75, 0.9))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	weak, err := e.Evaluate(context.Background(), candidate(0.5, 0.57, 0.65))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !strong.Approved || !weak.Approved {
		t.Fatalf("both should pass: %s / %s", strong.Reason, weak.Reason)
	}
	if strong.SizeUSD.LessThanOrEqual(weak.SizeUSD) {
		t.Fatalf("stronger signal should size larger: %s vs %s", strong.SizeUSD, weak.SizeUSD)
	}
	if strong.SizeUSD.InexactFloat64() > 100 {
		t.Fatalf("size %s exceeds max stake", strong.SizeUSD)
	}
}

func TestEvaluateBatchSortsByExpectedValue(t *testing.T) {
	e := NewEvaluator(&stubBook{}, tradingConfig(), nil)
	low := candidate(0.5, 0.58, 0.8)
	low.Market.ConditionID = "mkt-low"
	low.Belief.MarketID = "mkt-low"
	high := candidate(0.5, 0.75, 0.8)
	high.Market.ConditionID = "mkt-high"
	high.Belief.MarketID = "mkt-high"
	rejected := candidate(0.5, 0.52, 0.8)
	rejected.Market.ConditionID = "mkt-thin"

	got, err := e.EvaluateBatch(context.Background(), []Candidate{low, rejected, high})
	if err != nil {
		t.Fatalf("EvaluateBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d approvals, want 2", len(got))
	}
	if got[0].MarketID != "mkt-high" || got[1].MarketID != "mkt-low" {
		t.Fatalf("order: %s, %s", got[0].MarketID, got[1].MarketID)
	}
}

func TestRankByEVKeepsInputOrderOnTies(t *testing.T) {
	a := &models.TradeDecision{MarketID: "mkt-a", Approved: true, ExpectedValue: 0.1}
	b := &models.TradeDecision{MarketID: "mkt-b", Approved: true, ExpectedValue: 0.1}
	rejected := &models.TradeDecision{MarketID: "mkt-c", Approved: false, ExpectedValue: 0.9}
	got := RankByEV([]*models.TradeDecision{a, b, rejected})
	if len(got) != 2 || got[0].MarketID != "mkt-a" || got[1].MarketID != "mkt-b" {
		t.Fatalf("rank = %v, want the tie kept in input order and the rejection dropped", got)
	}
}
