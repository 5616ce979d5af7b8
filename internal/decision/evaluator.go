package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// Candidate pairs a market snapshot with the blended belief about it.
type Candidate struct {
	Market models.Market
	Belief models.Belief
}

// Engine evaluates candidates into trade decisions. The pipeline depends on
// this seam, not on the concrete evaluator.
type Engine interface {
	Evaluate(ctx context.Context, c Candidate) (*models.TradeDecision, error)
	EvaluateBatch(ctx context.Context, candidates []Candidate) ([]*models.TradeDecision, error)
}

// PositionBook is the slice of the repository the evaluator reads for dedup
// and bankroll checks.
type PositionBook interface {
	GetOpenPositionByMarket(ctx context.Context, marketID string) (*models.Position, error)
	CountOpenPositions(ctx context.Context) (int64, error)
	SumOpenExposure(ctx context.Context) (decimal.Decimal, error)
}

// Evaluator applies the entry gates in a fixed order and sizes approved
// trades. Every decision carries a reason so the audit trail explains
// rejections as well as entries.
type Evaluator struct {
	Book   PositionBook
	Cfg    config.TradingConfig
	Logger *zap.Logger
}

var _ Engine = (*Evaluator)(nil)

func NewEvaluator(book PositionBook, cfg config.TradingConfig, logger *zap.Logger) *Evaluator {
	return &Evaluator{Book: book, Cfg: cfg, Logger: logger}
}

// Evaluate runs the gates: category, dedup, confidence, edge band, bankroll.
// The first failing gate decides the rejection reason.
func (e *Evaluator) Evaluate(ctx context.Context, c Candidate) (*models.TradeDecision, error) {
	if e == nil {
		return nil, errors.New("evaluator is nil")
	}
	yes, ok := c.Market.YesOutcome()
	if !ok {
		return nil, fmt.Errorf("market %s has no outcomes", c.Market.ConditionID)
	}

	d := &models.TradeDecision{
		MarketID:    c.Market.ConditionID,
		MarketPrice: decimal.NewFromFloat(yes.Price),
		Probability: c.Belief.Probability,
		Confidence:  c.Belief.Confidence,
	}

	if !e.categoryEnabled(c.Market.Category) {
		return e.reject(d, "category disabled"), nil
	}

	existing, err := e.Book.GetOpenPositionByMarket(ctx, c.Market.ConditionID)
	if err != nil {
		return nil, fmt.Errorf("open position lookup: %w", err)
	}
	if existing != nil {
		return e.reject(d, "market already has an open position"), nil
	}

	// Round before comparing so float noise from upstream arithmetic cannot
	// fail a trade that is at the threshold for every displayed digit.
	confidence := math.Round(c.Belief.Confidence*100) / 100
	if confidence < e.minConfidence() {
		return e.reject(d, fmt.Sprintf("confidence %.2f below minimum %.2f", confidence, e.minConfidence())), nil
	}

	side, sidePrice, sideProb := chooseSide(c.Belief.Probability, yes, c.Market)
	edge := math.Abs(c.Belief.Probability - yes.Price)
	d.TokenID = side.TokenID
	d.Side = sideName(side, yes)
	d.Edge = edge
	d.ExpectedValue = sideProb - sidePrice

	if edge < e.minEdge() {
		return e.reject(d, fmt.Sprintf("edge %.3f below minimum %.3f", edge, e.minEdge())), nil
	}
	if edge > e.maxEdge() {
		// A huge divergence from the market is more likely a bad belief than
		// free money.
		return e.reject(d, fmt.Sprintf("edge %.3f above maximum %.3f", edge, e.maxEdge())), nil
	}

	openCount, err := e.Book.CountOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open position count: %w", err)
	}
	if e.Cfg.MaxConcurrentPositions > 0 && openCount >= int64(e.Cfg.MaxConcurrentPositions) {
		return e.reject(d, "max concurrent positions reached"), nil
	}

	exposure, err := e.Book.SumOpenExposure(ctx)
	if err != nil {
		return nil, fmt.Errorf("open exposure sum: %w", err)
	}
	size := e.positionSize(confidence, edge)
	headroom := e.Cfg.MaxTotalExposureUSD - exposure.InexactFloat64()
	if size > headroom {
		size = headroom
	}
	if size < e.minPosition() {
		return e.reject(d, "insufficient bankroll headroom"), nil
	}

	d.Approved = true
	d.Reason = "all entry gates passed"
	d.SizeUSD = decimal.NewFromFloat(size).Round(2)
	d.MarketPrice = decimal.NewFromFloat(sidePrice)
	return d, nil
}

// EvaluateBatch evaluates each candidate and returns the approved decisions
// ordered by expected value, best first. Ties keep input order.
func (e *Evaluator) EvaluateBatch(ctx context.Context, candidates []Candidate) ([]*models.TradeDecision, error) {
	var all []*models.TradeDecision
	for _, c := range candidates {
		d, err := e.Evaluate(ctx, c)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("candidate evaluation failed",
					zap.String("market_id", c.Market.ConditionID), zap.Error(err))
			}
			continue
		}
		all = append(all, d)
	}
	return RankByEV(all), nil
}

// RankByEV filters out rejections and orders the approved decisions best
// expected value first. Ties keep input order.
func RankByEV(decisions []*models.TradeDecision) []*models.TradeDecision {
	var out []*models.TradeDecision
	for _, d := range decisions {
		if d != nil && d.Approved {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpectedValue > out[j].ExpectedValue
	})
	return out
}

// chooseSide buys YES when the belief sits above the quote, otherwise NO at
// the complementary price.
func chooseSide(probability float64, yes models.Outcome, market models.Market) (models.Outcome, float64, float64) {
	if probability > yes.Price {
		return yes, yes.Price, probability
	}
	if no, ok := market.NoOutcome(); ok {
		return no, 1 - yes.Price, 1 - probability
	}
	return yes, yes.Price, probability
}

func sideName(chosen, yes models.Outcome) string {
	if chosen.TokenID == yes.TokenID {
		return models.SideYes
	}
	return models.SideNo
}

func (e *Evaluator) reject(d *models.TradeDecision, reason string) *models.TradeDecision {
	d.Approved = false
	d.Reason = reason
	if e.Logger != nil {
		e.Logger.Debug("trade rejected",
			zap.String("market_id", d.MarketID),
			zap.String("reason", reason))
	}
	return d
}

func (e *Evaluator) categoryEnabled(category models.Category) bool {
	if len(e.Cfg.EnabledCategories) == 0 {
		return true
	}
	for _, c := range e.Cfg.EnabledCategories {
		if models.ParseCategory(c) == category {
			return true
		}
	}
	return false
}

// positionSize scales the configured maximum stake by confidence and by how
// much of the allowed edge band the opportunity uses.
func (e *Evaluator) positionSize(confidence, edge float64) float64 {
	frac := edge / e.maxEdge()
	if frac > 1 {
		frac = 1
	}
	size := e.maxPosition() * confidence * frac
	if size > e.maxPosition() {
		size = e.maxPosition()
	}
	return size
}

func (e *Evaluator) minEdge() float64 {
	if e.Cfg.MinEdge > 0 {
		return e.Cfg.MinEdge
	}
	return 0.05
}

func (e *Evaluator) maxEdge() float64 {
	if e.Cfg.MaxEdge > 0 {
		return e.Cfg.MaxEdge
	}
	return 0.30
}

func (e *Evaluator) minConfidence() float64 {
	if e.Cfg.MinConfidence > 0 {
		return e.Cfg.MinConfidence
	}
	return 0.60
}

func (e *Evaluator) maxPosition() float64 {
	if e.Cfg.MaxPositionUSD > 0 {
		return e.Cfg.MaxPositionUSD
	}
	return 100
}

func (e *Evaluator) minPosition() float64 {
	if e.Cfg.MinPositionUSD > 0 {
		return e.Cfg.MinPositionUSD
	}
	return 5
}
