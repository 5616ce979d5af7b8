package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"oraclebot/internal/analysis"
	"oraclebot/internal/config"
	"oraclebot/internal/decision"
	"oraclebot/internal/models"
	"oraclebot/internal/position"
)

// MarketProvider feeds the scan and monitor cycles with venue snapshots.
type MarketProvider interface {
	FetchActive(ctx context.Context, limit int) ([]models.Market, error)
	FetchByConditionID(ctx context.Context, conditionID string) (*models.Market, error)
}

// EvidenceProvider gathers recent items for a market. Empty results are a
// valid low-information state.
type EvidenceProvider interface {
	FetchFor(ctx context.Context, market models.Market) ([]models.EvidenceItem, error)
}

// Analyzer runs the ensemble for one market.
type Analyzer interface {
	Analyze(ctx context.Context, market models.Market, evidence []models.EvidenceItem) ([]models.Belief, error)
}

// Combiner merges member beliefs into a consensus.
type Combiner interface {
	Combine(ctx context.Context, market models.Market, beliefs []models.Belief) (*analysis.Consensus, error)
}

// PosteriorBlender anchors a fresh estimate against stored history.
type PosteriorBlender interface {
	Blend(ctx context.Context, belief *models.Belief, evidenceCount int) error
}

// Checker penalizes ungrounded or unexplained beliefs.
type Checker interface {
	Validate(belief *models.Belief, evidence []models.EvidenceItem, previous *models.Belief)
}

// EntryGate is the risk-gate slice the scan cycle consults before doing any
// expensive work.
type EntryGate interface {
	CanEnter() (bool, string)
}

// Trader opens positions from approved decisions.
type Trader interface {
	Open(ctx context.Context, d *models.TradeDecision, market models.Market) (*position.OpenOutcome, error)
}

// BeliefStore persists analysis output and the decision audit trail.
type BeliefStore interface {
	SaveBelief(ctx context.Context, item *models.Belief) error
	ListRecentBeliefs(ctx context.Context, marketID string, limit int) ([]models.Belief, error)
	InsertTradeDecision(ctx context.Context, item *models.TradeDecision) error
}

// Watchlist receives the outcome tokens the scan touched, for streaming
// mark updates.
type Watchlist interface {
	Watch(tokenIDs []string)
}

// Pipeline wires the analysis chain to the trade path. One Pipeline instance
// backs both the scan cycle and re-analysis requests from the monitor.
type Pipeline struct {
	Repo      BeliefStore
	Markets   MarketProvider
	News      EvidenceProvider
	Ensemble  Analyzer
	Consensus Combiner
	Validator Checker
	Blender   PosteriorBlender
	Engine    decision.Engine
	Risk      EntryGate
	Trader    Trader
	Stream    Watchlist
	Cfg       config.TradingConfig
	Logger    *zap.Logger
}

const sourceScan = "scan"

// ScanOnce runs one full scan cycle: fetch markets, analyze, evaluate,
// open. It returns an error only when the cycle could not run at all;
// per-market faults are logged and skipped.
func (p *Pipeline) ScanOnce(ctx context.Context) error {
	if p == nil || p.Markets == nil || p.Engine == nil {
		return errors.New("pipeline is not configured")
	}
	if ok, reason := p.Risk.CanEnter(); !ok {
		if p.Logger != nil {
			p.Logger.Info("scan skipped", zap.String("reason", reason))
		}
		return nil
	}

	limit := p.Cfg.ScanMarketLimit
	if limit <= 0 {
		limit = 20
	}
	markets, err := p.Markets.FetchActive(ctx, limit)
	if err != nil {
		return fmt.Errorf("fetch active markets: %w", err)
	}

	var candidates []decision.Candidate
	marketByID := make(map[string]models.Market, len(markets))
	var tokens []string
	for _, market := range markets {
		if _, resolved := market.Resolved(); resolved {
			continue
		}
		marketByID[market.ConditionID] = market
		for _, o := range market.Outcomes {
			tokens = append(tokens, o.TokenID)
		}
		belief, err := p.analyzeMarket(ctx, market)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Warn("market analysis skipped",
					zap.String("market_id", market.ConditionID), zap.Error(err))
			}
			continue
		}
		candidates = append(candidates, decision.Candidate{Market: market, Belief: *belief})
	}
	if p.Stream != nil {
		p.Stream.Watch(tokens)
	}

	approved := p.evaluate(ctx, candidates)
	for _, d := range approved {
		market, ok := marketByID[d.MarketID]
		if !ok {
			continue
		}
		out, err := p.Trader.Open(ctx, d, market)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Error("position open failed",
					zap.String("market_id", d.MarketID), zap.Error(err))
			}
			continue
		}
		if out.Skipped && p.Logger != nil {
			p.Logger.Info("entry skipped",
				zap.String("market_id", d.MarketID),
				zap.String("reason", out.Reason))
		}
	}
	return nil
}

// evaluate runs the gates per candidate, persists every decision for the
// audit trail, and returns the approved ones ordered by expected value.
func (p *Pipeline) evaluate(ctx context.Context, candidates []decision.Candidate) []*models.TradeDecision {
	var all []*models.TradeDecision
	for _, c := range candidates {
		d, err := p.Engine.Evaluate(ctx, c)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Warn("evaluation failed",
					zap.String("market_id", c.Market.ConditionID), zap.Error(err))
			}
			continue
		}
		d.Source = sourceScan
		if err := p.Repo.InsertTradeDecision(ctx, d); err != nil && p.Logger != nil {
			p.Logger.Warn("decision audit write failed",
				zap.String("market_id", d.MarketID), zap.Error(err))
		}
		all = append(all, d)
	}
	return decision.RankByEV(all)
}

// Reanalyze produces one fresh blended belief for a market. The position
// monitor calls this when a held position moves adversely.
func (p *Pipeline) Reanalyze(ctx context.Context, market models.Market) (*models.Belief, error) {
	return p.analyzeMarket(ctx, market)
}

// analyzeMarket runs evidence -> ensemble -> consensus -> validation ->
// blend and persists the resulting belief.
func (p *Pipeline) analyzeMarket(ctx context.Context, market models.Market) (*models.Belief, error) {
	var evidence []models.EvidenceItem
	if p.News != nil {
		items, err := p.News.FetchFor(ctx, market)
		if err != nil {
			// No evidence is a valid state; analysis proceeds on base rates.
			if p.Logger != nil {
				p.Logger.Warn("evidence fetch failed",
					zap.String("market_id", market.ConditionID), zap.Error(err))
			}
		} else {
			evidence = items
		}
	}

	members, err := p.Ensemble.Analyze(ctx, market, evidence)
	if err != nil {
		return nil, err
	}
	consensus, err := p.Consensus.Combine(ctx, market, members)
	if err != nil {
		return nil, err
	}
	belief := consensus.Belief

	// The latest stored belief both feeds the change-explanation check and
	// anchors the blend. A failed history read aborts the whole decision:
	// pretending there is no history skews the posterior.
	previousList, err := p.Repo.ListRecentBeliefs(ctx, market.ConditionID, 1)
	if err != nil {
		return nil, fmt.Errorf("belief history read: %w", err)
	}
	var previous *models.Belief
	if len(previousList) > 0 {
		previous = &previousList[0]
	}
	if p.Validator != nil {
		p.Validator.Validate(&belief, evidence, previous)
	}
	if err := p.Blender.Blend(ctx, &belief, len(evidence)); err != nil {
		return nil, err
	}
	if err := p.Repo.SaveBelief(ctx, &belief); err != nil && p.Logger != nil {
		p.Logger.Warn("belief save failed",
			zap.String("market_id", market.ConditionID), zap.Error(err))
	}
	return &belief, nil
}
