package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/executor"
	"oraclebot/internal/models"
)

// Exit reasons recorded on closed positions.
const (
	ExitResolution     = "resolution"
	ExitStopLoss       = "stop_loss"
	ExitEVReversal     = "ev_reversal"
	ExitConvictionFlip = "conviction_flip"
	ExitLowConfidence  = "low_confidence"
	ExitManual         = "manual"
)

// Book is the slice of the repository the manager needs.
type Book interface {
	OpenPositionIfAbsent(ctx context.Context, item *models.Position) (bool, error)
	DeletePosition(ctx context.Context, id uint64) error
	UpdateEntryFill(ctx context.Context, id uint64, entryPrice decimal.Decimal, sizeUSD decimal.Decimal) error
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	ClosePosition(ctx context.Context, id uint64, exitPrice decimal.Decimal, realizedPnL decimal.Decimal, reason string, closedAt time.Time) error
}

// MarketSource refreshes a market snapshot by condition id.
type MarketSource interface {
	FetchByConditionID(ctx context.Context, conditionID string) (*models.Market, error)
}

// Reanalyzer produces a fresh blended belief for a market. The monitor only
// calls it when a position has moved against us past the trigger.
type Reanalyzer interface {
	Reanalyze(ctx context.Context, market models.Market) (*models.Belief, error)
}

// Marks serves streamed quotes by outcome token. Optional; the monitor
// falls back to a market refresh when no fresh mark exists.
type Marks interface {
	Price(tokenID string) (float64, bool)
}

// RiskControl is the slice of the risk gate the manager consults.
type RiskControl interface {
	CanEnter() (bool, string)
	SlippageOK(expectedPrice, fillPrice float64) bool
	RecordTrade(pnl decimal.Decimal, source, reason string)
}

// SettlementSink records resolved markets for calibration.
type SettlementSink interface {
	RecordSettlement(ctx context.Context, market models.Market, finalYes float64, settledAt time.Time) error
}

// Manager owns the position lifecycle: reserve, execute, monitor, exit.
type Manager struct {
	Book        Book
	Markets     MarketSource
	Marks       Marks
	Reanalyzer  Reanalyzer
	Risk        RiskControl
	Exec        executor.OrderExecutor
	Settlements SettlementSink
	Cfg         config.ExitConfig
	Logger      *zap.Logger
}

// OpenOutcome reports what happened to an entry attempt. Skipped entries are
// normal operation, not errors.
type OpenOutcome struct {
	Position *models.Position
	Skipped  bool
	Reason   string
}

// Open turns an approved decision into a live position. The market is
// reserved atomically before the order goes out; a failed or rejected order
// releases the reservation.
func (m *Manager) Open(ctx context.Context, d *models.TradeDecision, market models.Market) (*OpenOutcome, error) {
	if m == nil || m.Book == nil || m.Exec == nil {
		return nil, errors.New("position manager is not configured")
	}
	if d == nil || !d.Approved {
		return nil, errors.New("decision is not approved")
	}

	if ok, reason := m.Risk.CanEnter(); !ok {
		return &OpenOutcome{Skipped: true, Reason: reason}, nil
	}

	quote, ok := currentSidePrice(market, d.Side)
	if !ok {
		return &OpenOutcome{Skipped: true, Reason: "market quote unavailable"}, nil
	}
	if !m.Risk.SlippageOK(d.MarketPrice.InexactFloat64(), quote) {
		return &OpenOutcome{Skipped: true, Reason: fmt.Sprintf("price moved from %s to %.4f beyond slippage tolerance", d.MarketPrice, quote)}, nil
	}

	now := time.Now().UTC()
	pos := &models.Position{
		MarketID:      market.ConditionID,
		MarketTitle:   market.Title,
		TokenID:       d.TokenID,
		Side:          d.Side,
		EntryPrice:    d.MarketPrice,
		SizeUSD:       d.SizeUSD,
		Probability:   d.Probability,
		Confidence:    d.Confidence,
		ExpectedValue: d.ExpectedValue,
		Status:        models.PositionOpen,
		Source:        d.Source,
		OpenedAt:      now,
	}
	if !market.ResolutionTime.IsZero() {
		rt := market.ResolutionTime
		pos.ResolutionTime = &rt
	}

	inserted, err := m.Book.OpenPositionIfAbsent(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("position reserve: %w", err)
	}
	if !inserted {
		return &OpenOutcome{Skipped: true, Reason: "market already has an open position"}, nil
	}

	fill, err := m.Exec.Open(ctx, executor.Order{
		MarketID: market.ConditionID,
		TokenID:  d.TokenID,
		Side:     d.Side,
		Price:    decimal.NewFromFloat(quote),
		SizeUSD:  d.SizeUSD,
	})
	if err != nil {
		if delErr := m.Book.DeletePosition(ctx, pos.ID); delErr != nil && m.Logger != nil {
			m.Logger.Error("failed to release reservation after order failure",
				zap.Uint64("position_id", pos.ID), zap.Error(delErr))
		}
		var rejected *executor.RejectedError
		if errors.As(err, &rejected) {
			return &OpenOutcome{Skipped: true, Reason: rejected.Reason}, nil
		}
		return nil, fmt.Errorf("entry order: %w", err)
	}

	pos.EntryPrice = fill.Price
	pos.SizeUSD = fill.SizeUSD
	// The row was reserved at the decision price; the monitor reads entry
	// prices from the store, so the actual fill must land there too.
	if err := m.Book.UpdateEntryFill(ctx, pos.ID, fill.Price, fill.SizeUSD); err != nil && m.Logger != nil {
		m.Logger.Error("failed to persist entry fill",
			zap.Uint64("position_id", pos.ID),
			zap.String("fill_price", fill.Price.String()),
			zap.Error(err))
	}
	if m.Logger != nil {
		m.Logger.Info("position opened",
			zap.String("market_id", pos.MarketID),
			zap.String("side", pos.Side),
			zap.String("entry_price", pos.EntryPrice.String()),
			zap.String("size_usd", pos.SizeUSD.String()))
	}
	return &OpenOutcome{Position: pos}, nil
}

// MonitorOnce walks every open position sequentially and applies the exit
// rules. One broken position never stops the sweep.
func (m *Manager) MonitorOnce(ctx context.Context) error {
	if m == nil || m.Book == nil {
		return errors.New("position manager is not configured")
	}
	open, err := m.Book.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	for i, pos := range open {
		if i > 0 && m.Cfg.MonitorItemDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.Cfg.MonitorItemDelay):
			}
		}
		if err := m.checkPosition(ctx, pos); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("position check failed, holding",
					zap.String("market_id", pos.MarketID), zap.Error(err))
			}
		}
	}
	return nil
}

// checkPosition applies the exit rules in priority order: resolution, stop
// loss, then belief-driven exits behind the adverse-move trigger.
func (m *Manager) checkPosition(ctx context.Context, pos models.Position) error {
	// A fresh streamed mark that is clearly mid-range and inside the trigger
	// band means nothing to do for this position; skip the market refresh.
	if m.Marks != nil {
		if mark, ok := m.Marks.Price(pos.TokenID); ok && mark > 0.01 && mark < 0.99 {
			if adverseMove(pos.EntryPrice.InexactFloat64(), mark) < m.reanalyzeTriggerPct() {
				return nil
			}
		}
	}

	market, err := m.Markets.FetchByConditionID(ctx, pos.MarketID)
	if err != nil {
		return fmt.Errorf("market refresh: %w", err)
	}
	if market == nil {
		return fmt.Errorf("market %s no longer known to the venue", pos.MarketID)
	}

	if finalYes, resolved := market.Resolved(); resolved {
		return m.closeAtResolution(ctx, pos, *market, finalYes)
	}

	current, ok := currentSidePrice(*market, pos.Side)
	if !ok {
		return fmt.Errorf("no quote for held side")
	}
	adverse := adverseMove(pos.EntryPrice.InexactFloat64(), current)

	// Stop loss is mechanical: past the threshold we are out, no second
	// opinion from the model.
	if adverse > m.stopLossPct() {
		return m.close(ctx, pos, current, ExitStopLoss)
	}
	if adverse < m.reanalyzeTriggerPct() {
		return nil
	}

	if m.Reanalyzer == nil {
		return nil
	}
	fresh, err := m.Reanalyzer.Reanalyze(ctx, *market)
	if err != nil {
		// Holding on a failed re-analysis is the safe default; the stop loss
		// still protects the downside.
		return fmt.Errorf("reanalysis: %w", err)
	}
	if fresh == nil {
		return errors.New("reanalysis produced no belief")
	}
	return m.applyBeliefExits(ctx, pos, *market, current, fresh)
}

func (m *Manager) applyBeliefExits(ctx context.Context, pos models.Position, market models.Market, current float64, fresh *models.Belief) error {
	sideProb := fresh.Probability
	if pos.Side == models.SideNo {
		sideProb = 1 - fresh.Probability
	}

	// Edge gone negative: the model now thinks the held side is overpriced.
	if sideProb < current {
		return m.close(ctx, pos, current, ExitEVReversal)
	}
	// The model now favors the other side with real margin.
	if sideProb < 0.5-m.convictionFlipMargin() {
		return m.close(ctx, pos, current, ExitConvictionFlip)
	}
	if fresh.Confidence < m.confidenceFloor() {
		return m.close(ctx, pos, current, ExitLowConfidence)
	}
	if m.Logger != nil {
		m.Logger.Info("holding after re-analysis",
			zap.String("market_id", pos.MarketID),
			zap.Float64("side_probability", sideProb),
			zap.Float64("current_price", current))
	}
	return nil
}

// ApplyFreshBelief re-evaluates a held position against a belief produced
// elsewhere in the same cycle, with no re-analysis fetch. An edge reversal
// exits even without a large price move.
func (m *Manager) ApplyFreshBelief(ctx context.Context, pos models.Position, market models.Market, fresh *models.Belief) error {
	if fresh == nil {
		return errors.New("fresh belief is nil")
	}
	if finalYes, resolved := market.Resolved(); resolved {
		return m.closeAtResolution(ctx, pos, market, finalYes)
	}
	current, ok := currentSidePrice(market, pos.Side)
	if !ok {
		return errors.New("no quote for held side")
	}
	return m.applyBeliefExits(ctx, pos, market, current, fresh)
}

// ManualClose exits one open position at the current quote on operator
// request.
func (m *Manager) ManualClose(ctx context.Context, positionID uint64) error {
	open, err := m.Book.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	for _, pos := range open {
		if pos.ID != positionID {
			continue
		}
		market, err := m.Markets.FetchByConditionID(ctx, pos.MarketID)
		if err != nil {
			return fmt.Errorf("market refresh: %w", err)
		}
		if market == nil {
			return fmt.Errorf("market %s no longer known to the venue", pos.MarketID)
		}
		if finalYes, resolved := market.Resolved(); resolved {
			return m.closeAtResolution(ctx, pos, *market, finalYes)
		}
		current, ok := currentSidePrice(*market, pos.Side)
		if !ok {
			return errors.New("no quote for held side")
		}
		return m.close(ctx, pos, current, ExitManual)
	}
	return fmt.Errorf("no open position with id %d", positionID)
}

func (m *Manager) closeAtResolution(ctx context.Context, pos models.Position, market models.Market, finalYes float64) error {
	finalSide := finalYes
	if pos.Side == models.SideNo {
		finalSide = 1 - finalYes
	}
	if m.Settlements != nil {
		if err := m.Settlements.RecordSettlement(ctx, market, finalYes, time.Now().UTC()); err != nil && m.Logger != nil {
			m.Logger.Warn("settlement record failed",
				zap.String("market_id", pos.MarketID), zap.Error(err))
		}
	}
	return m.settle(ctx, pos, finalSide, ExitResolution)
}

// close exits through the executor at the current quote; settle books the
// terminal value directly (resolution pays out, there is nothing to sell).
func (m *Manager) close(ctx context.Context, pos models.Position, current float64, reason string) error {
	exitPrice := decimal.NewFromFloat(current)
	if m.Exec != nil {
		fill, err := m.Exec.Close(ctx, executor.Order{
			MarketID: pos.MarketID,
			TokenID:  pos.TokenID,
			Side:     pos.Side,
			Price:    exitPrice,
			SizeUSD:  pos.SizeUSD,
		})
		if err != nil {
			return fmt.Errorf("exit order: %w", err)
		}
		exitPrice = fill.Price
	}
	return m.settle(ctx, pos, exitPrice.InexactFloat64(), reason)
}

func (m *Manager) settle(ctx context.Context, pos models.Position, exitPrice float64, reason string) error {
	price := decimal.NewFromFloat(exitPrice)
	pnl := realizedPnL(pos, price)
	if err := m.Book.ClosePosition(ctx, pos.ID, price, pnl, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if m.Risk != nil {
		m.Risk.RecordTrade(pnl, pos.Source, reason)
	}
	if m.Logger != nil {
		m.Logger.Info("position closed",
			zap.String("market_id", pos.MarketID),
			zap.String("reason", reason),
			zap.String("exit_price", price.String()),
			zap.String("realized_pnl", pnl.String()))
	}
	return nil
}

// realizedPnL converts the USD notional to shares at entry and marks them at
// the exit price.
func realizedPnL(pos models.Position, exitPrice decimal.Decimal) decimal.Decimal {
	if pos.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	shares := pos.SizeUSD.Div(pos.EntryPrice)
	return shares.Mul(exitPrice.Sub(pos.EntryPrice)).Round(6)
}

// adverseMove is the fractional loss on the held side; favorable moves
// return 0.
func adverseMove(entry, current float64) float64 {
	if entry <= 0 || current >= entry {
		return 0
	}
	return (entry - current) / entry
}

// currentSidePrice quotes the held side: the YES price, or its complement.
func currentSidePrice(market models.Market, side string) (float64, bool) {
	yes, ok := market.YesOutcome()
	if !ok {
		return 0, false
	}
	if side == models.SideNo {
		return 1 - yes.Price, true
	}
	return yes.Price, true
}

func (m *Manager) stopLossPct() float64 {
	if m.Cfg.StopLossPct > 0 {
		return m.Cfg.StopLossPct
	}
	return 0.25
}

func (m *Manager) reanalyzeTriggerPct() float64 {
	if m.Cfg.ReanalyzeTriggerPct > 0 {
		return m.Cfg.ReanalyzeTriggerPct
	}
	return 0.15
}

func (m *Manager) confidenceFloor() float64 {
	if m.Cfg.ConfidenceFloor > 0 {
		return m.Cfg.ConfidenceFloor
	}
	return 0.4
}

func (m *Manager) convictionFlipMargin() float64 {
	if m.Cfg.ConvictionFlipMargin > 0 {
		return m.Cfg.ConvictionFlipMargin
	}
	return 0.10
}
