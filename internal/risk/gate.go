package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// Gate is the final say on whether new positions may be opened. Exits are
// never blocked: closing out of a bad spot is risk reduction, not risk.
type Gate struct {
	Cfg    config.RiskConfig
	Logger *zap.Logger

	// Now is swappable so tests can steer the daily rollover.
	Now func() time.Time

	mu          sync.Mutex
	paused      bool
	pauseReason string
	killed      bool
	killReason  string
	day         time.Time
	dailyPnL    decimal.Decimal
	bySource    map[string]decimal.Decimal
	trades      []TradeRecord
}

// TradeRecord is one realized close in today's window.
type TradeRecord struct {
	Source string          `json:"source"`
	Reason string          `json:"reason"`
	PnLUSD decimal.Decimal `json:"pnl_usd"`
	At     time.Time       `json:"at"`
}

// Status is a point-in-time snapshot for the ops API.
type Status struct {
	Paused      bool              `json:"paused"`
	PauseReason string            `json:"pause_reason,omitempty"`
	Killed      bool              `json:"killed"`
	KillReason  string            `json:"kill_reason,omitempty"`
	Day         string            `json:"day"`
	DailyPnLUSD decimal.Decimal   `json:"daily_pnl_usd"`
	PnLBySource map[string]string `json:"pnl_by_source,omitempty"`
	Trades      []TradeRecord     `json:"trades,omitempty"`
}

func NewGate(cfg config.RiskConfig, logger *zap.Logger) *Gate {
	return &Gate{
		Cfg:      cfg,
		Logger:   logger,
		Now:      time.Now,
		bySource: map[string]decimal.Decimal{},
	}
}

// Pause halts new entries until Resume. The reason is surfaced in status.
func (g *Gate) Pause(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	g.pauseReason = reason
	if g.Logger != nil {
		g.Logger.Warn("trading paused", zap.String("reason", reason))
	}
}

// Resume lifts a pause. It does nothing while the kill switch is engaged.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killed {
		if g.Logger != nil {
			g.Logger.Warn("resume ignored, kill switch engaged")
		}
		return false
	}
	g.paused = false
	g.pauseReason = ""
	if g.Logger != nil {
		g.Logger.Info("trading resumed")
	}
	return true
}

// Kill halts entries until Unkill. Resume has no effect while killed.
func (g *Gate) Kill(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = true
	g.killReason = reason
	if g.Logger != nil {
		g.Logger.Error("kill switch engaged", zap.String("reason", reason))
	}
}

// Unkill deactivates the kill switch. The gate comes back paused; an
// operator still has to Resume before entries flow again.
func (g *Gate) Unkill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.killed {
		return
	}
	g.killed = false
	g.killReason = ""
	g.paused = true
	g.pauseReason = "kill switch deactivated, awaiting resume"
	if g.Logger != nil {
		g.Logger.Warn("kill switch deactivated")
	}
}

// CanEnter reports whether a new position may be opened right now, with the
// blocking reason when it may not.
func (g *Gate) CanEnter() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	switch {
	case g.killed:
		return false, "kill switch engaged: " + g.killReason
	case g.paused:
		return false, "trading paused: " + g.pauseReason
	case g.dailyLossBreachedLocked():
		return false, "daily loss limit reached"
	}
	return true, ""
}

// RecordTrade folds a realized PnL into the daily book. Source is the
// strategy that opened the position (scan); reason is the exit that closed
// it (stop_loss, resolution, manual).
func (g *Gate) RecordTrade(pnl decimal.Decimal, source, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	if source == "" {
		source = "unknown"
	}
	g.dailyPnL = g.dailyPnL.Add(pnl)
	g.bySource[source] = g.bySource[source].Add(pnl)
	g.trades = append(g.trades, TradeRecord{Source: source, Reason: reason, PnLUSD: pnl, At: g.now().UTC()})
	if g.dailyLossBreachedLocked() && g.Logger != nil {
		g.Logger.Warn("daily loss limit reached, entries halted",
			zap.String("daily_pnl", g.dailyPnL.String()))
	}
}

// Rehydrate rebuilds today's book from positions closed since the last UTC
// midnight, so a restart cannot forget losses already taken.
func (g *Gate) Rehydrate(closed []models.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	for _, p := range closed {
		if p.ClosedAt == nil || p.ClosedAt.UTC().Before(g.day) {
			continue
		}
		source := p.Source
		if source == "" {
			source = "unknown"
		}
		g.dailyPnL = g.dailyPnL.Add(p.RealizedPnL)
		g.bySource[source] = g.bySource[source].Add(p.RealizedPnL)
		g.trades = append(g.trades, TradeRecord{Source: source, Reason: p.ExitReason, PnLUSD: p.RealizedPnL, At: p.ClosedAt.UTC()})
	}
}

// SlippageOK accepts a fill whose adverse price move stays within the
// configured fraction of the expected price. The boundary passes.
func (g *Gate) SlippageOK(expectedPrice, fillPrice float64) bool {
	if expectedPrice <= 0 {
		return false
	}
	expected := decimal.NewFromFloat(expectedPrice)
	adverse := decimal.NewFromFloat(fillPrice).Sub(expected).Div(expected)
	return adverse.LessThanOrEqual(decimal.NewFromFloat(g.slippageTolerance()))
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	bySource := make(map[string]string, len(g.bySource))
	for k, v := range g.bySource {
		bySource[k] = v.String()
	}
	trades := make([]TradeRecord, len(g.trades))
	copy(trades, g.trades)
	return Status{
		Paused:      g.paused,
		PauseReason: g.pauseReason,
		Killed:      g.killed,
		KillReason:  g.killReason,
		Day:         g.day.Format("2006-01-02"),
		DailyPnLUSD: g.dailyPnL,
		PnLBySource: bySource,
		Trades:      trades,
	}
}

func (g *Gate) DailyPnL() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return g.dailyPnL
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// rollLocked resets the daily book when the UTC date has changed.
func (g *Gate) rollLocked() {
	today := g.now().UTC().Truncate(24 * time.Hour)
	if today.Equal(g.day) {
		return
	}
	g.day = today
	g.dailyPnL = decimal.Zero
	g.bySource = map[string]decimal.Decimal{}
	g.trades = nil
}

func (g *Gate) dailyLossBreachedLocked() bool {
	limit := g.Cfg.MaxDailyLossUSD
	if limit <= 0 {
		return false
	}
	return g.dailyPnL.LessThanOrEqual(decimal.NewFromFloat(-limit))
}

func (g *Gate) slippageTolerance() float64 {
	if g.Cfg.SlippageTolerance > 0 {
		return g.Cfg.SlippageTolerance
	}
	return 0.02
}
