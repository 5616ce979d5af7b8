package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// ErrEnsembleUnavailable means no ensemble member produced a usable belief.
// The market is skipped for this cycle, never defaulted.
var ErrEnsembleUnavailable = errors.New("all ensemble members failed")

// Completer is the slice of the LLM client the ensemble needs.
type Completer interface {
	Complete(ctx context.Context, prompt, model, system string, temperature float64) (string, error)
}

// Ensemble fans one market out to several model calls with varied
// perspectives and temperatures, and keeps whichever members succeed.
type Ensemble struct {
	Provider Completer
	Model    string
	Cfg      config.EnsembleConfig
	Logger   *zap.Logger
}

func NewEnsemble(provider Completer, model string, cfg config.EnsembleConfig, logger *zap.Logger) *Ensemble {
	return &Ensemble{Provider: provider, Model: model, Cfg: cfg, Logger: logger}
}

// Analyze runs the ensemble for one market. Member calls run concurrently;
// the provider's rate queue serializes the actual requests. Partial failure
// is tolerated, total failure returns ErrEnsembleUnavailable.
func (e *Ensemble) Analyze(ctx context.Context, market models.Market, evidence []models.EvidenceItem) ([]models.Belief, error) {
	if e == nil || e.Provider == nil {
		return nil, errors.New("ensemble is not configured")
	}
	size := e.Cfg.Size
	if size <= 0 {
		size = 3
	}
	now := time.Now().UTC()

	results := make([]*models.Belief, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(member int) {
			defer wg.Done()
			belief, err := e.analyzeMember(ctx, market, evidence, member, size, now)
			if err != nil {
				if e.Logger != nil {
					e.Logger.Warn("ensemble member failed",
						zap.String("market_id", market.ConditionID),
						zap.Int("member", member),
						zap.Error(err))
				}
				return
			}
			results[member] = belief
		}(i)
	}
	wg.Wait()

	// Member order is preserved so downstream reasoning concatenation is
	// deterministic.
	out := make([]models.Belief, 0, size)
	for _, b := range results {
		if b != nil {
			out = append(out, *b)
		}
	}
	if len(out) == 0 {
		return nil, ErrEnsembleUnavailable
	}
	return out, nil
}

func (e *Ensemble) analyzeMember(ctx context.Context, market models.Market, evidence []models.EvidenceItem, member, size int, now time.Time) (*models.Belief, error) {
	prompt := buildPrompt(market, evidence, perspectiveHint(member), now)
	temp := memberTemperature(e.Cfg.BaseTemperature, e.Cfg.TemperatureSpread, member, size)
	text, err := e.Provider.Complete(ctx, prompt, e.Model, analystSystemPrompt, temp)
	if err != nil {
		return nil, err
	}
	belief, err := parseBelief(text, market.ConditionID, market.Category)
	if err != nil {
		return nil, err
	}
	return &belief, nil
}
