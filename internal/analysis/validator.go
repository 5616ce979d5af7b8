package analysis

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// Validator cross-checks a consensus belief against the evidence it claims
// to rest on. It only ever lowers confidence; probability is untouched.
type Validator struct {
	Cfg    config.AnalysisConfig
	Logger *zap.Logger
}

func NewValidator(cfg config.AnalysisConfig, logger *zap.Logger) *Validator {
	return &Validator{Cfg: cfg, Logger: logger}
}

// revisionGap is the probability move that demands an explanation when prior
// beliefs exist for the market.
const revisionGap = 0.15

// Validate scores citation grounding, applies confidence penalties, and runs
// advisory coherence checks. Penalties stack additively up to the configured
// cap, and confidence never drops below the floor.
func (v *Validator) Validate(belief *models.Belief, evidence []models.EvidenceItem, previous *models.Belief) {
	if v == nil || belief == nil {
		return
	}

	accuracy := v.citationAccuracy(belief.CitationList(), evidence)
	belief.CitationAccuracy = &accuracy

	penalty := 0.0
	if accuracy < v.minAccuracy() {
		penalty += v.citationPenalty()
		if v.Logger != nil {
			v.Logger.Warn("citations poorly grounded in evidence",
				zap.String("market_id", belief.MarketID),
				zap.Float64("accuracy", accuracy))
		}
	}
	if previous != nil && math.Abs(belief.Probability-previous.Probability) > revisionGap && belief.ConsistencyNote == "" {
		penalty += v.changePenalty()
		if v.Logger != nil {
			v.Logger.Warn("large revision without explanation",
				zap.String("market_id", belief.MarketID),
				zap.Float64("previous", previous.Probability),
				zap.Float64("current", belief.Probability))
		}
	}
	if limit := v.maxTotalPenalty(); penalty > limit {
		penalty = limit
	}
	if penalty > 0 {
		belief.Confidence -= penalty
		if floor := v.confidenceFloor(); belief.Confidence < floor {
			belief.Confidence = floor
		}
	}

	v.coherenceChecks(belief)
}

// citationAccuracy is the fraction of citations whose significant words
// overlap the evidence text enough to count as grounded. No citations means
// nothing to dispute, accuracy 1.0.
func (v *Validator) citationAccuracy(citations []string, evidence []models.EvidenceItem) float64 {
	if len(citations) == 0 {
		return 1.0
	}
	corpus := map[string]struct{}{}
	for _, item := range evidence {
		for w := range significantTokens(item.Title + " " + item.Body) {
			corpus[w] = struct{}{}
		}
	}

	grounded := 0
	for _, citation := range citations {
		words := significantTokens(citation)
		if len(words) == 0 {
			continue
		}
		hits := 0
		for w := range words {
			if _, ok := corpus[w]; ok {
				hits++
			}
		}
		if float64(hits)/float64(len(words)) > v.groundedOverlap() {
			grounded++
		}
	}
	return float64(grounded) / float64(len(citations))
}

// coherenceChecks flag suspicious beliefs without changing them. The trade
// gate downstream is the only thing allowed to reject.
func (v *Validator) coherenceChecks(belief *models.Belief) {
	if v.Logger == nil {
		return
	}
	if belief.Probability > 0.7 && belief.Confidence < 0.6 {
		v.Logger.Info("strong probability with weak confidence",
			zap.String("market_id", belief.MarketID),
			zap.Float64("probability", belief.Probability),
			zap.Float64("confidence", belief.Confidence))
	}
	if belief.Confidence < 0.5 && math.Abs(belief.Probability-0.5) > 0.2 {
		v.Logger.Info("low confidence paired with a decisive probability",
			zap.String("market_id", belief.MarketID),
			zap.Float64("probability", belief.Probability),
			zap.Float64("confidence", belief.Confidence))
	}
	if belief.Confidence > 0.7 && len(belief.CitationList()) == 0 {
		v.Logger.Info("high confidence with no cited evidence",
			zap.String("market_id", belief.MarketID),
			zap.Float64("confidence", belief.Confidence))
	}
}

func significantTokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) >= 4 {
			out[w] = struct{}{}
		}
	}
	return out
}

func (v *Validator) groundedOverlap() float64 {
	if v.Cfg.GroundedOverlap > 0 {
		return v.Cfg.GroundedOverlap
	}
	return 0.4
}

func (v *Validator) minAccuracy() float64 {
	if v.Cfg.MinAccuracy > 0 {
		return v.Cfg.MinAccuracy
	}
	return 0.5
}

func (v *Validator) citationPenalty() float64 {
	if v.Cfg.CitationPenalty > 0 {
		return v.Cfg.CitationPenalty
	}
	return 0.15
}

func (v *Validator) changePenalty() float64 {
	if v.Cfg.ChangePenalty > 0 {
		return v.Cfg.ChangePenalty
	}
	return 0.10
}

func (v *Validator) maxTotalPenalty() float64 {
	if v.Cfg.MaxTotalPenalty > 0 {
		return v.Cfg.MaxTotalPenalty
	}
	return 0.25
}

func (v *Validator) confidenceFloor() float64 {
	if v.Cfg.ConfidenceFloor > 0 {
		return v.Cfg.ConfidenceFloor
	}
	return 0.1
}
