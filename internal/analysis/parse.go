package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"oraclebot/internal/models"
)

// Parse failures are tagged so callers can distinguish "no JSON at all" from
// "JSON present but schema-invalid". Both yield no belief, never a default.
var (
	ErrNoJSON    = errors.New("no JSON object in model output")
	ErrBadSchema = errors.New("model output failed schema validation")
)

type beliefPayload struct {
	Probability     *float64 `json:"probability"`
	Confidence      *float64 `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	KeyFactors      []string `json:"key_factors"`
	Citations       []string `json:"citations"`
	ConsistencyNote string   `json:"consistency_note"`
}

// parseBelief extracts the largest top-level JSON object from untrusted model
// text and validates required numeric fields before building a Belief.
func parseBelief(text, marketID string, category models.Category) (models.Belief, error) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return models.Belief{}, ErrNoJSON
	}
	var payload beliefPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return models.Belief{}, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	if payload.Probability == nil || *payload.Probability < 0 || *payload.Probability > 1 {
		return models.Belief{}, fmt.Errorf("%w: probability missing or out of range", ErrBadSchema)
	}
	if payload.Confidence == nil || *payload.Confidence < 0 || *payload.Confidence > 1 {
		return models.Belief{}, fmt.Errorf("%w: confidence missing or out of range", ErrBadSchema)
	}

	b := models.Belief{
		MarketID:        marketID,
		Category:        string(category),
		Probability:     *payload.Probability,
		Confidence:      *payload.Confidence,
		Reasoning:       strings.TrimSpace(payload.Reasoning),
		ConsistencyNote: strings.TrimSpace(payload.ConsistencyNote),
	}
	b.SetFactors(payload.KeyFactors)
	b.SetCitations(payload.Citations)
	return b, nil
}

// extractJSONObject scans for balanced top-level braces, skipping brace
// characters inside JSON strings, and returns the largest candidate object.
func extractJSONObject(text string) (string, bool) {
	best := ""
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				if len(candidate) > len(best) && json.Valid([]byte(candidate)) {
					best = candidate
				}
				start = -1
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
