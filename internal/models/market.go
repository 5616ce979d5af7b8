package models

import (
	"strings"
	"time"
)

// Category is the closed set of market verticals the analyzer understands.
type Category string

const (
	CategoryPolitics      Category = "politics"
	CategorySports        Category = "sports"
	CategoryCrypto        Category = "crypto"
	CategoryEconomics     Category = "economics"
	CategoryScience       Category = "science"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "politics", "elections", "geopolitics":
		return CategoryPolitics
	case "sports":
		return CategorySports
	case "crypto", "cryptocurrency":
		return CategoryCrypto
	case "economics", "economy", "business", "finance":
		return CategoryEconomics
	case "science", "tech", "science & tech":
		return CategoryScience
	case "entertainment", "pop culture":
		return CategoryEntertainment
	default:
		return CategoryOther
	}
}

// Outcome is one tradable side of a market. Price is the venue quote in [0,1];
// outcome prices are independent quotes and do not necessarily sum to 1.
type Outcome struct {
	TokenID string
	Name    string
	Price   float64
}

// Market is the live snapshot fetched from the market provider. It is not
// persisted; beliefs and positions reference it by ConditionID.
type Market struct {
	ConditionID    string
	Title          string
	Category       Category
	ResolutionTime time.Time
	Outcomes       []Outcome
	Closed         bool
}

// YesOutcome returns the outcome whose name is "Yes" (case-insensitive),
// falling back to the first outcome for binary markets with custom labels.
func (m Market) YesOutcome() (Outcome, bool) {
	for _, o := range m.Outcomes {
		if strings.EqualFold(strings.TrimSpace(o.Name), "yes") {
			return o, true
		}
	}
	if len(m.Outcomes) > 0 {
		return m.Outcomes[0], true
	}
	return Outcome{}, false
}

// NoOutcome returns the complementary outcome to YesOutcome.
func (m Market) NoOutcome() (Outcome, bool) {
	yes, ok := m.YesOutcome()
	if !ok {
		return Outcome{}, false
	}
	for _, o := range m.Outcomes {
		if o.TokenID != yes.TokenID {
			return o, true
		}
	}
	return Outcome{}, false
}

// Resolved reports whether the venue has effectively settled the market:
// the Yes quote pinned at ~0 or ~1, or the market flagged closed.
func (m Market) Resolved() (finalYes float64, resolved bool) {
	yes, ok := m.YesOutcome()
	if !ok {
		return 0, false
	}
	if yes.Price <= 0.01 {
		return 0, true
	}
	if yes.Price >= 0.99 {
		return 1, true
	}
	if m.Closed {
		return yes.Price, true
	}
	return yes.Price, false
}
