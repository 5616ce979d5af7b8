package analysis

import (
	"fmt"
	"strings"
	"time"

	"oraclebot/internal/models"
)

const analystSystemPrompt = "You are a forecasting analyst for binary prediction markets. " +
	"Respond with a single JSON object and nothing else. Fields: " +
	"probability (0-1, chance the market resolves YES), confidence (0-1), " +
	"reasoning (string), key_factors (array of strings), citations (array of " +
	"strings quoting the provided evidence), consistency_note (string, explain " +
	"any large change from your prior view, empty if none)."

// perspectiveHints bias each ensemble member toward a different line of
// attack so the members disagree for informative reasons.
var perspectiveHints = []string{
	"Weigh structural factors: incentives, institutional rules, and who controls the outcome.",
	"Weigh the most recent news and concrete developments over background expectations.",
	"Weigh historical base rates for events of this kind before adjusting for specifics.",
}

func perspectiveHint(member int) string {
	if len(perspectiveHints) == 0 {
		return ""
	}
	return perspectiveHints[member%len(perspectiveHints)]
}

// memberTemperature spreads sampling temperature across the ensemble so
// member outputs are not near-duplicates.
func memberTemperature(base, spread float64, member, size int) float64 {
	if base <= 0 {
		base = 0.7
	}
	if size <= 1 || spread <= 0 {
		return base
	}
	step := spread / float64(size-1)
	t := base - spread/2 + step*float64(member)
	if t < 0.1 {
		t = 0.1
	}
	return t
}

func buildPrompt(market models.Market, evidence []models.EvidenceItem, hint string, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Market: %s\n", market.Title)
	fmt.Fprintf(&sb, "Category: %s\n", market.Category)
	if !market.ResolutionTime.IsZero() {
		fmt.Fprintf(&sb, "Resolves: %s (in %s)\n",
			market.ResolutionTime.UTC().Format(time.RFC3339),
			market.ResolutionTime.Sub(now).Round(time.Hour))
	}
	if yes, ok := market.YesOutcome(); ok {
		fmt.Fprintf(&sb, "Current YES price: %.3f\n", yes.Price)
	}
	if hint != "" {
		fmt.Fprintf(&sb, "\nAnalysis focus: %s\n", hint)
	}
	if len(evidence) > 0 {
		sb.WriteString("\nRecent evidence:\n")
		for i, item := range evidence {
			fmt.Fprintf(&sb, "%d. [%s] %s", i+1, item.Source, item.Title)
			if item.Body != "" {
				fmt.Fprintf(&sb, ": %s", truncate(item.Body, 300))
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nNo recent evidence was found. Lean on base rates and say so in your reasoning.\n")
	}
	sb.WriteString("\nEstimate the probability this market resolves YES. Respond with the JSON object only.\n")
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
