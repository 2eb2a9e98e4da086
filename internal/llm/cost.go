package llm

import "strings"

// modelRate is the per-million-token price for a model prefix.
type modelRate struct {
	prefix string
	input  float64
	output float64
}

// Longest prefix wins, so order within a family goes specific to general.
var costTable = []modelRate{
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"gpt-4-turbo", 10.00, 30.00},
	{"gpt-4", 30.00, 60.00},
	{"gpt-3.5-turbo", 0.50, 1.50},
	{"o1", 15.00, 60.00},
	{"o3-mini", 1.10, 4.40},
	{"o3", 10.00, 40.00},
	{"o4-mini", 1.10, 4.40},

	{"claude-opus-4", 15.00, 75.00},
	{"claude-sonnet-4", 3.00, 15.00},
	{"claude-haiku-4", 0.80, 4.00},
	{"claude-3-5-sonnet", 3.00, 15.00},
	{"claude-3-5-haiku", 0.80, 4.00},
	{"claude-3-opus", 15.00, 75.00},
	{"claude-3-haiku", 0.25, 1.25},

	{"gemini-2.0-flash-lite", 0.075, 0.30},
	{"gemini-2.0-flash", 0.10, 0.40},
	{"gemini-1.5-pro", 1.25, 5.00},
	{"gemini-1.5-flash", 0.075, 0.30},
}

// Cost returns the dollar cost of a call, or 0.0 for unknown models.
func Cost(model string, inputTokens, outputTokens int) float64 {
	var best *modelRate
	for i := range costTable {
		rate := &costTable[i]
		if !strings.HasPrefix(model, rate.prefix) {
			continue
		}
		if best == nil || len(rate.prefix) > len(best.prefix) {
			best = rate
		}
	}
	if best == nil {
		return 0.0
	}
	return float64(inputTokens)*best.input/1e6 + float64(outputTokens)*best.output/1e6
}
