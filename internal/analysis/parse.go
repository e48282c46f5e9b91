package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

type rawResult struct {
	Summary    string   `json:"summary"`
	Strengths  []string `json:"strengths"`
	Alerts     []string `json:"alerts"`
	NextStep   string   `json:"next_step"`
	Confidence *float64 `json:"confidence"`
}

func parseResult(content string) (*Result, error) {
	jsonText := extractJSON(content)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}

	if strings.TrimSpace(raw.Summary) == "" {
		return nil, fmt.Errorf("analysis missing summary")
	}

	confidence := defaultConfidence
	if raw.Confidence != nil {
		confidence = clamp(*raw.Confidence)
	}

	return &Result{
		Summary:    strings.TrimSpace(raw.Summary),
		Strengths:  trimAll(raw.Strengths),
		Alerts:     trimAll(raw.Alerts),
		NextStep:   strings.TrimSpace(raw.NextStep),
		Confidence: confidence,
	}, nil
}

// fallbackResult keeps the pipeline moving when the model returns something
// unparseable: a valid low-confidence result carrying an explicit alert.
func fallbackResult(content string) *Result {
	summary := truncate(strings.TrimSpace(content), 280)
	if summary == "" {
		summary = "The analysis could not be generated from the available data."
	}

	return &Result{
		Summary:    summary,
		Strengths:  []string{},
		Alerts:     []string{"Automated analysis was incomplete; review this activity manually."},
		NextStep:   "Re-run the analysis once more data is available.",
		Confidence: 0.1,
	}
}

// extractJSON pulls the outermost object out of a response that may be
// wrapped in markdown fences or prose.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}

	return content[start : end+1]
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
