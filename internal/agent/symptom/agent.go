// Package symptom normalizes bilingual free text into a structured
// symptom list.
package symptom

import (
	"context"
	"strings"

	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/turn"
)

var schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"symptoms": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":      map[string]any{"type": "string"},
					"duration":  map[string]any{"type": "string"},
					"severity":  map[string]any{"type": "string", "enum": []string{"mild", "moderate", "severe", ""}},
					"site":      map[string]any{"type": "string"},
					"modifiers": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"name"},
			},
		},
	},
	"required": []string{"symptoms"},
}

type extracted struct {
	Symptoms []struct {
		Name      string   `json:"name"`
		Duration  string   `json:"duration"`
		Severity  string   `json:"severity"`
		Site      string   `json:"site"`
		Modifiers []string `json:"modifiers"`
	} `json:"symptoms"`
}

type Agent struct {
	provider llm.Provider
}

func NewAgent(provider llm.Provider) *Agent {
	return &Agent{provider: provider}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	text := state.UserInput
	if state.ImageAnalysis != nil {
		text = strings.TrimSpace(text + "\n" + state.ImageAnalysis.Description)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out extracted
	if a.provider == nil {
		out.Symptoms = heuristicExtract(text)
	} else {
		err := llm.Structured(ctx, a.provider, buildPrompt(text), schema, &out, func(raw string) error {
			out.Symptoms = heuristicExtract(text)
			return nil
		})
		if err != nil {
			out.Symptoms = heuristicExtract(text)
		}
	}

	symptoms := make([]turn.Symptom, 0, len(out.Symptoms))
	for _, s := range out.Symptoms {
		if strings.TrimSpace(s.Name) == "" {
			continue
		}
		symptoms = append(symptoms, turn.Symptom{
			Name:      s.Name,
			Duration:  s.Duration,
			Severity:  turn.Severity(s.Severity),
			Site:      s.Site,
			Modifiers: s.Modifiers,
		})
	}

	// Unknown fields remain null/empty; no symptom found is a valid
	// outcome — state.Symptoms simply stays empty.
	state.Symptoms = symptoms
	state.AppendTransition("symptom_extractor", text, formatNames(symptoms), "")
	return nil
}

func buildPrompt(text string) string {
	return `Extract a structured symptom list from this patient message, which may be in Vietnamese or English.
For each symptom return name, duration, severity (mild|moderate|severe or empty), site, and modifiers.
Leave fields empty if not stated. If no symptom is identifiable, return an empty symptoms array.

Message: ` + text
}

// heuristicExtract is the deterministic fallback: a small bilingual
// keyword scan, used when no model is configured or when structured
// extraction fails twice.
func heuristicExtract(text string) []struct {
	Name      string   `json:"name"`
	Duration  string   `json:"duration"`
	Severity  string   `json:"severity"`
	Site      string   `json:"site"`
	Modifiers []string `json:"modifiers"`
} {
	lower := strings.ToLower(text)
	type kw struct {
		terms []string
		name  string
	}
	catalogue := []kw{
		{[]string{"fever", "sốt"}, "fever"},
		{[]string{"headache", "đau đầu"}, "headache"},
		{[]string{"cough", "ho"}, "cough"},
		{[]string{"chest pain", "đau ngực"}, "chest pain"},
		{[]string{"body ache", "đau nhức", "nhức mỏi"}, "body aches"},
		{[]string{"rash", "phát ban", "red patch", "mẩn đỏ"}, "skin rash"},
		{[]string{"itchy", "ngứa"}, "itching"},
		{[]string{"shortness of breath", "khó thở"}, "shortness of breath"},
		{[]string{"sweating", "vã mồ hôi"}, "excessive sweating"},
	}
	var out []struct {
		Name      string   `json:"name"`
		Duration  string   `json:"duration"`
		Severity  string   `json:"severity"`
		Site      string   `json:"site"`
		Modifiers []string `json:"modifiers"`
	}
	for _, k := range catalogue {
		for _, term := range k.terms {
			if strings.Contains(lower, term) {
				out = append(out, struct {
					Name      string   `json:"name"`
					Duration  string   `json:"duration"`
					Severity  string   `json:"severity"`
					Site      string   `json:"site"`
					Modifiers []string `json:"modifiers"`
				}{Name: k.name})
				break
			}
		}
	}
	return out
}

func formatNames(symptoms []turn.Symptom) string {
	names := make([]string, len(symptoms))
	for i, s := range symptoms {
		names[i] = s.Name
	}
	return strings.Join(names, ", ")
}
