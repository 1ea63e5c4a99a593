// Package investigation proposes follow-up questions and tests to
// disambiguate the top hypotheses, avoiding duplication of already-stated
// facts.
package investigation

import (
	"context"
	"strings"

	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/turn"
)

const maxInvestigations = 6

var schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"investigations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
					"test":     map[string]any{"type": "string"},
					"reason":   map[string]any{"type": "string"},
					"targets":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	},
	"required": []string{"investigations"},
}

type extracted struct {
	Investigations []struct {
		Question string   `json:"question"`
		Test     string   `json:"test"`
		Reason   string   `json:"reason"`
		Targets  []string `json:"targets"`
	} `json:"investigations"`
}

type Agent struct {
	provider llm.Provider
}

func NewAgent(provider llm.Provider) *Agent {
	return &Agent{provider: provider}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	var investigations []turn.Investigation
	if a.provider != nil {
		var out extracted
		err := llm.Structured(ctx, a.provider, buildPrompt(state), schema, &out, func(raw string) error {
			return nil
		})
		if err == nil {
			for _, inv := range out.Investigations {
				if strings.TrimSpace(inv.Question) == "" && strings.TrimSpace(inv.Test) == "" {
					continue
				}
				if alreadyStated(inv.Question, state.Symptoms) {
					continue
				}
				investigations = append(investigations, turn.Investigation{
					Question: inv.Question,
					Test:     inv.Test,
					Reason:   inv.Reason,
					Targets:  inv.Targets,
				})
			}
		}
	}

	if len(investigations) == 0 {
		investigations = fallbackInvestigations(state)
	}
	if len(investigations) > maxInvestigations {
		investigations = investigations[:maxInvestigations]
	}

	state.Investigations = investigations
	state.AppendTransition("investigation_generator", state.UserInput, summarize(investigations), "")
	return nil
}

func buildPrompt(state *turn.State) string {
	var sb strings.Builder
	sb.WriteString("Given these differential diagnosis hypotheses, propose up to 6 follow-up questions or tests ")
	sb.WriteString("that would best discriminate between them. Do not ask about facts the patient already stated. ")
	sb.WriteString("Each item must name which hypotheses (by exact text) it targets.\n\nHypotheses:\n")
	for _, d := range state.Diagnosis {
		sb.WriteString("- " + d.Hypothesis + ": " + d.Rationale + "\n")
	}
	sb.WriteString("\nAlready known from the patient:\n")
	for _, s := range state.Symptoms {
		sb.WriteString("- " + s.Name + "\n")
	}
	return sb.String()
}

// alreadyStated intersects a proposed question against symptoms so the
// agent doesn't re-ask what the patient already told us.
func alreadyStated(question string, symptoms []turn.Symptom) bool {
	lower := strings.ToLower(question)
	for _, s := range symptoms {
		if s.Name != "" && strings.Contains(lower, strings.ToLower(s.Name)) {
			return true
		}
	}
	return false
}

func fallbackInvestigations(state *turn.State) []turn.Investigation {
	var out []turn.Investigation
	for _, d := range state.Diagnosis {
		out = append(out, turn.Investigation{
			Question: "Has this gotten better, worse, or stayed the same since it started?",
			Reason:   "Disambiguates progression for " + d.Hypothesis,
			Targets:  []string{d.Hypothesis},
		})
		if len(out) >= 2 {
			break
		}
	}
	return out
}

func summarize(investigations []turn.Investigation) string {
	parts := make([]string, len(investigations))
	for i, inv := range investigations {
		if inv.Question != "" {
			parts[i] = inv.Question
		} else {
			parts[i] = inv.Test
		}
	}
	return strings.Join(parts, "; ")
}
