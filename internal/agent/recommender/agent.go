// Package recommender composes the final patient-facing message from the
// accumulated diagnosis, investigations, and retrieved evidence.
package recommender

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/turn"
)

var schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response": map[string]any{"type": "string"},
	},
	"required": []string{"response"},
}

type extracted struct {
	Response string `json:"response"`
}

// dosagePattern screens the response for anything that looks like a
// specific drug dosage instruction, which must never reach the patient.
var dosagePattern = regexp.MustCompile(`(?i)\b\d+\s?(mg|mcg|ml|g)\b`)

type Agent struct {
	provider llm.Provider
}

func NewAgent(provider llm.Provider) *Agent {
	return &Agent{provider: provider}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	if strings.TrimSpace(state.UserInput) == "" && len(state.Symptoms) == 0 && state.ImageAnalysis == nil {
		state.FinalResponse = clarificationPrompt(state)
		state.AppendTransition("recommender", state.UserInput, state.FinalResponse, "")
		return nil
	}

	var response string
	if a.provider == nil {
		response = fallbackResponse(state)
	} else {
		var out extracted
		err := llm.Structured(ctx, a.provider, buildPrompt(state), schema, &out, func(raw string) error {
			out.Response = fallbackResponse(state)
			return nil
		})
		response = out.Response
		if err != nil || strings.TrimSpace(response) == "" {
			response = fallbackResponse(state)
		}
	}

	response = scrubDosage(response)
	state.FinalResponse = response
	state.AppendTransition("recommender", state.UserInput, response, "")
	return nil
}

func buildPrompt(state *turn.State) string {
	var sb strings.Builder
	sb.WriteString("Compose a patient-facing response in the same language as the patient's message. Structure:\n")
	sb.WriteString("(a) acknowledge the complaint, (b) a hedged summary of the leading hypotheses without stating ")
	sb.WriteString("probabilities as authoritative, (c) the recommended next questions/tests, (d) a short ")
	sb.WriteString("disclaimer to see a clinician, (e) optional evidence citations by source id. Never name a ")
	sb.WriteString("specific medication dosage; general drug classes may be mentioned as information only.\n\n")
	fmt.Fprintf(&sb, "Patient message: %s\n\n", state.UserInput)
	if len(state.Diagnosis) > 0 {
		sb.WriteString("Leading hypotheses:\n")
		for _, d := range state.Diagnosis {
			sb.WriteString("- " + d.Hypothesis + ": " + d.Rationale + "\n")
		}
	}
	if len(state.Investigations) > 0 {
		sb.WriteString("\nSuggested next steps:\n")
		for _, inv := range state.Investigations {
			if inv.Question != "" {
				sb.WriteString("- " + inv.Question + "\n")
			} else {
				sb.WriteString("- " + inv.Test + "\n")
			}
		}
	}
	if len(state.Evidence) > 0 {
		sb.WriteString("\nSupporting evidence:\n")
		for _, e := range state.Evidence {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", e.SourceID, e.Passage))
		}
	}
	return sb.String()
}

// fallbackResponse is the safe, non-diagnostic, hedged text used whenever
// structured generation fails, or when there isn't enough to work with.
func fallbackResponse(state *turn.State) string {
	var sb strings.Builder
	sb.WriteString("Thanks for sharing that. ")
	if len(state.Diagnosis) > 0 {
		sb.WriteString("Based on what you've described, this could be related to ")
		names := make([]string, 0, len(state.Diagnosis))
		for _, d := range state.Diagnosis {
			names = append(names, d.Hypothesis)
		}
		sb.WriteString(strings.Join(names, " or ") + ", though this is not a diagnosis. ")
	}
	if len(state.Investigations) > 0 {
		sb.WriteString("A couple of follow-up questions would help: ")
		var qs []string
		for _, inv := range state.Investigations {
			if inv.Question != "" {
				qs = append(qs, inv.Question)
			}
		}
		sb.WriteString(strings.Join(qs, " ") + " ")
	}
	sb.WriteString("Please consult a clinician for an accurate assessment and treatment plan.")
	return sb.String()
}

func clarificationPrompt(state *turn.State) string {
	return "Could you tell me a bit more about what you're experiencing — when it started, where, and how severe it feels?"
}

func scrubDosage(response string) string {
	if dosagePattern.MatchString(response) {
		return dosagePattern.ReplaceAllString(response, "[dosage omitted — please consult a clinician]")
	}
	return response
}
