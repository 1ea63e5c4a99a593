// Package image issues a single batched multimodal call that jointly
// yields a visual description and answers to a bounded set of
// symptom-derived questions.
package image

import (
	"context"
	"strings"

	"medical-ai-agent/internal/telemetry"
	"medical-ai-agent/internal/turn"
	"medical-ai-agent/internal/vision"
)

const maxQuestions = 5

type Agent struct {
	provider vision.Provider
}

func NewAgent(provider vision.Provider) *Agent {
	return &Agent{provider: provider}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	log := telemetry.FromContext(ctx)
	if state.Image == nil {
		return nil
	}

	questions := focusedQuestions(state.UserInput)
	resp, err := a.analyzeWithRetry(ctx, state, questions)
	if err != nil {
		log.Warn("image_analyzer: both attempts failed, degrading to null analysis: %v", err)
		state.ImageAnalysis = nil
		state.AppendTransition("image_analyzer", state.UserInput, "", "malformed structured response, degraded to null")
		return nil
	}

	confidence := vision.Confidence(questions, resp)
	state.ImageAnalysis = &turn.ImageAnalysis{
		Description: resp.Description,
		VisualQA:    resp.Answers,
		Confidence:  confidence,
	}
	state.AppendTransition("image_analyzer", state.UserInput, resp.Description, "")
	return nil
}

// analyzeWithRetry issues the batched multimodal call once, and on a
// malformed structured response retries exactly once with a stricter
// question set before giving up.
func (a *Agent) analyzeWithRetry(ctx context.Context, state *turn.State, questions []string) (*vision.Response, error) {
	req := vision.Request{
		ImageData: state.Image.Data,
		MimeType:  state.Image.MimeType,
		UserText:  state.UserInput,
		Questions: questions,
	}
	resp, err := a.provider.Analyze(ctx, req)
	if err == nil {
		return resp, nil
	}

	stricter := req
	stricter.Questions = questions[:min(len(questions), 3)]
	return a.provider.Analyze(ctx, stricter)
}

// focusedQuestions derives a bounded question set from the symptom text,
// so the analyzer asks about what the patient actually mentioned rather
// than a fixed checklist.
func focusedQuestions(userText string) []string {
	base := []string{
		"What is the primary visual finding in this image?",
		"Are there signs of inflammation, discoloration, or swelling?",
		"Is there any visible bleeding, discharge, or lesion border irregularity?",
	}
	lower := strings.ToLower(userText)
	if strings.Contains(lower, "itch") || strings.Contains(lower, "ngứa") {
		base = append(base, "Does the affected area show signs consistent with an itchy rash?")
	}
	if strings.Contains(lower, "pain") || strings.Contains(lower, "đau") {
		base = append(base, "Does the visual appearance suggest an area that would be tender to touch?")
	}
	if len(base) > maxQuestions {
		base = base[:maxQuestions]
	}
	return base
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
