// Package supervisor implements the stateless routing policy: given the
// current turn state, decide which agent runs next or that the turn should
// terminate. It never mutates state itself beyond intent classification and
// plan bookkeeping; the chosen agent does the rest.
package supervisor

import (
	"context"
	"strings"

	"medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/turn"
)

// Decision is the Supervisor's output for one turn-loop iteration.
type Decision struct {
	NextAgent string
	Reasoning string
}

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent": map[string]any{"type": "string"},
	},
	"required": []string{"intent"},
}

type intentResult struct {
	Intent string `json:"intent"`
}

var knownIntents = map[string]turn.Intent{
	"faq":            turn.IntentFAQ,
	"appointment":    turn.IntentAppointment,
	"symptoms":       turn.IntentSymptoms,
	"image_analysis": turn.IntentImageAnalysis,
	"emergency":      turn.IntentEmergency,
	"out_of_scope":   turn.IntentOutOfScope,
	"unknown":        turn.IntentUnknown,
}

type Supervisor struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Supervisor {
	return &Supervisor{provider: provider}
}

// Decide applies the priority-ordered policy: the first matching rule wins.
func (s *Supervisor) Decide(ctx context.Context, state *turn.State) Decision {
	if state.Intent == "" {
		intent, reasoning := s.classifyIntent(ctx, state)
		state.Intent = intent
		state.SetPlanCurrent(string(intent))
		return Decision{NextAgent: firstStepFor(intent, state), Reasoning: reasoning}
	}

	if state.Intent == turn.IntentEmergency {
		state.SetPlanCurrent(agent.Terminate)
		return Decision{NextAgent: agent.Terminate, Reasoning: "Emergency intent: terminating for guardrail redirect"}
	}

	if state.Intent == turn.IntentFAQ && !hasUnresolvedDiagnosticContext(state) {
		if !hasRun(state, agent.NameConversation) {
			state.SetPlanCurrent(agent.NameConversation)
			return Decision{NextAgent: agent.NameConversation, Reasoning: "FAQ intent with no diagnostic context in progress"}
		}
		state.SetPlanCurrent(agent.Terminate)
		return Decision{NextAgent: agent.Terminate, Reasoning: "FAQ answered"}
	}

	if state.Intent == turn.IntentAppointment {
		if !hasRun(state, agent.NameAppointment) {
			state.SetPlanCurrent(agent.NameAppointment)
			return Decision{NextAgent: agent.NameAppointment, Reasoning: "Appointment intent"}
		}
		state.SetPlanCurrent(agent.Terminate)
		return Decision{NextAgent: agent.Terminate, Reasoning: "Appointment handled"}
	}

	if state.Image != nil && state.ImageAnalysis == nil {
		state.SetPlanCurrent(agent.NameImageAnalyzer)
		return Decision{NextAgent: agent.NameImageAnalyzer, Reasoning: "Image present, not yet analyzed"}
	}

	if len(state.Symptoms) == 0 && (nonTrivial(state.UserInput) || state.ImageAnalysis != nil) {
		state.SetPlanCurrent(agent.NameSymptomExtract)
		return Decision{NextAgent: agent.NameSymptomExtract, Reasoning: "No symptoms extracted yet"}
	}

	if len(state.Diagnosis) == 0 {
		state.SetPlanCurrent(agent.NameDiagnosis)
		return Decision{NextAgent: agent.NameDiagnosis, Reasoning: "No diagnosis yet"}
	}

	top := state.TopHypothesis()
	if len(state.Investigations) == 0 && top != nil && top.Probability < 0.7 {
		state.SetPlanCurrent(agent.NameInvestigation)
		return Decision{NextAgent: agent.NameInvestigation, Reasoning: "Top hypothesis below confidence threshold"}
	}

	if len(state.Evidence) == 0 {
		state.SetPlanCurrent(agent.NameRetriever)
		return Decision{NextAgent: agent.NameRetriever, Reasoning: "No supporting evidence retrieved yet"}
	}

	if state.FinalResponse == "" {
		state.SetPlanCurrent(agent.NameRecommender)
		return Decision{NextAgent: agent.NameRecommender, Reasoning: "Composing final response"}
	}

	state.SetPlanCurrent(agent.Terminate)
	return Decision{NextAgent: agent.Terminate, Reasoning: "Turn complete"}
}

func firstStepFor(intent turn.Intent, state *turn.State) string {
	switch intent {
	case turn.IntentEmergency:
		return agent.Terminate
	case turn.IntentFAQ:
		return agent.NameConversation
	case turn.IntentAppointment:
		return agent.NameAppointment
	case turn.IntentImageAnalysis:
		return agent.NameImageAnalyzer
	default:
		if state.Image != nil {
			return agent.NameImageAnalyzer
		}
		return agent.NameSymptomExtract
	}
}

func hasUnresolvedDiagnosticContext(state *turn.State) bool {
	return len(state.Symptoms) > 0 && len(state.Diagnosis) == 0
}

func hasRun(state *turn.State, name string) bool {
	for _, t := range state.Messages {
		if t.Agent == name {
			return true
		}
	}
	return false
}

func nonTrivial(text string) bool {
	return len(strings.TrimSpace(text)) >= 3
}

// classifyIntent runs the model classification, falling back to a keyword
// heuristic if the structured pipeline doesn't return one of the known
// intents.
func (s *Supervisor) classifyIntent(ctx context.Context, state *turn.State) (turn.Intent, string) {
	if s.provider == nil {
		return fallbackClassify(state), "Heuristic classification (no model configured)"
	}

	var history strings.Builder
	for _, m := range state.RecentHistory(3) {
		history.WriteString(string(m.Role))
		history.WriteString(": ")
		history.WriteString(m.Text)
		history.WriteString("\n")
	}

	prompt := "Classify the intent of this medical clinic assistant turn into exactly one of: " +
		"faq, appointment, symptoms, image_analysis, emergency, out_of_scope, unknown.\n\n" +
		"Recent history:\n" + history.String() +
		"\nImage provided: " + boolWord(state.Image != nil) +
		"\nMessage: " + state.UserInput +
		"\n\nRespond with JSON: {\"intent\": \"...\"}"

	var out intentResult
	err := llm.Structured(ctx, s.provider, prompt, intentSchema, &out, func(raw string) error {
		out.Intent = string(fallbackClassify(state))
		return nil
	})
	if err != nil {
		return fallbackClassify(state), "Heuristic classification (model call failed)"
	}
	if intent, ok := knownIntents[out.Intent]; ok {
		return intent, "Model-classified intent"
	}
	return fallbackClassify(state), "Heuristic classification (unrecognized model intent)"
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var emergencyWords = []string{
	"emergency", "cấp cứu", "911", "115", "heart attack", "đột quỵ", "stroke",
	"can't breathe", "không thở", "unconscious", "hôn mê",
}

var appointmentWords = []string{
	"appointment", "book", "schedule", "đặt hẹn", "lịch hẹn", "đặt lịch",
}

var faqWords = []string{
	"hours", "giờ mở cửa", "address", "địa chỉ", "phone", "số điện thoại", "open",
}

func fallbackClassify(state *turn.State) turn.Intent {
	lower := strings.ToLower(state.UserInput)
	switch {
	case containsAny(lower, emergencyWords):
		return turn.IntentEmergency
	case containsAny(lower, appointmentWords):
		return turn.IntentAppointment
	case state.Image != nil:
		return turn.IntentImageAnalysis
	case containsAny(lower, faqWords):
		return turn.IntentFAQ
	case nonTrivial(state.UserInput):
		return turn.IntentSymptoms
	default:
		return turn.IntentUnknown
	}
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
