// Package intermediate adds LLM-backed intent classification, per-user rate
// limiting, and repetitive-message detection on top of keyword screening. It
// is the tier-2 guardrail: heavier than simple, lighter than the full
// risk-profiling tier.
package intermediate

import (
	"context"
	"strings"
	"sync"
	"time"

	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/llm"
)

const (
	defaultRateLimitMessages = 20
	defaultRateLimitWindow   = 60 * time.Second
	repeatWindow             = 3
)

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent":     map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number"},
	},
	"required": []string{"intent"},
}

type intentResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

var validIntents = map[string]bool{
	"emergency": true, "appointment": true, "medical_advice": true,
	"general_info": true, "symptoms": true, "faq": true,
	"small_talk": true, "inappropriate": true, "sensitive": true,
}

type userContext struct {
	messageCount   int
	lastMessages   []time.Time
	recentTexts    []string
	topics         []string
	warnings       int
	suspicious     bool
}

type Guardrail struct {
	provider llm.Provider

	mu       sync.Mutex
	contexts map[string]*userContext

	rateLimitMessages int
	rateLimitWindow   time.Duration
}

func New(provider llm.Provider, rateLimitMessages int, rateLimitWindow time.Duration) *Guardrail {
	if rateLimitMessages <= 0 {
		rateLimitMessages = defaultRateLimitMessages
	}
	if rateLimitWindow <= 0 {
		rateLimitWindow = defaultRateLimitWindow
	}
	return &Guardrail{
		provider:          provider,
		contexts:          make(map[string]*userContext),
		rateLimitMessages: rateLimitMessages,
		rateLimitWindow:   rateLimitWindow,
	}
}

func (g *Guardrail) contextFor(userID string) *userContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	uc, ok := g.contexts[userID]
	if !ok {
		uc = &userContext{}
		g.contexts[userID] = uc
	}
	return uc
}

func (g *Guardrail) CheckInput(ctx context.Context, userID, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	if res := basicSafetyChecks(userInput); res != nil {
		return *res
	}

	uc := g.contextFor(userID)

	g.mu.Lock()
	now := time.Now()
	uc.messageCount++
	uc.lastMessages = append(uc.lastMessages, now)
	uc.lastMessages = trimWindow(uc.lastMessages, now, g.rateLimitWindow)
	rateCount := len(uc.lastMessages)
	uc.recentTexts = append(uc.recentTexts, userInput)
	if len(uc.recentTexts) > repeatWindow {
		uc.recentTexts = uc.recentTexts[len(uc.recentTexts)-repeatWindow:]
	}
	repetitive := isRepetitive(uc.recentTexts)
	g.mu.Unlock()

	if rateCount > g.rateLimitMessages {
		return guardrail.Result{
			Passed: false,
			Reason: "Rate limit exceeded",
			Action: guardrail.ActionBlock,
			ModifiedContent: "You're sending messages too quickly. Please wait a moment before continuing.",
			Severity: guardrail.SeverityWarning,
		}
	}

	if repetitive {
		g.mu.Lock()
		uc.warnings++
		g.mu.Unlock()
		return guardrail.Result{
			Passed: true,
			Reason: "Repetitive message pattern detected",
			Action: guardrail.ActionWarn,
			Severity: guardrail.SeverityWarning,
		}
	}

	intent := g.classifyIntent(ctx, userInput, history)

	switch intent.Intent {
	case "emergency":
		return guardrail.Result{
			Passed: true,
			Reason: "Emergency intent classified",
			Action: guardrail.ActionRedirect,
			ModifiedContent: "EMERGENCY: please call your local emergency number or go to the nearest hospital immediately.",
			Severity: guardrail.SeverityCritical,
			Confidence: intent.Confidence,
		}
	case "inappropriate":
		g.mu.Lock()
		uc.warnings++
		g.mu.Unlock()
		return guardrail.Result{
			Passed: false,
			Reason: "Inappropriate content classified",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Sorry, I can't process that message.",
			Severity: guardrail.SeverityWarning,
			Confidence: intent.Confidence,
		}
	case "sensitive":
		return guardrail.Result{
			Passed: true,
			Reason: "Sensitive topic classified",
			Action: guardrail.ActionWarn,
			Severity: guardrail.SeverityWarning,
			Confidence: intent.Confidence,
		}
	default:
		return guardrail.Result{Passed: true, Reason: "Intent: " + intent.Intent, Action: guardrail.ActionAllow, Severity: guardrail.SeverityInfo, Confidence: intent.Confidence}
	}
}

func (g *Guardrail) CheckOutput(ctx context.Context, userID, botResponse, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	if res := basicSafetyChecksOutput(botResponse); res != nil {
		return *res
	}

	if res := verifyMedicalClaims(botResponse); res != nil {
		return *res
	}

	if res := checkProfessionalBoundaries(botResponse); res != nil {
		return *res
	}

	return guardrail.Result{Passed: true, Reason: "Output validation passed", Action: guardrail.ActionAllow, Severity: guardrail.SeverityInfo}
}

func (g *Guardrail) Stats() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]any{
		"type":          "intermediate",
		"tracked_users": len(g.contexts),
	}
}

// classifyIntent asks the model to bucket the message, falling back to a
// keyword heuristic if the model call fails or returns something outside
// the known set.
func (g *Guardrail) classifyIntent(ctx context.Context, userInput string, history []guardrail.HistoryEntry) intentResult {
	if g.provider == nil {
		return fallbackIntentClassification(userInput)
	}

	var histLines strings.Builder
	for _, h := range history {
		histLines.WriteString(h.Role)
		histLines.WriteString(": ")
		histLines.WriteString(h.Text)
		histLines.WriteString("\n")
	}

	prompt := "Classify the intent of this message into exactly one of: emergency, appointment, medical_advice, general_info, symptoms, faq, small_talk, inappropriate, sensitive.\n\n" +
		"Conversation so far:\n" + histLines.String() +
		"\nMessage: " + userInput +
		"\n\nRespond with JSON: {\"intent\": \"...\", \"confidence\": 0.0-1.0}"

	var out intentResult
	err := llm.Structured(ctx, g.provider, prompt, intentSchema, &out, func(raw string) error {
		out = fallbackIntentClassification(userInput)
		return nil
	})
	if err != nil || !validIntents[out.Intent] {
		return fallbackIntentClassification(userInput)
	}
	return out
}

func fallbackIntentClassification(userInput string) intentResult {
	lower := strings.ToLower(userInput)
	switch {
	case containsAny(lower, []string{"emergency", "cấp cứu", "911", "dying", "heart attack", "đột quỵ"}):
		return intentResult{Intent: "emergency", Confidence: 0.6}
	case containsAny(lower, []string{"appointment", "đặt hẹn", "book", "schedule", "lịch hẹn"}):
		return intentResult{Intent: "appointment", Confidence: 0.5}
	case containsAny(lower, []string{"diagnose", "prescription", "chẩn đoán", "kê đơn"}):
		return intentResult{Intent: "medical_advice", Confidence: 0.5}
	case containsAny(lower, []string{"symptom", "triệu chứng", "pain", "đau", "fever", "sốt"}):
		return intentResult{Intent: "symptoms", Confidence: 0.5}
	case containsAny(lower, []string{"hours", "address", "giờ", "địa chỉ", "phone"}):
		return intentResult{Intent: "faq", Confidence: 0.5}
	case containsAny(lower, []string{"fuck", "shit", "địt", "lồn"}):
		return intentResult{Intent: "inappropriate", Confidence: 0.6}
	case containsAny(lower, []string{"password", "credit card", "ssn", "mật khẩu"}):
		return intentResult{Intent: "sensitive", Confidence: 0.5}
	default:
		return intentResult{Intent: "general_info", Confidence: 0.3}
	}
}

func basicSafetyChecks(userInput string) *guardrail.Result {
	if len(userInput) > 2000 {
		return &guardrail.Result{Passed: false, Reason: "Input too long", Action: guardrail.ActionBlock, ModifiedContent: "That message is too long.", Severity: guardrail.SeverityInfo}
	}
	if len(strings.TrimSpace(userInput)) < 2 {
		return &guardrail.Result{Passed: false, Reason: "Input too short", Action: guardrail.ActionBlock, ModifiedContent: "Please enter a message with some content.", Severity: guardrail.SeverityInfo}
	}
	return nil
}

func basicSafetyChecksOutput(botResponse string) *guardrail.Result {
	if len(strings.TrimSpace(botResponse)) < 10 {
		return &guardrail.Result{Passed: false, Reason: "Response too short", Action: guardrail.ActionBlock, ModifiedContent: "Sorry, something went wrong. Please try again.", Severity: guardrail.SeverityWarning}
	}
	return nil
}

var medicalClaimPhrases = []string{
	"you have", "you are diagnosed with", "this is definitely", "i diagnose",
	"bạn bị", "bạn chắc chắn bị", "tôi chẩn đoán",
}

func verifyMedicalClaims(botResponse string) *guardrail.Result {
	lower := strings.ToLower(botResponse)
	if containsAny(lower, medicalClaimPhrases) {
		return &guardrail.Result{
			Passed: false,
			Reason: "Unverified medical claim in response",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Sorry, I can't give a diagnosis. Please book an appointment with a doctor for professional advice.",
			Severity: guardrail.SeverityCritical,
		}
	}
	return nil
}

var boundaryViolationPhrases = []string{
	"trust me", "as your doctor", "i am your doctor", "i'm a doctor",
	"tôi là bác sĩ của bạn", "hãy tin tôi",
}

func checkProfessionalBoundaries(botResponse string) *guardrail.Result {
	lower := strings.ToLower(botResponse)
	if containsAny(lower, boundaryViolationPhrases) {
		return &guardrail.Result{
			Passed: true,
			Reason: "Professional boundary language detected",
			Action: guardrail.ActionWarn,
			Severity: guardrail.SeverityWarning,
		}
	}
	return nil
}

func isRepetitive(recent []string) bool {
	if len(recent) < repeatWindow {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(recent[0]))
	if first == "" {
		return false
	}
	for _, r := range recent[1:] {
		if strings.ToLower(strings.TrimSpace(r)) != first {
			return false
		}
	}
	return true
}

func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
