// Package advanced implements the full risk-profiling guardrail tier:
// layered input validation (fast checks, PII/compliance pattern matching,
// adversarial-prompt detection, model-backed semantic analysis, then risk
// scoring), layered output validation (fast checks, medical-compliance
// patterns, model-backed quality assessment), per-user risk profiles, and
// an incident log that can be exported as a compliance report.
package advanced

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/llm"
)

const (
	recentWarningWindow = 24 * time.Hour
	qualityBlockDefault  = 0.4
)

var piiPatterns = map[string]*regexp.Regexp{
	"phone":       regexp.MustCompile(`\b(0|\+84)\d{9,10}\b`),
	"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
	"id_number":   regexp.MustCompile(`\b\d{9}|\d{12}\b`),
	"address":     regexp.MustCompile(`(?i)\b\d+\s+[A-Za-zÀ-ỹ\s]+\s(street|st\.|road|rd\.|đường|phố)\b`),
}

var adversarialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|above) instructions`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)disregard (your|all) (rules|guidelines)`),
	regexp.MustCompile(`(?i)pretend (you are|to be)`),
	regexp.MustCompile(`(?i)bỏ qua (các )?hướng dẫn`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)DAN mode`),
}

var diagnosisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you (definitely |certainly )?have\s+\w+`),
	regexp.MustCompile(`(?i)your diagnosis is`),
	regexp.MustCompile(`(?i)bạn chắc chắn bị`),
}

var prescriptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btake\s+\d+\s?(mg|mcg|ml|g)\b`),
	regexp.MustCompile(`(?i)uống \d+\s?(mg|viên)`),
}

var safePhraseExceptions = []string{
	"consult your doctor", "talk to a healthcare", "a doctor can confirm",
	"bác sĩ sẽ xác nhận", "không thể thay thế bác sĩ",
}

var qualitySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"coherence":      map[string]any{"type": "number"},
		"helpfulness":    map[string]any{"type": "number"},
		"safety":         map[string]any{"type": "number"},
		"professionalism": map[string]any{"type": "number"},
	},
}

type qualityScores struct {
	Coherence       float64 `json:"coherence"`
	Helpfulness     float64 `json:"helpfulness"`
	Safety          float64 `json:"safety"`
	Professionalism float64 `json:"professionalism"`
}

func (q qualityScores) overall() float64 {
	return (q.Coherence + q.Helpfulness + q.Safety + q.Professionalism) / 4
}

var semanticSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"risk_level": map[string]any{"type": "string"},
		"reason":     map[string]any{"type": "string"},
	},
}

type semanticAssessment struct {
	RiskLevel string `json:"risk_level"`
	Reason    string `json:"reason"`
}

type Guardrail struct {
	provider llm.Provider

	mu        sync.Mutex
	profiles  map[string]*guardrail.UserRiskProfile
	incidents []guardrail.Incident

	qualityBlockThreshold float64
}

func New(provider llm.Provider, qualityBlockThreshold float64) *Guardrail {
	if qualityBlockThreshold <= 0 {
		qualityBlockThreshold = qualityBlockDefault
	}
	return &Guardrail{
		provider:              provider,
		profiles:              make(map[string]*guardrail.UserRiskProfile),
		qualityBlockThreshold: qualityBlockThreshold,
	}
}

func (g *Guardrail) profileFor(userID string) *guardrail.UserRiskProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[userID]
	if !ok {
		p = &guardrail.UserRiskProfile{UserID: userID, CreatedAt: time.Now()}
		g.profiles[userID] = p
	}
	return p
}

func (g *Guardrail) CheckInput(ctx context.Context, userID, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	profile := g.profileFor(userID)
	g.mu.Lock()
	profile.LastActivity = time.Now()
	g.mu.Unlock()

	// Layer 1: fast heuristic checks.
	if res := fastInputChecks(userInput); res != nil {
		g.recordIncident(userID, *res)
		return *res
	}

	// Layer 2: PII / compliance pattern detection.
	if res, violations := piiCheck(userInput); res != nil {
		res.ComplianceViolations = violations
		g.recordIncident(userID, *res)
		return *res
	}

	// Layer 3: adversarial / prompt-injection detection.
	if res := adversarialCheck(userInput); res != nil {
		g.bumpViolation(profile, "adversarial_prompt")
		g.recordIncident(userID, *res)
		return *res
	}

	// Layer 4: model-backed semantic analysis.
	assessment := g.semanticAnalysis(ctx, userInput, history)

	// Layer 5: risk scoring combining history, length, and the assessment.
	risk := g.scoreRisk(profile, userInput, assessment)

	result := guardrail.Result{
		Passed:     risk != guardrail.RiskCritical,
		Reason:     assessment.Reason,
		Action:     guardrail.ActionAllow,
		Severity:   guardrail.SeverityInfo,
		RiskLevel:  risk,
		Confidence: 0.7,
	}
	if !result.Passed {
		result.Action = guardrail.ActionBlock
		result.ModifiedContent = "Sorry, I can't process that message right now. Please rephrase or contact support."
		result.Severity = guardrail.SeverityCritical
		g.recordIncident(userID, result)
	} else if risk == guardrail.RiskHigh {
		result.Action = guardrail.ActionWarn
		result.Severity = guardrail.SeverityWarning
	}
	return result
}

func (g *Guardrail) CheckOutput(ctx context.Context, userID, botResponse, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	// Layer 1: fast safety checks.
	if res := fastOutputChecks(botResponse); res != nil {
		g.recordIncident(userID, *res)
		return *res
	}

	// Layer 2: medical compliance patterns.
	if res := medicalComplianceCheck(botResponse); res != nil {
		g.recordIncident(userID, *res)
		return *res
	}

	// Layer 3: model-backed quality assessment.
	scores := g.qualityAssessment(ctx, botResponse, userInput)
	overall := scores.overall()
	if overall < g.qualityBlockThreshold {
		result := guardrail.Result{
			Passed:     false,
			Reason:     "Response quality below threshold",
			Action:     guardrail.ActionBlock,
			ModifiedContent: "Sorry, I need to reconsider that response. Could you rephrase your question?",
			Severity:   guardrail.SeverityWarning,
			Confidence: overall,
		}
		g.recordIncident(userID, result)
		return result
	}

	return guardrail.Result{Passed: true, Reason: "Output validation passed", Action: guardrail.ActionAllow, Severity: guardrail.SeverityInfo, Confidence: overall}
}

func (g *Guardrail) Stats() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]any{
		"type":            "advanced",
		"tracked_users":   len(g.profiles),
		"total_incidents": len(g.incidents),
	}
}

// ExportComplianceReport groups logged incidents by type and severity over
// [from, to], for handing to a compliance officer on request.
func (g *Guardrail) ExportComplianceReport(from, to time.Time) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	byType := map[string]int{}
	bySeverity := map[string]int{}
	var inRange []guardrail.Incident
	for _, inc := range g.incidents {
		if inc.Timestamp.Before(from) || inc.Timestamp.After(to) {
			continue
		}
		inRange = append(inRange, inc)
		byType[inc.IncidentType]++
		bySeverity[string(inc.Severity)]++
	}
	return map[string]any{
		"total":       len(inRange),
		"by_type":     byType,
		"by_severity": bySeverity,
		"from":        from,
		"to":          to,
	}
}

func fastInputChecks(userInput string) *guardrail.Result {
	if len(userInput) > 2000 {
		return &guardrail.Result{Passed: false, Reason: "Input too long", Action: guardrail.ActionBlock, ModifiedContent: "That message is too long.", Severity: guardrail.SeverityInfo, RiskLevel: guardrail.RiskLow}
	}
	if len(strings.TrimSpace(userInput)) < 2 {
		return &guardrail.Result{Passed: false, Reason: "Input too short", Action: guardrail.ActionBlock, ModifiedContent: "Please enter a message with some content.", Severity: guardrail.SeverityInfo, RiskLevel: guardrail.RiskLow}
	}
	return nil
}

func fastOutputChecks(botResponse string) *guardrail.Result {
	if len(strings.TrimSpace(botResponse)) < 10 {
		return &guardrail.Result{Passed: false, Reason: "Response too short", Action: guardrail.ActionBlock, ModifiedContent: "Sorry, something went wrong. Please try again.", Severity: guardrail.SeverityWarning, RiskLevel: guardrail.RiskLow}
	}
	return nil
}

func piiCheck(userInput string) (*guardrail.Result, []string) {
	var violations []string
	for name, p := range piiPatterns {
		if p.MatchString(userInput) {
			violations = append(violations, name)
		}
	}
	if len(violations) == 0 {
		return nil, nil
	}
	return &guardrail.Result{
		Passed:     true,
		Reason:     "Personal data pattern detected in input",
		Action:     guardrail.ActionWarn,
		Severity:   guardrail.SeverityWarning,
		RiskLevel:  guardrail.RiskMedium,
	}, violations
}

func adversarialCheck(userInput string) *guardrail.Result {
	for _, p := range adversarialPatterns {
		if p.MatchString(userInput) {
			return &guardrail.Result{
				Passed:     false,
				Reason:     "Prompt injection pattern detected",
				Action:     guardrail.ActionBlock,
				ModifiedContent: "Sorry, I can't process that message.",
				Severity:   guardrail.SeverityCritical,
				RiskLevel:  guardrail.RiskHigh,
			}
		}
	}
	return nil
}

func medicalComplianceCheck(botResponse string) *guardrail.Result {
	if hasSafeException(botResponse) {
		return nil
	}
	for _, p := range diagnosisPatterns {
		if p.MatchString(botResponse) {
			return &guardrail.Result{
				Passed:               false,
				Reason:               "Unverified diagnosis language in response",
				Action:               guardrail.ActionBlock,
				ModifiedContent:      "Sorry, I can't give a diagnosis. Please book an appointment with a doctor.",
				Severity:             guardrail.SeverityCritical,
				RiskLevel:            guardrail.RiskHigh,
				ComplianceViolations: []string{"medical_ethics"},
			}
		}
	}
	for _, p := range prescriptionPatterns {
		if p.MatchString(botResponse) {
			return &guardrail.Result{
				Passed:               false,
				Reason:               "Specific dosage instruction in response",
				Action:               guardrail.ActionBlock,
				ModifiedContent:      "Sorry, I can't prescribe medication or give dosage instructions. Please consult a doctor.",
				Severity:             guardrail.SeverityCritical,
				RiskLevel:            guardrail.RiskHigh,
				ComplianceViolations: []string{"medical_ethics"},
			}
		}
	}
	return nil
}

func hasSafeException(botResponse string) bool {
	lower := strings.ToLower(botResponse)
	for _, phrase := range safePhraseExceptions {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (g *Guardrail) semanticAnalysis(ctx context.Context, userInput string, history []guardrail.HistoryEntry) semanticAssessment {
	if g.provider == nil {
		return semanticAssessment{RiskLevel: "low"}
	}
	var histLines strings.Builder
	for _, h := range history {
		histLines.WriteString(h.Role + ": " + h.Text + "\n")
	}
	prompt := "Assess the risk level of this user message for a medical clinic assistant. " +
		"Respond with JSON: {\"risk_level\": \"safe|low|medium|high|critical\", \"reason\": \"...\"}.\n\n" +
		"Conversation:\n" + histLines.String() + "\nMessage: " + userInput

	var out semanticAssessment
	err := llm.Structured(ctx, g.provider, prompt, semanticSchema, &out, func(raw string) error {
		out = semanticAssessment{RiskLevel: "low", Reason: "fallback: model assessment unavailable"}
		return nil
	})
	if err != nil || out.RiskLevel == "" {
		return semanticAssessment{RiskLevel: "low", Reason: "fallback: model assessment unavailable"}
	}
	return out
}

func (g *Guardrail) qualityAssessment(ctx context.Context, botResponse, userInput string) qualityScores {
	if g.provider == nil {
		return qualityScores{Coherence: 0.8, Helpfulness: 0.8, Safety: 0.8, Professionalism: 0.8}
	}
	prompt := "Rate this assistant response on coherence, helpfulness, safety, and professionalism, each from 0.0 to 1.0.\n\n" +
		"User message: " + userInput + "\nAssistant response: " + botResponse +
		"\n\nRespond with JSON: {\"coherence\": 0.0, \"helpfulness\": 0.0, \"safety\": 0.0, \"professionalism\": 0.0}"

	var out qualityScores
	err := llm.Structured(ctx, g.provider, prompt, qualitySchema, &out, func(raw string) error {
		out = qualityScores{Coherence: 0.8, Helpfulness: 0.8, Safety: 0.8, Professionalism: 0.8}
		return nil
	})
	if err != nil {
		return qualityScores{Coherence: 0.8, Helpfulness: 0.8, Safety: 0.8, Professionalism: 0.8}
	}
	return out
}

func (g *Guardrail) scoreRisk(profile *guardrail.UserRiskProfile, userInput string, assessment semanticAssessment) guardrail.RiskLevel {
	g.mu.Lock()
	defer g.mu.Unlock()

	score := profile.RiskScore
	switch assessment.RiskLevel {
	case "critical":
		score += 0.5
	case "high":
		score += 0.3
	case "medium":
		score += 0.1
	}
	score += float64(profile.ViolationCount) * 0.05

	recentWarnings := 0
	cutoff := time.Now().Add(-recentWarningWindow)
	for _, w := range profile.Warnings {
		if w.Timestamp.After(cutoff) {
			recentWarnings++
		}
	}
	score += float64(recentWarnings) * 0.05

	if len(userInput) > 1500 {
		score += 0.05
	}

	if score > 1 {
		score = 1
	}
	profile.RiskScore = score

	switch {
	case assessment.RiskLevel == "critical" || score >= 0.8:
		return guardrail.RiskCritical
	case assessment.RiskLevel == "high" || score >= 0.6:
		return guardrail.RiskHigh
	case assessment.RiskLevel == "medium" || score >= 0.3:
		return guardrail.RiskMedium
	case assessment.RiskLevel == "low" || score > 0:
		return guardrail.RiskLow
	default:
		return guardrail.RiskSafe
	}
}

func (g *Guardrail) bumpViolation(profile *guardrail.UserRiskProfile, pattern string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	profile.ViolationCount++
	profile.SuspiciousPatterns = append(profile.SuspiciousPatterns, pattern)
	profile.Warnings = append(profile.Warnings, guardrail.Warning{Type: pattern, Timestamp: time.Now()})
}

func (g *Guardrail) recordIncident(userID string, result guardrail.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if result.Passed && result.Action == guardrail.ActionAllow {
		return
	}
	if profile, ok := g.profiles[userID]; ok && result.Action == guardrail.ActionBlock {
		profile.BlockedCount++
	}
	g.incidents = append(g.incidents, guardrail.Incident{
		Timestamp:            time.Now(),
		UserIDHash:           hashUserID(userID),
		IncidentType:         string(result.Action),
		Severity:             result.Severity,
		RiskLevel:            result.RiskLevel,
		Reason:               result.Reason,
		ComplianceViolations: result.ComplianceViolations,
	})
}

func hashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
