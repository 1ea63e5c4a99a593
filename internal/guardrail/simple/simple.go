// Package simple implements keyword-based input/output validation: fast,
// deterministic, bilingual. It is the tier-1 guardrail, trading nuance for
// speed.
package simple

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"medical-ai-agent/internal/guardrail"
)

var emergencyKeywords = []string{
	"cấp cứu", "khẩn cấp", "nguy kịch", "hôn mê", "đau tim",
	"đột quỵ", "không thở", "chảy máu nhiều", "tai nạn",
	"ngộ độc", "tự tử", "tự sát", "muốn chết",
	"emergency", "911", "dying", "heart attack", "stroke",
	"suicide", "can't breathe", "severe bleeding", "unconscious",
}

var medicalAdviceKeywords = []string{
	"chẩn đoán", "kê đơn", "thuốc gì", "liều lượng thuốc",
	"diagnose", "prescription", "what medicine", "drug dosage",
	"có phải bệnh", "bệnh gì", "có bị ung thư",
	"is it cancer", "what disease",
}

var sensitiveDataKeywords = []string{
	"số cmnd", "cccd", "thẻ tín dụng", "mật khẩu", "password",
	"credit card", "social security", "bank account", "tài khoản ngân hàng",
}

var profanityKeywords = []string{
	"địt", "lồn", "fuck", "shit", "damn", "ngu", "khốn", "chết tiệt",
}

var outOfScopeKeywords = []string{
	"thời tiết", "bóng đá", "chính trị", "tôn giáo",
	"weather", "football", "politics", "religion",
	"nấu ăn", "cooking", "du lịch", "travel",
}

var medicalAdvicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bạn (có thể|nên) uống thuốc`),
	regexp.MustCompile(`(?i)đây là bệnh`),
	regexp.MustCompile(`(?i)chẩn đoán của bạn là`),
	regexp.MustCompile(`(?i)you (have|might have)`),
	regexp.MustCompile(`(?i)(take|use) this (medicine|drug)`),
	regexp.MustCompile(`(?i)diagnosis is`),
}

var systemLeakageKeywords = []string{
	"system:", "assistant:", "you are a", "bạn là một ai",
	"prompt:", "instruction:", "error:", "exception:",
	"traceback", "api_key", "token",
}

var contactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{10,11}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{4}\s*\d{4}\s*\d{4}\s*\d{4}\b`),
}

type Guardrail struct {
	mu          sync.Mutex
	blockedCount int
	warnedCount  int
}

func New() *Guardrail {
	return &Guardrail{}
}

func (g *Guardrail) CheckInput(ctx context.Context, userID, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	lower := strings.ToLower(userInput)

	if containsAny(lower, emergencyKeywords) {
		return guardrail.Result{
			Passed: true,
			Reason: "Emergency detected",
			Action: guardrail.ActionRedirect,
			ModifiedContent: "EMERGENCY: please call your local emergency number or go to the nearest hospital immediately.",
			Severity: guardrail.SeverityCritical,
		}
	}

	if containsAny(lower, profanityKeywords) {
		g.mu.Lock()
		g.blockedCount++
		g.mu.Unlock()
		return guardrail.Result{
			Passed: false,
			Reason: "Inappropriate language detected",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Sorry, I can't process a message containing inappropriate language.",
			Severity: guardrail.SeverityWarning,
		}
	}

	if containsAny(lower, medicalAdviceKeywords) {
		g.mu.Lock()
		g.warnedCount++
		g.mu.Unlock()
		return guardrail.Result{
			Passed: true,
			Reason: "User is requesting a diagnosis or prescription",
			Action: guardrail.ActionWarn,
			Severity: guardrail.SeverityWarning,
		}
	}

	if containsAny(lower, sensitiveDataKeywords) {
		g.mu.Lock()
		g.warnedCount++
		g.mu.Unlock()
		return guardrail.Result{
			Passed: true,
			Reason: "Potential sensitive data detected",
			Action: guardrail.ActionWarn,
			Severity: guardrail.SeverityWarning,
		}
	}

	if containsAny(lower, outOfScopeKeywords) {
		return guardrail.Result{
			Passed: false,
			Reason: "Out of scope request",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Sorry, I can only help with medical and clinic-related questions.",
			Severity: guardrail.SeverityInfo,
		}
	}

	if len(userInput) > 2000 {
		return guardrail.Result{
			Passed: false,
			Reason: "Input too long",
			Action: guardrail.ActionBlock,
			ModifiedContent: "That message is too long. Please keep it under 2000 characters.",
			Severity: guardrail.SeverityInfo,
		}
	}
	if len(strings.TrimSpace(userInput)) < 2 {
		return guardrail.Result{
			Passed: false,
			Reason: "Input too short",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Please enter a message with some content.",
			Severity: guardrail.SeverityInfo,
		}
	}

	return guardrail.Result{Passed: true, Reason: "Input validation passed", Action: guardrail.ActionAllow, Severity: guardrail.SeverityInfo}
}

func (g *Guardrail) CheckOutput(ctx context.Context, userID, botResponse, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	lower := strings.ToLower(botResponse)

	for _, p := range medicalAdvicePatterns {
		if p.MatchString(lower) {
			return guardrail.Result{
				Passed: false,
				Reason: "Bot attempting to give medical advice",
				Action: guardrail.ActionBlock,
				ModifiedContent: "Sorry, I can't give a diagnosis or prescribe medication. Please book an appointment with a doctor for professional advice.",
				Severity: guardrail.SeverityCritical,
			}
		}
	}

	if len(strings.TrimSpace(botResponse)) < 10 {
		return guardrail.Result{
			Passed: false,
			Reason: "Response too short (possible error)",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Sorry, I ran into a problem generating a response. Please try again.",
			Severity: guardrail.SeverityWarning,
		}
	}

	if containsAny(lower, systemLeakageKeywords) {
		return guardrail.Result{
			Passed: false,
			Reason: "System information leakage detected",
			Action: guardrail.ActionBlock,
			ModifiedContent: "Sorry, something went wrong. Please try again or contact support.",
			Severity: guardrail.SeverityCritical,
		}
	}

	for _, p := range contactPatterns {
		if p.MatchString(botResponse) {
			if strings.Contains(lower, "clinic") || strings.Contains(strings.ToLower(userInput), "phòng khám") {
				continue
			}
			return guardrail.Result{
				Passed: true,
				Reason: "Unauthorized contact information disclosure",
				Action: guardrail.ActionWarn,
				Severity: guardrail.SeverityWarning,
			}
		}
	}

	return guardrail.Result{Passed: true, Reason: "Output validation passed", Action: guardrail.ActionAllow, Severity: guardrail.SeverityInfo}
}

func (g *Guardrail) Stats() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]any{
		"type":          "simple",
		"blocked_count": g.blockedCount,
		"warned_count":  g.warnedCount,
	}
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
