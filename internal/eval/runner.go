// Package eval drives the dataset-driven evaluation harness: replay a set
// of scripted conversations through core.Engine.Chat, score each case
// against formal/accuracy/fidelity/latency/qualitative metrics, and produce
// a pass/fail report, grounded on the original runner/evaluator/metrics
// split (dataset -> runner -> metrics -> report).
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"medical-ai-agent/internal/core"
	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/telemetry"
	"medical-ai-agent/internal/turn"
)

// Case is one dataset entry. Input accepts either a single string or a
// list of strings (multi-turn), matching the dataset's on-disk shape.
type Case struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	Description       string   `json:"description"`
	Input             rawInput `json:"input"`
	ExpectedDiagnosis []string `json:"expected_diagnosis"`
	RequiredPhrases   []string `json:"required_phrases"`
	ExpectedBehavior  string   `json:"expected_behavior"`
}

type rawInput []string

func (r *rawInput) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = []string{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("eval: input must be a string or list of strings: %w", err)
	}
	*r = multi
	return nil
}

// LoadDataset reads a JSON array of Case entries from path.
func LoadDataset(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read dataset: %w", err)
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("eval: parse dataset: %w", err)
	}
	return cases, nil
}

// TurnResult is one turn's scored outcome within a case.
type TurnResult struct {
	Turn         int                `json:"turn"`
	Input        string             `json:"input"`
	Response     string             `json:"response"`
	SecondsTaken float64            `json:"seconds_taken"`
	Formal       float64            `json:"formal"`
	Accuracy     float64            `json:"accuracy"`
	Fidelity     float64            `json:"fidelity"`
	Qualitative  map[string]float64 `json:"qualitative,omitempty"`
	Errored      bool               `json:"errored"`
}

// CaseResult aggregates a case's turns into the numbers the run-level
// report rolls up.
type CaseResult struct {
	ID             string       `json:"id"`
	Type           string       `json:"type"`
	Input          []string     `json:"input"`
	LastResponse   string       `json:"last_response"`
	AvgSeconds     float64      `json:"avg_seconds"`
	TotalSeconds   float64      `json:"total_seconds"`
	MaxSeconds     float64      `json:"max_seconds"`
	LatencyStatus  string       `json:"latency_status"`
	Formal         float64      `json:"formal_verification"`
	Accuracy       float64      `json:"accuracy"`
	RuleFidelity   float64      `json:"rule_fidelity"`
	Qualitative    map[string]float64 `json:"qualitative,omitempty"`
	Turns          []TurnResult `json:"turns"`
}

// Report is the run-level verdict, written as JSON at --output.
type Report struct {
	GeneratedAt      time.Time               `json:"generated_at"`
	TotalCases       int                     `json:"total_cases"`
	OverallPass      bool                    `json:"overall_pass"`
	Passed           []string                `json:"passed_criteria"`
	Failed           []string                `json:"failed_criteria"`
	AvgAccuracy      float64                 `json:"avg_accuracy"`
	AvgRuleFidelity  float64                 `json:"avg_rule_fidelity"`
	AvgQualitative   float64                 `json:"avg_qualitative"`
	QualitativeAvgs  map[string]float64      `json:"qualitative_averages"`
	AvgLatency       float64                 `json:"avg_latency_seconds"`
	P50Latency       float64                 `json:"p50_latency_seconds"`
	P95Latency       float64                 `json:"p95_latency_seconds"`
	P99Latency       float64                 `json:"p99_latency_seconds"`
	MaxLatency       float64                 `json:"max_latency_seconds"`
	ByCategory       map[string]CategoryStat `json:"by_category"`
	Cases            []CaseResult            `json:"cases"`
}

// CategoryStat is the per-category rollup in the final report.
type CategoryStat struct {
	Count        int     `json:"count"`
	Accuracy     float64 `json:"accuracy"`
	RuleFidelity float64 `json:"rule_fidelity"`
	AvgSeconds   float64 `json:"avg_seconds"`
}

// Judge grades a response's qualitative dimensions; nil disables grading,
// and cases then carry no qualitative scores.
type Judge interface {
	Grade(ctx context.Context, userInput, response, context string) (map[string]float64, error)
}

// llmJudge wraps an llm.Provider behind the Judge interface using the same
// structured-extraction pipeline the supervisor and agents use.
type llmJudge struct {
	provider llm.Provider
}

// NewLLMJudge builds a Judge backed by a chat-completion provider.
func NewLLMJudge(provider llm.Provider) Judge {
	return &llmJudge{provider: provider}
}

var qualitativeSchema = func() map[string]any {
	props := map[string]any{}
	required := make([]string, 0, len(QualitativeCriteria))
	for _, c := range QualitativeCriteria {
		props[c] = map[string]any{"type": "number"}
		required = append(required, c)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}()

func (j *llmJudge) Grade(ctx context.Context, userInput, response, ctxDesc string) (map[string]float64, error) {
	var criteriaList strings.Builder
	for _, c := range QualitativeCriteria {
		criteriaList.WriteString("- ")
		criteriaList.WriteString(c)
		criteriaList.WriteString("\n")
	}
	prompt := fmt.Sprintf(
		"You are grading a medical triage assistant's single response on a 0.0-1.0 scale per criterion.\n"+
			"Context: %s\nUser input: %q\nAssistant response: %q\n\nCriteria:\n%s\n"+
			"Respond with JSON mapping each criterion name to a number between 0.0 and 1.0.",
		ctxDesc, userInput, response, criteriaList.String(),
	)

	out := map[string]float64{}
	err := llm.Structured(ctx, j.provider, prompt, qualitativeSchema, &out, func(raw string) error {
		for _, c := range QualitativeCriteria {
			out[c] = 0.5
		}
		return nil
	})
	if err != nil {
		defaults := map[string]float64{}
		for _, c := range QualitativeCriteria {
			defaults[c] = 0.5
		}
		return defaults, err
	}
	return out, nil
}

// Runner replays a dataset against core.Engine.Chat.
type Runner struct {
	engine *core.Engine
	judge  Judge
	log    *telemetry.Logger
}

// NewRunner builds a Runner. judge may be nil, in which case qualitative
// scoring is skipped for every turn (matching the Python harness's
// graceful-degradation default).
func NewRunner(engine *core.Engine, judge Judge, log *telemetry.Logger) *Runner {
	return &Runner{engine: engine, judge: judge, log: log}
}

// Run executes every case in the dataset sequentially (turns within a
// case are inherently ordered; cases themselves don't share state, but
// running them one at a time keeps load on shared upstreams predictable)
// and returns the aggregated report.
func (r *Runner) Run(ctx context.Context, cases []Case) Report {
	results := make([]CaseResult, 0, len(cases))
	for i, c := range cases {
		if r.log != nil {
			r.log.Info("eval: case %d/%d %s (%s)", i+1, len(cases), c.ID, c.Type)
		}
		results = append(results, r.runCase(ctx, c))
	}
	return r.buildReport(results)
}

func (r *Runner) runCase(ctx context.Context, c Case) CaseResult {
	var history []turn.Message
	turns := make([]TurnResult, 0, len(c.Input))
	sessionID := "eval-" + c.ID

	for idx, input := range c.Input {
		isLast := idx == len(c.Input)-1

		start := time.Now()
		resp, err := r.engine.Chat(ctx, core.ChatRequest{
			SessionID: sessionID,
			UserID:    sessionID,
			UserInput: input,
			History:   history,
		})
		elapsed := time.Since(start).Seconds()

		var responseText string
		errored := false
		if err != nil {
			if coreErr, ok := err.(*core.Error); ok && coreErr.Code == core.ErrBlockedByGuard && resp != nil {
				responseText = resp.Response
			} else {
				errored = true
				responseText = "SYSTEM_ERROR: " + err.Error()
			}
		} else {
			responseText = resp.Response
		}

		if resp != nil {
			history = resp.UpdatedHistory
		} else {
			history = append(history,
				turn.Message{Role: turn.RoleUser, Text: input, Timestamp: time.Now()},
				turn.Message{Role: turn.RoleAssistant, Text: responseText, Timestamp: time.Now()},
			)
		}

		formal := formalScore(responseText, errored)

		var accuracy, fidelity float64
		if isLast {
			accuracy, fidelity = scoreAccuracyFidelity(c, responseText, errored)
		} else {
			accuracy = boolScore(!errored)
			fidelity = 1.0
		}

		var qual map[string]float64
		if r.judge != nil && !errored && responseText != "" {
			ctxDesc := fmt.Sprintf("case type %s, turn %d/%d", c.Type, idx+1, len(c.Input))
			if isLast && c.ExpectedBehavior != "" {
				ctxDesc += "; expected behavior: " + c.ExpectedBehavior
			}
			graded, gradeErr := r.judge.Grade(ctx, input, responseText, ctxDesc)
			if gradeErr != nil && r.log != nil {
				r.log.Warn("eval: qualitative grading failed for case %s turn %d: %v", c.ID, idx, gradeErr)
			}
			qual = graded
		}

		turns = append(turns, TurnResult{
			Turn:         idx,
			Input:        input,
			Response:     responseText,
			SecondsTaken: elapsed,
			Formal:       formal,
			Accuracy:     accuracy,
			Fidelity:     fidelity,
			Qualitative:  qual,
			Errored:      errored,
		})
	}

	return aggregateCase(c, turns)
}

func formalScore(response string, errored bool) float64 {
	if errored || response == "" {
		return 0.0
	}
	return 1.0
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

func scoreAccuracyFidelity(c Case, response string, errored bool) (accuracy, fidelity float64) {
	lower := strings.ToLower(response)

	if len(c.ExpectedDiagnosis) == 0 {
		accuracy = boolScore(!errored)
	} else {
		for _, d := range c.ExpectedDiagnosis {
			if strings.Contains(lower, strings.ToLower(d)) {
				accuracy = 1.0
				break
			}
		}
	}

	if len(c.RequiredPhrases) == 0 {
		fidelity = 1.0
	} else {
		found := 0
		for _, p := range c.RequiredPhrases {
			if strings.Contains(lower, strings.ToLower(p)) {
				found++
			}
		}
		fidelity = float64(found) / float64(len(c.RequiredPhrases))
	}
	return accuracy, fidelity
}

func aggregateCase(c Case, turns []TurnResult) CaseResult {
	last := turns[len(turns)-1]

	var totalSeconds, maxSeconds float64
	for _, t := range turns {
		totalSeconds += t.SecondsTaken
		if t.SecondsTaken > maxSeconds {
			maxSeconds = t.SecondsTaken
		}
	}
	avgSeconds := totalSeconds / float64(len(turns))

	return CaseResult{
		ID:            c.ID,
		Type:          c.Type,
		Input:         c.Input,
		LastResponse:  last.Response,
		AvgSeconds:    avgSeconds,
		TotalSeconds:  totalSeconds,
		MaxSeconds:    maxSeconds,
		LatencyStatus: latencyStatus(avgSeconds),
		Formal:        last.Formal,
		Accuracy:      last.Accuracy,
		RuleFidelity:  last.Fidelity,
		Qualitative:   last.Qualitative,
		Turns:         turns,
	}
}

func (r *Runner) buildReport(results []CaseResult) Report {
	report := Report{
		GeneratedAt: time.Now(),
		TotalCases:  len(results),
		ByCategory:  map[string]CategoryStat{},
		Cases:       results,
	}
	if len(results) == 0 {
		return report
	}

	var sumAcc, sumFid, sumLatency float64
	latencies := make([]float64, 0, len(results))
	qualAvgs := map[string]float64{}
	qualCount := 0
	byCategory := map[string][]CaseResult{}

	for _, c := range results {
		sumAcc += c.Accuracy
		sumFid += c.RuleFidelity
		sumLatency += c.AvgSeconds
		latencies = append(latencies, c.AvgSeconds)
		byCategory[c.Type] = append(byCategory[c.Type], c)
		if len(c.Qualitative) > 0 {
			qualCount++
			for _, k := range QualitativeCriteria {
				qualAvgs[k] += c.Qualitative[k]
			}
		}
	}

	n := float64(len(results))
	report.AvgAccuracy = sumAcc / n
	report.AvgRuleFidelity = sumFid / n
	report.AvgLatency = sumLatency / n

	if qualCount > 0 {
		for k := range qualAvgs {
			qualAvgs[k] /= float64(qualCount)
		}
	}
	report.QualitativeAvgs = qualAvgs
	if len(QualitativeCriteria) > 0 {
		var sum float64
		for _, k := range QualitativeCriteria {
			sum += qualAvgs[k]
		}
		report.AvgQualitative = sum / float64(len(QualitativeCriteria))
	}

	sort.Float64s(latencies)
	report.P50Latency = percentile(latencies, 0.50)
	report.P95Latency = percentile(latencies, 0.95)
	report.P99Latency = percentile(latencies, 0.99)
	report.MaxLatency = latencies[len(latencies)-1]

	for cat, rs := range byCategory {
		var acc, fid, lat float64
		for _, c := range rs {
			acc += c.Accuracy
			fid += c.RuleFidelity
			lat += c.AvgSeconds
		}
		count := float64(len(rs))
		report.ByCategory[cat] = CategoryStat{
			Count:        len(rs),
			Accuracy:     acc / count,
			RuleFidelity: fid / count,
			AvgSeconds:   lat / count,
		}
	}

	report.Passed, report.Failed = passFailCriteria(report)
	report.OverallPass = len(report.Failed) == 0
	return report
}

func passFailCriteria(r Report) (passed, failed []string) {
	check := func(ok bool, label string) {
		if ok {
			passed = append(passed, label)
		} else {
			failed = append(failed, label)
		}
	}
	check(r.AvgAccuracy >= PassFailCriteria.MinAccuracy, fmt.Sprintf("accuracy (%.1f%%)", r.AvgAccuracy*100))
	check(r.AvgRuleFidelity >= PassFailCriteria.MinRuleFidelity, fmt.Sprintf("rule fidelity (%.1f%%)", r.AvgRuleFidelity*100))
	check(r.AvgQualitative >= PassFailCriteria.MinQualitative, fmt.Sprintf("qualitative (%.1f%%)", r.AvgQualitative*100))
	check(r.AvgLatency <= PassFailCriteria.MaxAvgLatency, fmt.Sprintf("avg latency (%.2fs)", r.AvgLatency))
	check(r.P95Latency <= PassFailCriteria.MaxP95Latency, fmt.Sprintf("p95 latency (%.2fs)", r.P95Latency))
	return passed, failed
}

// WriteReport marshals the report as indented JSON to path.
func WriteReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("eval: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("eval: write report: %w", err)
	}
	return nil
}
