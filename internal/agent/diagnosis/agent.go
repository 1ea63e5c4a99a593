// Package diagnosis produces ranked differential-diagnosis hypotheses from
// structured symptoms, with a bounded self-revision retry folded directly
// into Run rather than split out as a separate step.
package diagnosis

import (
	"context"
	"sort"
	"strings"

	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/turn"
)

var schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"hypotheses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"hypothesis":  map[string]any{"type": "string"},
					"rationale":   map[string]any{"type": "string"},
					"probability": map[string]any{"type": "number"},
					"red_flag":    map[string]any{"type": "boolean"},
				},
				"required": []string{"hypothesis", "probability"},
			},
		},
	},
	"required": []string{"hypotheses"},
}

type extracted struct {
	Hypotheses []struct {
		Hypothesis  string  `json:"hypothesis"`
		Rationale   string  `json:"rationale"`
		Probability float64 `json:"probability"`
		RedFlag     bool    `json:"red_flag"`
	} `json:"hypotheses"`
}

// emergencyPatterns are curated bilingual red-flag terms grouped by
// emergency; a group matches when two or more of its terms appear in the
// text, so a symptom combination rather than a lone word selects its label.
var emergencyPatterns = []struct {
	terms []string
	label string
}{
	{[]string{"chest pain", "radiating", "arm", "đau ngực", "lan ra cánh tay", "lan ra tay"}, "acute coronary syndrome"},
	{[]string{"can't breathe", "cannot breathe", "không thở được", "khó thở"}, "respiratory failure"},
	{[]string{"stroke", "đột quỵ", "slurred speech", "nói ngọng", "face droop", "méo miệng"}, "acute stroke"},
	{[]string{"anaphylaxis", "sốc phản vệ", "throat swelling", "sưng họng"}, "anaphylaxis"},
	{[]string{"severe bleeding", "chảy máu nhiều", "unconscious", "hôn mê", "bất tỉnh"}, "hemorrhage/loss of consciousness"},
}

const maxRevisions = 2

type Agent struct {
	provider  llm.Provider
	maxHyp    int
}

func NewAgent(provider llm.Provider, maxHyp int) *Agent {
	return &Agent{provider: provider, maxHyp: maxHyp}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	var result []turn.DiagnosisHypothesis
	var err error

	for attempt := 0; attempt <= maxRevisions; attempt++ {
		result, err = a.generate(ctx, state, attempt)
		if err == nil && len(result) > 0 {
			break
		}
		state.RevisionCount++
	}

	result = applyRedFlags(result, state)
	result = dedupeAndSort(result, a.maxHyp)
	state.Diagnosis = result

	if state.HasRedFlag() {
		state.Intent = turn.IntentEmergency
	}

	state.AppendTransition("diagnosis_engine", state.UserInput, summarize(result), "")
	return nil
}

func (a *Agent) generate(ctx context.Context, state *turn.State, attempt int) ([]turn.DiagnosisHypothesis, error) {
	if a.provider == nil {
		return heuristicDiagnose(state), nil
	}

	var out extracted
	prompt := buildPrompt(state, attempt)
	err := llm.Structured(ctx, a.provider, prompt, schema, &out, func(raw string) error {
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]turn.DiagnosisHypothesis, 0, len(out.Hypotheses))
	for _, h := range out.Hypotheses {
		if strings.TrimSpace(h.Hypothesis) == "" {
			continue
		}
		result = append(result, turn.DiagnosisHypothesis{
			Hypothesis:  h.Hypothesis,
			Rationale:   h.Rationale,
			Probability: h.Probability,
			RedFlag:     h.RedFlag,
		})
	}
	return result, nil
}

func buildPrompt(state *turn.State, attempt int) string {
	var sb strings.Builder
	sb.WriteString("You are a clinical differential-diagnosis assistant, not a doctor. Given the structured ")
	sb.WriteString("symptoms and optional image analysis below, produce up to 5 ranked hypotheses with ")
	sb.WriteString("rationale and probability in [0,1]. Probabilities need not sum to 1 (residual is ")
	sb.WriteString("'other/insufficient'). Flag red_flag=true only for hypotheses matching a medical emergency.\n\n")
	for _, s := range state.Symptoms {
		sb.WriteString("- " + s.Name)
		if s.Duration != "" {
			sb.WriteString(" (duration: " + s.Duration + ")")
		}
		if s.Severity != "" {
			sb.WriteString(" (severity: " + string(s.Severity) + ")")
		}
		sb.WriteString("\n")
	}
	if state.ImageAnalysis != nil {
		sb.WriteString("Image finding: " + state.ImageAnalysis.Description + "\n")
	}
	if attempt > 0 {
		sb.WriteString("\nPrevious attempt produced no usable hypotheses; be more concrete and always include at least one hypothesis, even if low confidence.\n")
	}
	return sb.String()
}

// applyRedFlags is a deterministic backstop over the LLM's own red_flag
// tagging: any hypothesis whose text, or the symptom text it was derived
// from, matches a curated emergency pattern is force-flagged.
func applyRedFlags(hyps []turn.DiagnosisHypothesis, state *turn.State) []turn.DiagnosisHypothesis {
	haystack := strings.ToLower(state.UserInput)
	if state.ImageAnalysis != nil {
		haystack += " " + strings.ToLower(state.ImageAnalysis.Description)
	}
	for _, s := range state.Symptoms {
		haystack += " " + strings.ToLower(s.Name)
	}

	matched := matchesEmergency(haystack)
	if matched == "" {
		return hyps
	}
	if len(hyps) == 0 {
		hyps = append(hyps, turn.DiagnosisHypothesis{Hypothesis: matched, Rationale: "Matched a curated emergency pattern.", Probability: 0.9})
	}
	for i := range hyps {
		hyps[i].RedFlag = true
	}
	return hyps
}

// heuristicDiagnose is the deterministic fallback used when no model is
// configured: a generic, low-confidence hypothesis per reported symptom.
// applyRedFlags still runs against the result, so a curated emergency match
// is never lost just because no model was available to generate hypotheses.
func heuristicDiagnose(state *turn.State) []turn.DiagnosisHypothesis {
	out := make([]turn.DiagnosisHypothesis, 0, len(state.Symptoms))
	for _, s := range state.Symptoms {
		out = append(out, turn.DiagnosisHypothesis{
			Hypothesis:  "possible cause of " + s.Name,
			Rationale:   "Heuristic fallback: no model configured to generate a differential.",
			Probability: 0.3,
		})
	}
	return out
}

func matchesEmergency(haystack string) string {
	for _, p := range emergencyPatterns {
		hit := 0
		for _, term := range p.terms {
			if strings.Contains(haystack, term) {
				hit++
			}
		}
		if hit >= 2 {
			return p.label
		}
	}
	return ""
}

// dedupeAndSort caps the list at maxHyp, sorted by probability descending
// and alphabetically on ties for a deterministic ordering.
func dedupeAndSort(hyps []turn.DiagnosisHypothesis, maxHyp int) []turn.DiagnosisHypothesis {
	seen := map[string]bool{}
	var out []turn.DiagnosisHypothesis
	for _, h := range hyps {
		key := strings.ToLower(h.Hypothesis)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Hypothesis < out[j].Hypothesis
	})
	if maxHyp > 0 && len(out) > maxHyp {
		out = out[:maxHyp]
	}
	return out
}

func summarize(hyps []turn.DiagnosisHypothesis) string {
	names := make([]string, len(hyps))
	for i, h := range hyps {
		names[i] = h.Hypothesis
	}
	return strings.Join(names, "; ")
}
