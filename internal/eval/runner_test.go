package eval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/appointment"
	"medical-ai-agent/internal/core"
	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/orchestrator"
	"medical-ai-agent/internal/supervisor"
	"medical-ai-agent/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawInputUnmarshalAcceptsStringOrArray(t *testing.T) {
	var single rawInput
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &single))
	assert.Equal(t, rawInput{"hello"}, single)

	var multi rawInput
	require.NoError(t, json.Unmarshal([]byte(`["hi","there"]`), &multi))
	assert.Equal(t, rawInput{"hi", "there"}, multi)

	var invalid rawInput
	assert.Error(t, invalid.UnmarshalJSON([]byte(`42`)))
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	writeJSON(t, path, []map[string]any{
		{
			"id":                 "case-1",
			"type":               "standard",
			"description":        "fever question",
			"input":              "I have a fever",
			"expected_diagnosis": []string{"flu"},
			"required_phrases":   []string{"doctor"},
		},
		{
			"id":    "case-2",
			"type":  "edge_case",
			"input": []string{"hi", "I have a headache"},
		},
	})

	cases, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "case-1", cases[0].ID)
	assert.Equal(t, []string{"I have a fever"}, []string(cases[0].Input))
	assert.Equal(t, []string{"hi", "I have a headache"}, []string(cases[1].Input))
}

func writeJSON(t *testing.T, path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFormalScoreAndBoolScore(t *testing.T) {
	assert.Equal(t, 1.0, formalScore("a response", false))
	assert.Equal(t, 0.0, formalScore("", false))
	assert.Equal(t, 0.0, formalScore("a response", true))
	assert.Equal(t, 1.0, boolScore(true))
	assert.Equal(t, 0.0, boolScore(false))
}

func TestScoreAccuracyFidelityMatchesCaseInsensitively(t *testing.T) {
	c := Case{
		ExpectedDiagnosis: []string{"Influenza"},
		RequiredPhrases:   []string{"book an appointment", "doctor"},
	}
	accuracy, fidelity := scoreAccuracyFidelity(c, "This sounds like influenza; please book an appointment with a doctor.", false)
	assert.Equal(t, 1.0, accuracy)
	assert.Equal(t, 1.0, fidelity)
}

func TestScoreAccuracyFidelityPartialPhraseMatch(t *testing.T) {
	c := Case{RequiredPhrases: []string{"book an appointment", "doctor", "emergency"}}
	_, fidelity := scoreAccuracyFidelity(c, "Please book an appointment with a doctor.", false)
	assert.InDelta(t, 2.0/3.0, fidelity, 0.001)
}

func TestScoreAccuracyFidelityNoExpectationsDefaultsToSuccess(t *testing.T) {
	c := Case{}
	accuracy, fidelity := scoreAccuracyFidelity(c, "anything", false)
	assert.Equal(t, 1.0, accuracy)
	assert.Equal(t, 1.0, fidelity)
}

// stubJudge returns a fixed score for every criterion, for deterministic
// report-building assertions.
type stubJudge struct{ score float64 }

func (j stubJudge) Grade(ctx context.Context, userInput, response, context string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, c := range QualitativeCriteria {
		out[c] = j.score
	}
	return out, nil
}

type fakeAgent struct {
	run func(ctx context.Context, state *turn.State) error
}

func (f fakeAgent) Run(ctx context.Context, state *turn.State) error { return f.run(ctx, state) }

func respondingAgent(text string) fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		state.FinalResponse = text
		return nil
	}}
}

type allowGuardrail struct{}

func (allowGuardrail) CheckInput(ctx context.Context, userID, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	return guardrail.Result{Passed: true, Action: guardrail.ActionAllow}
}
func (allowGuardrail) CheckOutput(ctx context.Context, userID, botResponse, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	return guardrail.Result{Passed: true, Action: guardrail.ActionAllow}
}
func (allowGuardrail) Stats() map[string]any { return nil }

func newTestEngine(t *testing.T, response string) *core.Engine {
	graph := orchestrator.NewGraph(orchestrator.Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail{},
		Agents: map[string]agent.Agent{
			agent.NameConversation: respondingAgent(response),
		},
		MaxSteps: 5,
	})
	store, err := knowledge.NewStore(nil, knowledge.ClinicProfile{}, 16)
	require.NoError(t, err)
	return core.NewEngine(core.Deps{
		Graph:      graph,
		Knowledge:  store,
		Appts:      appointment.NewMemoryStore(),
		Guardrails: allowGuardrail{},
	})
}

func TestRunnerRunScoresAccuracyAndFidelityFromDatasetExpectations(t *testing.T) {
	engine := newTestEngine(t, "This sounds like influenza. Please book an appointment with a doctor for confirmation.")
	runner := NewRunner(engine, stubJudge{score: 0.9}, nil)

	cases := []Case{
		{
			ID:                "case-1",
			Type:              "standard",
			Input:             rawInput{"what are your clinic hours"},
			ExpectedDiagnosis: []string{"influenza"},
			RequiredPhrases:   []string{"book an appointment", "doctor"},
		},
	}

	report := runner.Run(context.Background(), cases)
	require.Len(t, report.Cases, 1)
	assert.Equal(t, 1.0, report.Cases[0].Accuracy)
	assert.Equal(t, 1.0, report.Cases[0].RuleFidelity)
	assert.Equal(t, 1, report.TotalCases)
	assert.InDelta(t, 0.9, report.AvgQualitative, 0.001)
	assert.True(t, report.OverallPass)
	assert.Empty(t, report.Failed)
}

func TestRunnerRunWithoutJudgeSkipsQualitativeScoring(t *testing.T) {
	engine := newTestEngine(t, "Please book an appointment with a doctor.")
	runner := NewRunner(engine, nil, nil)

	report := runner.Run(context.Background(), []Case{
		{ID: "case-1", Type: "standard", Input: rawInput{"I need help"}},
	})

	require.Len(t, report.Cases, 1)
	assert.Empty(t, report.Cases[0].Qualitative)
	assert.Contains(t, report.Failed, "qualitative (0.0%)")
}

func TestRunnerRunAggregatesMultiTurnCaseUsingLastTurnForHardMetrics(t *testing.T) {
	engine := newTestEngine(t, "I'm not sure, please book an appointment with a doctor.")
	runner := NewRunner(engine, nil, nil)

	report := runner.Run(context.Background(), []Case{
		{
			ID:              "case-1",
			Type:            "standard",
			Input:           rawInput{"hi", "what are your opening hours"},
			RequiredPhrases: []string{"doctor"},
		},
	})

	require.Len(t, report.Cases, 1)
	require.Len(t, report.Cases[0].Turns, 2)
	assert.Equal(t, 1.0, report.Cases[0].RuleFidelity)
}

func TestBuildReportRollsUpByCategory(t *testing.T) {
	engine := newTestEngine(t, "Please book an appointment with a doctor.")
	runner := NewRunner(engine, nil, nil)

	report := runner.Run(context.Background(), []Case{
		{ID: "c1", Type: "standard", Input: rawInput{"a"}, RequiredPhrases: []string{"doctor"}},
		{ID: "c2", Type: "harmful", Input: rawInput{"b"}, RequiredPhrases: []string{"doctor"}},
	})

	require.Contains(t, report.ByCategory, "standard")
	require.Contains(t, report.ByCategory, "harmful")
	assert.Equal(t, 1, report.ByCategory["standard"].Count)
	assert.Equal(t, 1, report.ByCategory["harmful"].Count)
}
