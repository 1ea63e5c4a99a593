package orchestrator

import (
	"context"
	"testing"
	"time"

	"medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/supervisor"
	"medical-ai-agent/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	run func(ctx context.Context, state *turn.State) error
}

func (f fakeAgent) Run(ctx context.Context, state *turn.State) error { return f.run(ctx, state) }

func setsSymptoms() fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		state.Symptoms = []turn.Symptom{{Name: "cough"}}
		return nil
	}}
}

func setsHighConfidenceDiagnosis() fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		state.Diagnosis = []turn.DiagnosisHypothesis{{Hypothesis: "common cold", Probability: 0.9}}
		return nil
	}}
}

func setsEvidence() fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		state.Evidence = []turn.Evidence{{Passage: "cold overview", SourceID: "doc#0"}}
		return nil
	}}
}

func setsRedFlagDiagnosisAndResponse(text string) fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		state.Diagnosis = []turn.DiagnosisHypothesis{{Hypothesis: "myocardial infarction", Probability: 0.8, RedFlag: true}}
		state.FinalResponse = text
		return nil
	}}
}

func setsFinalResponse(text string) fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		state.FinalResponse = text
		return nil
	}}
}

func noop() fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error { return nil }}
}

func panics() fakeAgent {
	return fakeAgent{run: func(ctx context.Context, state *turn.State) error {
		panic("simulated agent failure")
	}}
}

type fakeGuardrail struct {
	input  guardrail.Result
	output guardrail.Result
}

func (f fakeGuardrail) CheckInput(ctx context.Context, userID, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	return f.input
}

func (f fakeGuardrail) CheckOutput(ctx context.Context, userID, botResponse, userInput string, history []guardrail.HistoryEntry) guardrail.Result {
	return f.output
}

func (f fakeGuardrail) Stats() map[string]any { return nil }

func allowGuardrail() fakeGuardrail {
	return fakeGuardrail{
		input:  guardrail.Result{Passed: true, Action: guardrail.ActionAllow},
		output: guardrail.Result{Passed: true, Action: guardrail.ActionAllow},
	}
}

func TestRunHappyPathReachesFinalResponse(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameSymptomExtract: setsSymptoms(),
		agent.NameDiagnosis:      setsHighConfidenceDiagnosis(),
		agent.NameRetriever:      setsEvidence(),
		agent.NameRecommender:    setsFinalResponse("Here's what I found about your cough."),
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail(),
		Agents:     agents,
		MaxSteps:   10,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "I have a persistent cough"})
	require.NoError(t, err)
	assert.Equal(t, "Here's what I found about your cough.", state.FinalResponse)
	assert.False(t, state.Cancelled())
}

func TestRunBlocksOnGuardrailInputBlock(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameSymptomExtract: noop(),
	}
	gr := fakeGuardrail{
		input:  guardrail.Result{Passed: false, Action: guardrail.ActionBlock, ModifiedContent: "Sorry, I can't process that message."},
		output: guardrail.Result{Passed: true, Action: guardrail.ActionAllow},
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: gr,
		Agents:     agents,
		MaxSteps:   10,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "fuck this app"})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I can't process that message.", state.FinalResponse)
	assert.Empty(t, state.Messages)
}

func TestRunEmergencyRedirectTerminatesImmediately(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameSymptomExtract: noop(),
	}
	gr := fakeGuardrail{
		input:  guardrail.Result{Passed: true, Action: guardrail.ActionRedirect, ModifiedContent: "EMERGENCY: call 911 now."},
		output: guardrail.Result{Passed: true, Action: guardrail.ActionAllow},
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: gr,
		Agents:     agents,
		MaxSteps:   10,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "I'm having a heart attack"})
	require.NoError(t, err)
	assert.Equal(t, "EMERGENCY: call 911 now.", state.FinalResponse)
	assert.Empty(t, state.Messages)
}

func TestRunFailSafeAfterMaxStepsWithoutRecommenderUsesFallback(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameSymptomExtract: noop(), // never sets Symptoms, so the loop never advances
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail(),
		Agents:     agents,
		MaxSteps:   3,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "I have a fever"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "wasn't able to finish processing")
}

func TestRunPanickingAgentIsRecoveredAndTurnDegradesGracefully(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameSymptomExtract: panics(),
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail(),
		Agents:     agents,
		MaxSteps:   2,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "I have a fever"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "wasn't able to finish processing")
	require.NotEmpty(t, state.Messages)
	assert.Contains(t, state.Messages[0].Warning, "agent error")
}

func TestRunUnknownAgentInDecisionFallsBackToRecommender(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameRecommender: setsFinalResponse("fallback recommendation"),
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail(),
		Agents:     agents,
		MaxSteps:   10,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "book an appointment for tomorrow"})
	require.NoError(t, err)
	assert.Equal(t, "fallback recommendation", state.FinalResponse)
}

type fakeEscalator struct {
	called chan *turn.State
}

func (f *fakeEscalator) SendDoctorHandoff(ctx context.Context, state *turn.State) error {
	f.called <- state
	return nil
}

func TestRunRedFlagDiagnosisTriggersEscalation(t *testing.T) {
	esc := &fakeEscalator{called: make(chan *turn.State, 1)}
	agents := map[string]agent.Agent{
		agent.NameRecommender: setsRedFlagDiagnosisAndResponse("Please seek emergency care immediately."),
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail(),
		Agents:     agents,
		Escalator:  esc,
		MaxSteps:   10,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "crushing chest pain"})
	require.NoError(t, err)
	assert.Equal(t, "Please seek emergency care immediately.", state.FinalResponse)

	select {
	case got := <-esc.called:
		assert.Equal(t, state.TraceID, got.TraceID)
	case <-time.After(time.Second):
		t.Fatal("expected escalator to be called for a red-flag diagnosis")
	}
}

func TestRunWithoutRedFlagDoesNotEscalate(t *testing.T) {
	esc := &fakeEscalator{called: make(chan *turn.State, 1)}
	agents := map[string]agent.Agent{
		agent.NameRecommender: setsFinalResponse("You likely have a mild cold."),
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: allowGuardrail(),
		Agents:     agents,
		Escalator:  esc,
		MaxSteps:   10,
	})

	_, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "mild sniffle"})
	require.NoError(t, err)

	select {
	case <-esc.called:
		t.Fatal("escalator should not be called without a red-flag diagnosis")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunAppliesOutputGuardrailModification(t *testing.T) {
	agents := map[string]agent.Agent{
		agent.NameSymptomExtract: setsSymptoms(),
		agent.NameDiagnosis:      setsHighConfidenceDiagnosis(),
		agent.NameRetriever:      setsEvidence(),
		agent.NameRecommender:    setsFinalResponse("You definitely have a cold, take this medicine."),
	}
	gr := fakeGuardrail{
		input:  guardrail.Result{Passed: true, Action: guardrail.ActionAllow},
		output: guardrail.Result{Passed: false, Action: guardrail.ActionBlock, ModifiedContent: "Sorry, I can't give a diagnosis."},
	}
	g := NewGraph(Deps{
		Supervisor: supervisor.New(nil),
		Guardrails: gr,
		Agents:     agents,
		MaxSteps:   10,
	})

	state, err := g.Run(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", UserInput: "I have a persistent cough"})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I can't give a diagnosis.", state.FinalResponse)
	assert.Equal(t, turn.ActionBlock, state.GuardrailAction)
}
