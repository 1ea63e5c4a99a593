package supervisor

import (
	"context"
	"testing"

	"medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// With a nil provider, classifyIntent always falls back to the keyword
// heuristic, keeping routing decisions deterministic.

func TestDecideFirstStepClassifiesIntentAndRoutes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantNext string
	}{
		{"emergency terminates immediately", "I think I'm having a heart attack", agent.Terminate},
		{"appointment routes to appointment agent", "I'd like to book an appointment for Monday", agent.NameAppointment},
		{"faq routes to conversation agent", "what are your clinic hours", agent.NameConversation},
		{"symptom description routes to symptom extraction", "I've had a cough and fever for three days", agent.NameSymptomExtract},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(nil)
			state := turn.New("session-1", tc.input, nil, nil)
			decision := s.Decide(context.Background(), state)
			assert.Equal(t, tc.wantNext, decision.NextAgent)
			assert.NotEmpty(t, state.Intent)
		})
	}
}

func TestDecideEmergencyIntentAlwaysTerminates(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "anything", nil, nil)
	state.Intent = turn.IntentEmergency

	decision := s.Decide(context.Background(), state)
	assert.Equal(t, agent.Terminate, decision.NextAgent)
}

func TestDecideFAQIntentRunsConversationThenTerminates(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "what's your address", nil, nil)
	state.Intent = turn.IntentFAQ

	first := s.Decide(context.Background(), state)
	require.Equal(t, agent.NameConversation, first.NextAgent)

	state.AppendTransition(agent.NameConversation, "what's your address", "123 Main St", "")
	second := s.Decide(context.Background(), state)
	assert.Equal(t, agent.Terminate, second.NextAgent)
}

func TestDecideAppointmentIntentRunsOnceThenTerminates(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "book me an appointment", nil, nil)
	state.Intent = turn.IntentAppointment

	first := s.Decide(context.Background(), state)
	require.Equal(t, agent.NameAppointment, first.NextAgent)

	state.AppendTransition(agent.NameAppointment, "book me an appointment", "booked", "")
	second := s.Decide(context.Background(), state)
	assert.Equal(t, agent.Terminate, second.NextAgent)
}

func TestDecideImagePresentRoutesToImageAnalyzerBeforeSymptoms(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "what's wrong with this rash", &turn.Image{MimeType: "image/png"}, nil)
	state.Intent = turn.IntentSymptoms

	decision := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameImageAnalyzer, decision.NextAgent)
}

func TestDecideDiagnosticPipelineProgressesInOrder(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "I have a persistent dry cough", nil, nil)
	state.Intent = turn.IntentSymptoms

	toSymptoms := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameSymptomExtract, toSymptoms.NextAgent)

	state.Symptoms = []turn.Symptom{{Name: "cough"}}
	toDiagnosis := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameDiagnosis, toDiagnosis.NextAgent)

	state.Diagnosis = []turn.DiagnosisHypothesis{{Hypothesis: "bronchitis", Probability: 0.5}}
	toInvestigation := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameInvestigation, toInvestigation.NextAgent)

	state.Investigations = []turn.Investigation{{Question: "how long has this lasted?"}}
	toRetriever := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameRetriever, toRetriever.NextAgent)

	state.Evidence = []turn.Evidence{{Passage: "bronchitis overview", SourceID: "doc#0"}}
	toRecommender := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameRecommender, toRecommender.NextAgent)
}

func TestDecideSkipsInvestigationWhenDiagnosisConfidenceHigh(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "I have a cough", nil, nil)
	state.Intent = turn.IntentSymptoms
	state.Symptoms = []turn.Symptom{{Name: "cough"}}
	state.Diagnosis = []turn.DiagnosisHypothesis{{Hypothesis: "common cold", Probability: 0.9}}

	decision := s.Decide(context.Background(), state)
	assert.Equal(t, agent.NameRetriever, decision.NextAgent)
}

func TestDecideTerminatesOnceFinalResponseSet(t *testing.T) {
	s := New(nil)
	state := turn.New("session-1", "I have a cough", nil, nil)
	state.Intent = turn.IntentSymptoms
	state.Symptoms = []turn.Symptom{{Name: "cough"}}
	state.Diagnosis = []turn.DiagnosisHypothesis{{Hypothesis: "common cold", Probability: 0.9}}
	state.Evidence = []turn.Evidence{{Passage: "cold overview", SourceID: "doc#0"}}
	state.FinalResponse = "Here's what I found..."

	decision := s.Decide(context.Background(), state)
	assert.Equal(t, agent.Terminate, decision.NextAgent)
}
