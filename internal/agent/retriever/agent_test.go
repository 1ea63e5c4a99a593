package retriever

import (
	"context"
	"testing"

	"medical-ai-agent/internal/reranker"
	medagent "medical-ai-agent/internal/turn"
	"medical-ai-agent/internal/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex() vectorindex.Index {
	return vectorindex.NewMemoryIndex([]vectorindex.Passage{
		{SourceID: "doc#cold", Text: "Common cold presents with cough, fever, and fatigue lasting about a week."},
		{SourceID: "doc#derm", Text: "Contact dermatitis causes an itchy red rash often triggered by allergens.", Tags: []string{"dermatology"}},
	})
}

func TestRunWithNilIndexDegradesToEmptyEvidence(t *testing.T) {
	agent := NewAgent(nil, nil, 5, 3, 2)
	state := medagent.New("s1", "cough", nil, nil)
	state.Symptoms = []medagent.Symptom{{Name: "cough"}}

	require.NoError(t, agent.Run(context.Background(), state))
	assert.Empty(t, state.Evidence)
}

func TestRunReturnsRankedEvidenceForMatchingQuery(t *testing.T) {
	idx := newTestIndex()
	agent := NewAgent(idx, reranker.NewMemoryReranker(idx), 5, 2, 2)
	state := medagent.New("s1", "cough", nil, nil)
	state.Symptoms = []medagent.Symptom{{Name: "cough"}, {Name: "fever"}}

	require.NoError(t, agent.Run(context.Background(), state))

	require.NotEmpty(t, state.Evidence)
	assert.Equal(t, "doc#cold", state.Evidence[0].SourceID)
}

func TestRunDegradesOnceCallBudgetIsExceeded(t *testing.T) {
	idx := newTestIndex()
	agent := NewAgent(idx, reranker.NewMemoryReranker(idx), 5, 2, 1)
	state := medagent.New("s1", "cough", nil, nil)
	state.Symptoms = []medagent.Symptom{{Name: "cough"}}

	require.NoError(t, agent.Run(context.Background(), state))
	require.NotEmpty(t, state.Evidence)

	require.NoError(t, agent.Run(context.Background(), state))
	assert.Empty(t, state.Evidence)
	assert.Equal(t, 2, state.RetrieverCallCounts["document_retriever"])
}

func TestBuildQueryUsesTopTwoHypothesesAndAllSymptoms(t *testing.T) {
	state := medagent.New("s1", "", nil, nil)
	state.Diagnosis = []medagent.DiagnosisHypothesis{{Hypothesis: "flu"}, {Hypothesis: "migraine"}, {Hypothesis: "measles"}}
	state.Symptoms = []medagent.Symptom{{Name: "cough"}}

	query := buildQuery(state)
	assert.Contains(t, query, "flu")
	assert.Contains(t, query, "migraine")
	assert.NotContains(t, query, "measles")
	assert.Contains(t, query, "cough")
}
