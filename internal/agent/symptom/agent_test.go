package symptom

import (
	"context"
	"testing"

	"medical-ai-agent/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	structured string
	err        error
}

func (f fakeProvider) Generate(ctx context.Context, prompt string) (string, error) { return "", nil }

func (f fakeProvider) GenerateStructured(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	return f.structured, f.err
}

func TestRunWithNilProviderUsesHeuristicExtraction(t *testing.T) {
	agent := NewAgent(nil)
	state := turn.New("s1", "I have a cough and a mild fever since yesterday", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))

	var names []string
	for _, s := range state.Symptoms {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "cough")
	assert.Contains(t, names, "fever")
}

func TestRunWithStructuredProviderUsesModelOutput(t *testing.T) {
	provider := fakeProvider{structured: `{"symptoms":[{"name":"headache","duration":"2 days","severity":"moderate"}]}`}
	agent := NewAgent(provider)
	state := turn.New("s1", "My head has been pounding for two days", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))

	require.Len(t, state.Symptoms, 1)
	assert.Equal(t, "headache", state.Symptoms[0].Name)
	assert.Equal(t, turn.SeverityModerate, state.Symptoms[0].Severity)
}

func TestRunEmptyInputAndNoImageIsNoop(t *testing.T) {
	agent := NewAgent(nil)
	state := turn.New("s1", "   ", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))
	assert.Empty(t, state.Symptoms)
	assert.Empty(t, state.Messages)
}

func TestRunIncludesImageDescriptionInExtractionText(t *testing.T) {
	agent := NewAgent(nil)
	state := turn.New("s1", "", nil, nil)
	state.ImageAnalysis = &turn.ImageAnalysis{Description: "itchy red rash on the forearm"}

	require.NoError(t, agent.Run(context.Background(), state))

	var names []string
	for _, s := range state.Symptoms {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "skin rash")
}
