package conversation

import (
	"context"
	"testing"

	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *knowledge.Store {
	faqs := []knowledge.FAQ{
		{Question: "Do you accept walk-ins?", Answer: "Yes, walk-ins are welcome during clinic hours."},
	}
	profile := knowledge.ClinicProfile{
		Name: "Sunrise Clinic", WeekdayHours: "08:00-18:00", WeekendHours: "09:00-13:00",
		Address: "123 Main St", Phone: "555-0100",
	}
	store, err := knowledge.NewStore(faqs, profile, 10)
	require.NoError(t, err)
	return store
}

func TestRunAnswersClinicHoursDirectlyFromProfile(t *testing.T) {
	agent := NewAgent(newTestStore(t), 0.5)
	state := turn.New("s1", "What are your opening hours?", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))

	assert.Contains(t, state.FinalResponse, "08:00-18:00")
}

func TestRunAnswersAddressDirectlyFromProfile(t *testing.T) {
	agent := NewAgent(newTestStore(t), 0.5)
	state := turn.New("s1", "What's your address?", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))

	assert.Contains(t, state.FinalResponse, "123 Main St")
}

func TestRunAnswersConfidentFAQMatch(t *testing.T) {
	agent := NewAgent(newTestStore(t), 0.3)
	state := turn.New("s1", "Do you accept walk-ins?", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))

	assert.Contains(t, state.FinalResponse, "walk-ins are welcome")
}

func TestRunWithNoMatchSetsIntentUnknown(t *testing.T) {
	agent := NewAgent(newTestStore(t), 0.9)
	state := turn.New("s1", "do you sell bicycles", nil, nil)

	require.NoError(t, agent.Run(context.Background(), state))

	assert.Equal(t, turn.IntentUnknown, state.Intent)
	assert.Empty(t, state.FinalResponse)
}
