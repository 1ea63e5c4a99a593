package appointment

import (
	"context"
	"sync"
	"testing"

	"medical-ai-agent/internal/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{}

func (fakeProvider) Generate(ctx context.Context, prompt string) (string, error) { return "", nil }
func (fakeProvider) GenerateStructured(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	return "", assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "no structured output available" }

// TestBookingHappyPath grounds scenario S4: a well-formed booking request
// reaches COMMITTED and yields an appointment id in the response.
func TestBookingHappyPath(t *testing.T) {
	store := NewMemoryStore()
	agent := NewAgent(store, fakeProvider{}, "08:00", "18:00", 3)

	state := turn.New("session-1", "Book me Tue at 2pm, name: John Smith, phone 0901234567, reason: checkup", nil, nil)
	require.NoError(t, agent.Run(context.Background(), state))

	assert.Contains(t, state.FinalResponse, "appointment ID")
	list, err := store.List(context.Background(), StatusScheduled)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// TestConflictDetection grounds P5: two concurrent creates for the same
// slot yield exactly one success and one conflict.
func TestConflictDetection(t *testing.T) {
	store := NewMemoryStore()
	f := Fields{PatientName: "A", Phone: "0901234567", Date: "2030-01-01", Time: "09:00", Reason: "checkup"}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Insert(context.Background(), f)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
		} else if err == ErrConflict {
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

// TestBookingWithNilProviderUsesHeuristicGather guards the nil-provider fix:
// gather must never call llm.Structured on a nil provider, and must still
// extract fields via heuristicGather.
func TestBookingWithNilProviderUsesHeuristicGather(t *testing.T) {
	store := NewMemoryStore()
	agent := NewAgent(store, nil, "08:00", "18:00", 3)

	state := turn.New("session-3", "Book me Tue at 2pm, name: Jane Doe, phone 0901234567, reason: checkup", nil, nil)
	require.NoError(t, agent.Run(context.Background(), state))

	assert.Contains(t, state.FinalResponse, "appointment ID")
}

func TestMissingFieldsPromptsClarification(t *testing.T) {
	store := NewMemoryStore()
	agent := NewAgent(store, fakeProvider{}, "08:00", "18:00", 3)

	state := turn.New("session-2", "I want to book an appointment", nil, nil)
	require.NoError(t, agent.Run(context.Background(), state))

	assert.Contains(t, state.FinalResponse, "still need")
}
