// Package conversation answers FAQ and small-talk turns from the
// knowledge store, refining intent to unknown when nothing matches with
// enough confidence so the supervisor can route elsewhere.
package conversation

import (
	"context"
	"fmt"
	"strings"

	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/turn"
)

const defaultConfidenceThreshold = 0.55

type Agent struct {
	store     *knowledge.Store
	threshold float64
}

func NewAgent(store *knowledge.Store, threshold float64) *Agent {
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	return &Agent{store: store, threshold: threshold}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	if clinicQuestion(state.UserInput) {
		state.FinalResponse = a.profileAnswer(state.UserInput)
		state.AppendTransition("conversation_agent", state.UserInput, state.FinalResponse, "")
		return nil
	}

	match, err := a.store.ConfidentMatch(state.UserInput, a.threshold)
	if err != nil || match == nil {
		state.Intent = turn.IntentUnknown
		state.AppendTransition("conversation_agent", state.UserInput, "", "no confident FAQ match")
		return nil
	}

	state.FinalResponse = match.Answer
	state.AppendTransition("conversation_agent", state.UserInput, match.Answer, "")
	return nil
}

func clinicQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range []string{"hours", "giờ", "address", "địa chỉ", "phone number", "số điện thoại", "open", "mở cửa"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (a *Agent) profileAnswer(userInput string) string {
	p := a.store.Profile()
	lower := strings.ToLower(userInput)
	switch {
	case strings.Contains(lower, "address") || strings.Contains(lower, "địa chỉ"):
		return fmt.Sprintf("%s is located at %s.", p.Name, p.Address)
	case strings.Contains(lower, "phone") || strings.Contains(lower, "số điện thoại"):
		return fmt.Sprintf("You can reach %s at %s.", p.Name, p.Phone)
	default:
		return fmt.Sprintf("%s is open %s on weekdays and %s on weekends.", p.Name, p.WeekdayHours, p.WeekendHours)
	}
}
