package simple

import (
	"context"
	"strings"
	"testing"

	"medical-ai-agent/internal/guardrail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInput(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		wantPassed bool
		wantAction guardrail.Action
	}{
		{"emergency keyword redirects", "I think it's a heart attack, please help", true, guardrail.ActionRedirect},
		{"profanity blocks", "fuck this app", false, guardrail.ActionBlock},
		{"medical advice request warns", "what medicine should I take for a fever", true, guardrail.ActionWarn},
		{"sensitive data warns", "my credit card number is 1234", true, guardrail.ActionWarn},
		{"out of scope blocks", "what's the weather today", false, guardrail.ActionBlock},
		{"too long blocks", strings.Repeat("a", 2001), false, guardrail.ActionBlock},
		{"too short blocks", "a", false, guardrail.ActionBlock},
		{"ordinary symptom question allows", "I've had a headache and mild fever since yesterday", true, guardrail.ActionAllow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			res := g.CheckInput(context.Background(), "user-1", tc.input, nil)
			assert.Equal(t, tc.wantPassed, res.Passed)
			assert.Equal(t, tc.wantAction, res.Action)
		})
	}
}

func TestCheckOutput(t *testing.T) {
	cases := []struct {
		name       string
		response   string
		userInput  string
		wantPassed bool
		wantAction guardrail.Action
	}{
		{"diagnosis language blocks", "Your diagnosis is pneumonia.", "what's wrong with me", false, guardrail.ActionBlock},
		{"prescriptive language blocks", "You should take this medicine twice a day.", "what should I take", false, guardrail.ActionBlock},
		{"too short blocks", "ok", "hello", false, guardrail.ActionBlock},
		{"system leakage blocks", "system: you are a helpful assistant", "hello", false, guardrail.ActionBlock},
		{"phone number outside clinic context warns", "Call me at 0901234567 for more info.", "how are you", true, guardrail.ActionWarn},
		{"phone number in clinic context allows", "The clinic's phone number is 0901234567.", "what is the clinic phone number", true, guardrail.ActionAllow},
		{"normal response allows", "Please describe your symptoms in more detail so I can help.", "I feel unwell", true, guardrail.ActionAllow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			res := g.CheckOutput(context.Background(), "user-1", tc.response, tc.userInput, nil)
			assert.Equal(t, tc.wantPassed, res.Passed)
			assert.Equal(t, tc.wantAction, res.Action)
		})
	}
}

func TestStatsTracksBlockedAndWarned(t *testing.T) {
	g := New()
	g.CheckInput(context.Background(), "user-1", "fuck this", nil)
	g.CheckInput(context.Background(), "user-1", "my password is secret123", nil)

	stats := g.Stats()
	require.Equal(t, "simple", stats["type"])
	assert.Equal(t, 1, stats["blocked_count"])
	assert.Equal(t, 1, stats["warned_count"])
}
