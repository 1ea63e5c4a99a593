package intermediate

import (
	"context"
	"strings"
	"testing"
	"time"

	"medical-ai-agent/internal/guardrail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// With a nil provider, classifyIntent always falls back to the keyword
// heuristic, which keeps these tests deterministic without a fake LLM.

func TestCheckInputClassifiesByFallbackIntent(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		wantAction guardrail.Action
	}{
		{"emergency phrase redirects", "I'm having a heart attack", guardrail.ActionRedirect},
		{"inappropriate language blocks", "fuck this", guardrail.ActionBlock},
		{"sensitive topic warns", "what's my credit card number on file", guardrail.ActionWarn},
		{"appointment request allows", "I'd like to book an appointment", guardrail.ActionAllow},
		{"symptom question allows", "I have a fever and body pain", guardrail.ActionAllow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(nil, 0, 0)
			res := g.CheckInput(context.Background(), "user-1", tc.input, nil)
			assert.Equal(t, tc.wantAction, res.Action)
		})
	}
}

func TestCheckInputRateLimitsAfterThreshold(t *testing.T) {
	g := New(nil, 2, time.Minute)

	var last guardrail.Result
	for i := 0; i < 3; i++ {
		last = g.CheckInput(context.Background(), "user-1", "hello there, how are you", nil)
	}

	assert.False(t, last.Passed)
	assert.Equal(t, guardrail.ActionBlock, last.Action)
	assert.Equal(t, "Rate limit exceeded", last.Reason)
}

func TestCheckInputDetectsRepetitiveMessages(t *testing.T) {
	g := New(nil, 100, time.Minute)

	var last guardrail.Result
	for i := 0; i < 3; i++ {
		last = g.CheckInput(context.Background(), "user-1", "help me please", nil)
	}

	assert.True(t, last.Passed)
	assert.Equal(t, guardrail.ActionWarn, last.Action)
	assert.Equal(t, "Repetitive message pattern detected", last.Reason)
}

func TestCheckInputBasicSafetyChecksShortCircuit(t *testing.T) {
	g := New(nil, 0, 0)

	tooLong := g.CheckInput(context.Background(), "user-1", strings.Repeat("a", 2001), nil)
	assert.False(t, tooLong.Passed)
	assert.Equal(t, guardrail.ActionBlock, tooLong.Action)

	tooShort := g.CheckInput(context.Background(), "user-1", "a", nil)
	assert.False(t, tooShort.Passed)
	assert.Equal(t, guardrail.ActionBlock, tooShort.Action)
}

func TestCheckOutputBlocksUnverifiedMedicalClaims(t *testing.T) {
	g := New(nil, 0, 0)
	res := g.CheckOutput(context.Background(), "user-1", "You have diabetes, I diagnose it with confidence.", "what's wrong with me", nil)
	assert.False(t, res.Passed)
	assert.Equal(t, guardrail.ActionBlock, res.Action)
}

func TestCheckOutputWarnsOnProfessionalBoundaryLanguage(t *testing.T) {
	g := New(nil, 0, 0)
	res := g.CheckOutput(context.Background(), "user-1", "Trust me, as your doctor I recommend resting well and drinking water.", "what should I do", nil)
	assert.True(t, res.Passed)
	assert.Equal(t, guardrail.ActionWarn, res.Action)
}

func TestCheckOutputAllowsOrdinaryResponse(t *testing.T) {
	g := New(nil, 0, 0)
	res := g.CheckOutput(context.Background(), "user-1", "Thanks for sharing. Could you tell me how long you've had this fever?", "I have a fever", nil)
	assert.True(t, res.Passed)
	assert.Equal(t, guardrail.ActionAllow, res.Action)
}

func TestStatsTracksUserCount(t *testing.T) {
	g := New(nil, 0, 0)
	g.CheckInput(context.Background(), "user-1", "hello there", nil)
	g.CheckInput(context.Background(), "user-2", "hello there", nil)

	stats := g.Stats()
	require.Equal(t, "intermediate", stats["type"])
	assert.Equal(t, 2, stats["tracked_users"])
}
