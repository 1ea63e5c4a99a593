package guardrail

import "context"

// Manager wraps a single active Check, selected once at startup from
// configuration, and exposes the same Check surface to the orchestrator so
// callers never branch on tier.
type Manager struct {
	active Check
	tier   string
}

func NewManager(tier string, active Check) *Manager {
	return &Manager{active: active, tier: tier}
}

func (m *Manager) Tier() string {
	return m.tier
}

// Active exposes the wrapped tier implementation so callers that need
// tier-specific behavior (e.g. the advanced tier's compliance export) can
// type-assert without the whole codebase branching on tier.
func (m *Manager) Active() Check {
	return m.active
}

func (m *Manager) CheckInput(ctx context.Context, userID, userInput string, history []HistoryEntry) Result {
	return m.active.CheckInput(ctx, userID, userInput, history)
}

func (m *Manager) CheckOutput(ctx context.Context, userID, botResponse, userInput string, history []HistoryEntry) Result {
	return m.active.CheckOutput(ctx, userID, botResponse, userInput, history)
}

func (m *Manager) Stats() map[string]any {
	return m.active.Stats()
}
