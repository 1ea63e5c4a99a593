// Package orchestrator wires the guardrail, supervisor, and agent packages
// into the turn loop: initialize state, check input, dispatch agents by
// supervisor decision until terminal or MAX_STEPS, check output, return the
// final response.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/supervisor"
	"medical-ai-agent/internal/telemetry"
	"medical-ai-agent/internal/turn"
)

// Escalator hands a turn with a red-flag diagnosis off to a human; the
// advanced.Guardrail tier handles in-conversation risk, this handles the
// out-of-band notification once a turn's diagnosis already looks urgent.
type Escalator interface {
	SendDoctorHandoff(ctx context.Context, state *turn.State) error
}

// Graph is built once at process start and reused across turns; it holds
// no per-turn state itself.
type Graph struct {
	supervisor *supervisor.Supervisor
	guardrails guardrail.Check
	agents     map[string]agent.Agent
	escalator  Escalator

	maxSteps       int
	perCallTimeout time.Duration
	turnBudget     time.Duration
}

type Deps struct {
	Supervisor     *supervisor.Supervisor
	Guardrails     guardrail.Check
	Agents         map[string]agent.Agent
	Escalator      Escalator
	MaxSteps       int
	PerCallTimeout time.Duration
	TurnBudget     time.Duration
}

func NewGraph(deps Deps) *Graph {
	maxSteps := deps.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 12
	}
	return &Graph{
		supervisor:     deps.Supervisor,
		guardrails:     deps.Guardrails,
		agents:         deps.Agents,
		escalator:      deps.Escalator,
		maxSteps:       maxSteps,
		perCallTimeout: deps.PerCallTimeout,
		turnBudget:     deps.TurnBudget,
	}
}

// TurnInput is the caller-supplied shape for one conversational turn.
type TurnInput struct {
	SessionID string
	UserID    string
	UserInput string
	Image     *turn.Image
	History   []turn.Message
}

// Run executes exactly one turn loop to completion and returns the
// patient-facing response plus the final state for persistence.
func (g *Graph) Run(ctx context.Context, in TurnInput) (*turn.State, error) {
	log := telemetry.FromContext(ctx)

	if g.turnBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.turnBudget)
		defer cancel()
	}

	state := turn.New(in.SessionID, in.UserInput, in.Image, in.History)

	history := toHistoryEntries(in.History)
	inputCheck := g.guardrails.CheckInput(ctx, in.UserID, in.UserInput, history)
	if inputCheck.ModifiedContent != "" && inputCheck.Action != guardrail.ActionAllow {
		state.FinalResponse = inputCheck.ModifiedContent
		state.GuardrailAction = turn.GuardrailAction(inputCheck.Action)
		state.MarkTerminal()
	}
	if inputCheck.Action == guardrail.ActionBlock || inputCheck.Action == guardrail.ActionRedirect {
		state.MarkTerminal()
		if state.FinalResponse == "" {
			state.FinalResponse = "Sorry, I can't process that message."
		}
	}

	if !state.Terminal() {
		if err := g.loop(ctx, state, log); err != nil {
			return state, err
		}
	}

	if state.FinalResponse == "" {
		state.FinalResponse = failSafeResponse()
	}

	outputCheck := g.guardrails.CheckOutput(ctx, in.UserID, state.FinalResponse, in.UserInput, history)
	if outputCheck.Action == guardrail.ActionBlock && outputCheck.ModifiedContent != "" {
		state.FinalResponse = outputCheck.ModifiedContent
	}
	state.GuardrailAction = turn.GuardrailAction(outputCheck.Action)

	if g.escalator != nil && state.HasRedFlag() {
		g.notifyDoctor(state, log)
	}

	return state, nil
}

// notifyDoctor hands the turn to the escalator on its own timeout, detached
// from the request context, so a slow Telegram call never adds latency to
// the patient-facing response.
func (g *Graph) notifyDoctor(state *turn.State, log *telemetry.Logger) {
	go func() {
		escCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := g.escalator.SendDoctorHandoff(escCtx, state); err != nil {
			log.Warn("doctor handoff for turn %s failed: %v", state.TraceID, err)
		}
	}()
}

func (g *Graph) loop(ctx context.Context, state *turn.State, log *telemetry.Logger) error {
	var agentErrs *multierror.Error

	for {
		if ctx.Err() != nil {
			state.MarkCancelled()
			return nil
		}
		if state.Terminal() {
			return nil
		}

		state.SupervisorTurns++
		if state.SupervisorTurns > g.maxSteps {
			g.failSafe(ctx, state, log, agentErrs)
			return nil
		}

		decision := g.supervisor.Decide(ctx, state)
		log.Info("supervisor decision: %s (%s)", decision.NextAgent, decision.Reasoning)

		if decision.NextAgent == agent.Terminate {
			return nil
		}

		a, ok := g.agents[decision.NextAgent]
		if !ok {
			state.AppendTransition("orchestrator", decision.NextAgent, "", "unknown agent in decision, terminating")
			g.failSafe(ctx, state, log, agentErrs)
			return nil
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if g.perCallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.perCallTimeout)
		}
		err := g.runAgent(callCtx, a, decision.NextAgent, state, log)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			log.Warn("agent %s returned error: %v", decision.NextAgent, err)
			state.AppendTransition(decision.NextAgent, "", "", fmt.Sprintf("agent error: %v", err))
			agentErrs = multierror.Append(agentErrs, fmt.Errorf("%s: %w", decision.NextAgent, err))
		}
	}
}

// runAgent recovers a panicking agent into an error, the orchestrator-layer
// mirror of the HTTP transport's recover middleware: a single bad agent
// call degrades the turn instead of taking down the process.
func (g *Graph) runAgent(ctx context.Context, a agent.Agent, name string, state *turn.State, log *telemetry.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("agent %s panicked: %v", name, r)
			err = fmt.Errorf("agent %s panicked: %v", name, r)
		}
	}()
	return a.Run(ctx, state)
}

// failSafe invokes the recommender with whatever state exists when the
// loop runs out of steps; if no recommender is wired, emits the
// deterministic fallback string directly. agentErrs accumulates every
// agent failure seen so far this turn, so a multi-failure turn logs one
// combined cause instead of the last error only.
func (g *Graph) failSafe(ctx context.Context, state *turn.State, log *telemetry.Logger, agentErrs *multierror.Error) {
	if agentErrs != nil && agentErrs.Len() > 0 {
		log.Warn("turn %s degraded after %d agent failure(s): %v", state.TraceID, agentErrs.Len(), agentErrs.ErrorOrNil())
	}
	if state.FinalResponse != "" {
		return
	}
	rec, ok := g.agents[agent.NameRecommender]
	if ok {
		if err := g.runAgent(ctx, rec, agent.NameRecommender, state, log); err == nil && state.FinalResponse != "" {
			return
		}
		log.Warn("fail-safe recommender invocation did not produce a response")
	}
	state.FinalResponse = failSafeResponse()
}

func failSafeResponse() string {
	return "Sorry, I wasn't able to finish processing your request. Please try again, or contact the clinic directly if this is urgent."
}

func toHistoryEntries(history []turn.Message) []guardrail.HistoryEntry {
	out := make([]guardrail.HistoryEntry, 0, len(history))
	for _, m := range history {
		out = append(out, guardrail.HistoryEntry{Role: string(m.Role), Text: m.Text})
	}
	return out
}
