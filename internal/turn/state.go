// Package turn defines TurnState: the single per-turn mutable record that
// flows through the orchestration graph. Exactly one agent mutates it at a
// time; the Supervisor only reads it between agent activations.
package turn

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Intent string

const (
	IntentFAQ           Intent = "faq"
	IntentAppointment   Intent = "appointment"
	IntentSymptoms      Intent = "symptoms"
	IntentImageAnalysis Intent = "image_analysis"
	IntentEmergency     Intent = "emergency"
	IntentOutOfScope    Intent = "out_of_scope"
	IntentUnknown       Intent = "unknown"
)

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type GuardrailAction string

const (
	ActionAllow    GuardrailAction = "allow"
	ActionWarn     GuardrailAction = "warn"
	ActionRedirect GuardrailAction = "redirect"
	ActionBlock    GuardrailAction = "block"
)

type PlanStatus string

const (
	PlanPending PlanStatus = "pending"
	PlanCurrent PlanStatus = "current"
	PlanDone    PlanStatus = "done"
	PlanSkipped PlanStatus = "skipped"
)

// Message is one turn of prior history; agents read fixed-size windows of
// it through RecentHistory(n).
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Image is an opaque blob reference; the engine never decodes it itself,
// only the vision provider does.
type Image struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

type Symptom struct {
	Name      string   `json:"name"`
	Duration  string   `json:"duration,omitempty"`
	Severity  Severity `json:"severity,omitempty"`
	Site      string   `json:"site,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

type ImageAnalysis struct {
	Description string            `json:"description"`
	VisualQA    map[string]string `json:"visual_qa"`
	Confidence  float64           `json:"confidence"`
}

type DiagnosisHypothesis struct {
	Hypothesis  string  `json:"hypothesis"`
	Rationale   string  `json:"rationale"`
	Probability float64 `json:"probability"`
	RedFlag     bool    `json:"red_flag"`
}

type Investigation struct {
	Question string   `json:"question,omitempty"`
	Test     string   `json:"test,omitempty"`
	Reason   string   `json:"reason"`
	Targets  []string `json:"targets"`
}

type Evidence struct {
	Passage   string  `json:"passage"`
	SourceID  string  `json:"source_id"`
	Relevance float64 `json:"relevance"`
}

type PlanStep struct {
	Agent  string     `json:"agent"`
	Status PlanStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// Transition is one entry in the append-only activation log, forming a
// strict total order matching dispatch order.
type Transition struct {
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"input,omitempty"`  // truncated
	Output    string    `json:"output,omitempty"` // truncated
	Warning   string    `json:"warning,omitempty"`
}

// State is TurnState. Created per turn, discarded after FinalResponse is
// emitted; only History and any new Appointment persist.
type State struct {
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id"`
	UserInput string    `json:"user_input"`
	Image     *Image    `json:"image,omitempty"`
	History   []Message `json:"history"`

	Intent Intent `json:"intent,omitempty"`

	Symptoms      []Symptom              `json:"symptoms,omitempty"`
	ImageAnalysis *ImageAnalysis         `json:"image_analysis,omitempty"`
	Diagnosis     []DiagnosisHypothesis  `json:"diagnosis,omitempty"`
	Investigations []Investigation       `json:"investigations,omitempty"`
	Evidence      []Evidence             `json:"evidence,omitempty"`

	Plan     []PlanStep   `json:"plan,omitempty"`
	Messages []Transition `json:"messages,omitempty"`

	FinalResponse   string          `json:"final_response,omitempty"`
	GuardrailAction GuardrailAction `json:"guardrail_action,omitempty"`

	// Loop-guard bookkeeping: a per-turn step counter plus a finer
	// per-agent retrieval budget, layered on top of the MAX_STEPS fail-safe.
	SupervisorTurns     int            `json:"supervisor_turns"`
	RetrieverCallCounts map[string]int `json:"retriever_call_counts,omitempty"`

	// Revision tracking for DiagnosisEngine's folded-in critic loop.
	RevisionCount int `json:"revision_count"`

	terminal  bool
	cancelled bool
}

// New initializes a TurnState from history + input.
func New(sessionID, userInput string, image *Image, history []Message) *State {
	return &State{
		SessionID:           sessionID,
		TraceID:              uuid.New().String(),
		UserInput:           userInput,
		Image:                image,
		History:              history,
		RetrieverCallCounts: map[string]int{},
	}
}

// Terminal reports whether the turn has reached a state the loop must stop
// at: FinalResponse set, or explicitly marked terminal by a guardrail
// block.
func (s *State) Terminal() bool {
	return s.terminal || s.FinalResponse != ""
}

// MarkTerminal lets check_input short-circuit the loop before any agent
// runs, without requiring FinalResponse to already be set.
func (s *State) MarkTerminal() {
	s.terminal = true
}

func (s *State) Cancelled() bool      { return s.cancelled }
func (s *State) MarkCancelled()       { s.cancelled = true }

// RecentHistory returns at most n trailing entries, used by intent
// classification and guardrail context windows.
func (s *State) RecentHistory(n int) []Message {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// AppendTransition records one agent activation, preserving dispatch
// order.
func (s *State) AppendTransition(agent, input, output, warning string) {
	s.Messages = append(s.Messages, Transition{
		Agent:     agent,
		Timestamp: time.Now(),
		Input:     truncate(input, 200),
		Output:    truncate(output, 200),
		Warning:   warning,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// SetPlanCurrent transitions the named step to "current" and marks any
// previously-current step "done", preserving the monotonic pending ->
// current -> done|skipped progression.
func (s *State) SetPlanCurrent(agentName string) {
	found := false
	for i := range s.Plan {
		if s.Plan[i].Status == PlanCurrent {
			s.Plan[i].Status = PlanDone
		}
		if s.Plan[i].Agent == agentName {
			s.Plan[i].Status = PlanCurrent
			found = true
		}
	}
	if !found {
		s.Plan = append(s.Plan, PlanStep{Agent: agentName, Status: PlanCurrent})
	}
}

// TopHypothesis returns the highest-probability diagnosis, or nil if
// empty. Diagnosis is kept sorted by the diagnosis agent (probability
// desc, then alphabetical tie-break), so this is simply the first element.
func (s *State) TopHypothesis() *DiagnosisHypothesis {
	if len(s.Diagnosis) == 0 {
		return nil
	}
	return &s.Diagnosis[0]
}

// HasRedFlag reports whether any diagnosis hypothesis is flagged emergent.
func (s *State) HasRedFlag() bool {
	for _, d := range s.Diagnosis {
		if d.RedFlag {
			return true
		}
	}
	return false
}
