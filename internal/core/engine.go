// Package core exposes the transport-agnostic facade that both the HTTP
// layer and the evaluation harness call: chat, appointment CRUD, knowledge
// search, and the guardrail compliance report. Nothing outside this
// package reaches into orchestrator/agent/guardrail internals directly.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"medical-ai-agent/internal/appointment"
	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/guardrail/advanced"
	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/orchestrator"
	"medical-ai-agent/internal/turn"
)

// ErrorCode is the small typed taxonomy every core operation's error maps
// to, regardless of which layer actually failed.
type ErrorCode string

const (
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrConflict         ErrorCode = "CONFLICT"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrUpstreamTimeout  ErrorCode = "UPSTREAM_TIMEOUT"
	ErrBlockedByGuard   ErrorCode = "BLOCKED_BY_GUARDRAIL"
	ErrInternal         ErrorCode = "INTERNAL"
)

// Error wraps an ErrorCode with the underlying cause, matching pkg/errors'
// Cause() convention so callers can unwrap to the original error.
type Error struct {
	Code  ErrorCode
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.cause.Error()
}

func (e *Error) Cause() error { return e.cause }

func newError(code ErrorCode, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// ChatRequest is the Chat operation's input.
type ChatRequest struct {
	SessionID string
	UserID    string
	UserInput string
	Image     *turn.Image
	History   []turn.Message
}

// ChatResponse is the Chat operation's success payload.
type ChatResponse struct {
	Response      string
	UpdatedHistory []turn.Message
	TraceID       string
}

// Engine is the facade. It owns no lifecycle beyond what's handed in at
// construction: the orchestrator graph is built once by the caller (cmd/server)
// and passed in here, matching the "graph built once" requirement.
type Engine struct {
	graph      *orchestrator.Graph
	knowledge  *knowledge.Store
	appts      appointment.Store
	guardrails guardrail.Check
}

type Deps struct {
	Graph      *orchestrator.Graph
	Knowledge  *knowledge.Store
	Appts      appointment.Store
	Guardrails guardrail.Check
}

func NewEngine(deps Deps) *Engine {
	return &Engine{
		graph:      deps.Graph,
		knowledge:  deps.Knowledge,
		appts:      deps.Appts,
		guardrails: deps.Guardrails,
	}
}

// Chat runs exactly one turn loop and returns the patient-facing response
// plus the history entry to append.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.SessionID == "" || req.UserID == "" {
		return nil, newError(ErrValidation, errors.New("core: session_id and user_id are required"))
	}

	state, err := e.graph.Run(ctx, orchestrator.TurnInput{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		UserInput: req.UserInput,
		Image:     req.Image,
		History:   req.History,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(ErrUpstreamTimeout, err)
		}
		return nil, newError(ErrInternal, err)
	}

	updated := append(append([]turn.Message{}, req.History...),
		turn.Message{Role: turn.RoleUser, Text: req.UserInput, Timestamp: time.Now()},
		turn.Message{Role: turn.RoleAssistant, Text: state.FinalResponse, Timestamp: time.Now()},
	)

	resp := &ChatResponse{
		Response:       state.FinalResponse,
		UpdatedHistory: updated,
		TraceID:        state.TraceID,
	}
	if state.GuardrailAction == turn.ActionBlock {
		return resp, newError(ErrBlockedByGuard, errors.New("core: response blocked by guardrail"))
	}
	return resp, nil
}

// CreateAppointment validates and inserts a new booking directly (bypassing
// the conversational gathering flow), for callers with already-structured
// fields (e.g. a staff-facing admin API).
func (e *Engine) CreateAppointment(ctx context.Context, fields appointment.Fields) (*appointment.Appointment, error) {
	if fields.PatientName == "" || fields.Phone == "" || fields.Date == "" || fields.Time == "" {
		return nil, newError(ErrValidation, errors.New("core: patient_name, phone, date, time are required"))
	}
	conflict, err := e.appts.ConflictExists(ctx, fields.Date, fields.Time, fields.Provider)
	if err != nil {
		return nil, newError(ErrInternal, err)
	}
	if conflict {
		return nil, newError(ErrConflict, errors.New("core: slot already booked"))
	}
	appt, err := e.appts.Insert(ctx, fields)
	if err != nil {
		if err == appointment.ErrConflict {
			return nil, newError(ErrConflict, err)
		}
		return nil, newError(ErrInternal, err)
	}
	return appt, nil
}

func (e *Engine) GetAppointment(ctx context.Context, id string) (*appointment.Appointment, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, newError(ErrValidation, errors.Wrap(err, "core: invalid appointment id"))
	}
	appt, err := e.appts.Get(ctx, parsed)
	if err != nil {
		if err == appointment.ErrNotFound {
			return nil, newError(ErrNotFound, err)
		}
		return nil, newError(ErrInternal, err)
	}
	return appt, nil
}

func (e *Engine) ListAppointments(ctx context.Context, status appointment.Status) ([]appointment.Appointment, error) {
	out, err := e.appts.List(ctx, status)
	if err != nil {
		return nil, newError(ErrInternal, err)
	}
	return out, nil
}

func (e *Engine) CancelAppointment(ctx context.Context, id string) (*appointment.Appointment, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, newError(ErrValidation, errors.Wrap(err, "core: invalid appointment id"))
	}
	existing, err := e.appts.Get(ctx, parsed)
	if err != nil {
		if err == appointment.ErrNotFound {
			return nil, newError(ErrNotFound, err)
		}
		return nil, newError(ErrInternal, err)
	}
	updated, err := e.appts.Update(ctx, parsed, appointment.Fields{
		PatientName: existing.PatientName,
		Phone:       existing.Phone,
		Reason:      existing.Reason,
		Date:        existing.Date,
		Time:        existing.Time,
		Provider:    existing.Provider,
	}, appointment.StatusCancelled)
	if err != nil {
		if err == appointment.ErrNotFound {
			return nil, newError(ErrNotFound, err)
		}
		return nil, newError(ErrInternal, err)
	}
	return updated, nil
}

// SearchKnowledge exposes the FAQ store directly, for a transport that
// wants raw search results rather than a composed conversational answer.
func (e *Engine) SearchKnowledge(ctx context.Context, query string, limit int) ([]knowledge.FAQResult, error) {
	results, err := e.knowledge.Search(query, limit)
	if err != nil {
		return nil, newError(ErrInternal, err)
	}
	return results, nil
}

// GuardrailReport exposes the tier-3 compliance export; it returns
// ErrValidation if the active tier doesn't support reporting (simple and
// intermediate have no incident ledger).
func (e *Engine) GuardrailReport(ctx context.Context, from, to time.Time) (map[string]any, error) {
	active := e.guardrails
	if mgr, ok := active.(*guardrail.Manager); ok {
		active = mgr.Active()
	}
	reporter, ok := active.(*advanced.Guardrail)
	if !ok {
		return nil, newError(ErrValidation, errors.New("core: compliance reporting requires the advanced guardrail tier"))
	}
	return reporter.ExportComplianceReport(from, to), nil
}
