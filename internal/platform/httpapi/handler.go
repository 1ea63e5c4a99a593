// Package httpapi is the thin chi transport adapter over core.Engine: it
// decodes requests, calls the facade, and maps core.ErrorCode to HTTP
// status codes. No orchestration or domain logic lives here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medical-ai-agent/internal/appointment"
	"medical-ai-agent/internal/core"
)

type Handler struct {
	engine *core.Engine
}

func NewHandler(engine *core.Engine) *Handler {
	return &Handler{engine: engine}
}

// NewRouter builds the full chi router: request logging and panic
// recovery at the transport boundary (the same middleware.Recoverer idiom
// the turn loop mirrors internally), permissive CORS for a browser
// frontend, and the /api routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes wires every handler onto r, matching the teacher's
// module-registers-its-own-routes convention.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/chat", h.Chat)
	r.Post("/appointments", h.CreateAppointment)
	r.Get("/appointments/{id}", h.GetAppointment)
	r.Get("/appointments", h.ListAppointments)
	r.Delete("/appointments/{id}", h.CancelAppointment)
	r.Get("/knowledge/search", h.SearchKnowledge)
	r.Get("/guardrail/report", h.GuardrailReport)
}

// errorStatus maps a core.Error's code to the HTTP status the teacher's
// handlers would use for the equivalent failure.
func errorStatus(code core.ErrorCode) int {
	switch code {
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case core.ErrBlockedByGuard:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	if coreErr, ok := err.(*core.Error); ok {
		status := errorStatus(coreErr.Code)
		if status == http.StatusOK {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{
			"error": coreErr.Error(),
			"code":  string(coreErr.Code),
		})
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	TraceID  string `json:"trace_id"`
	Blocked  bool   `json:"blocked"`
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Chat(r.Context(), core.ChatRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		UserInput: req.Message,
	})
	if err != nil {
		coreErr, ok := err.(*core.Error)
		if ok && coreErr.Code == core.ErrBlockedByGuard && resp != nil {
			writeJSON(w, http.StatusOK, chatResponse{Response: resp.Response, TraceID: resp.TraceID, Blocked: true})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: resp.Response, TraceID: resp.TraceID})
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var fields appointment.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	appt, err := h.engine.CreateAppointment(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	appt, err := h.engine.GetAppointment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	status := appointment.Status(r.URL.Query().Get("status"))
	out, err := h.engine.ListAppointments(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	appt, err := h.engine.CancelAppointment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) SearchKnowledge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 5
	results, err := h.engine.SearchKnowledge(r.Context(), query, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) GuardrailReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.Add(-30 * 24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	to := now
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	report, err := h.engine.GuardrailReport(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
