package appointment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/turn"
)

// phase is the booking agent's internal state machine position:
// GATHERING -> VALIDATING -> CONFIRMING -> COMMITTED | FAILED.
type phase string

const (
	phaseGathering  phase = "GATHERING"
	phaseValidating phase = "VALIDATING"
	phaseConfirming phase = "CONFIRMING"
	phaseCommitted  phase = "COMMITTED"
	phaseFailed     phase = "FAILED"
)

var phoneRe = regexp.MustCompile(`^[+0-9 ()-]{7,20}$`)

// phoneInTextRe finds a phone-like run inside free text; phoneRe then
// validates the extracted value on its own.
var phoneInTextRe = regexp.MustCompile(`[+0-9][0-9 ()-]{5,18}[0-9]`)

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"patient_name": map[string]any{"type": "string"},
		"phone":        map[string]any{"type": "string"},
		"date":         map[string]any{"type": "string"},
		"time":         map[string]any{"type": "string"},
		"reason":       map[string]any{"type": "string"},
	},
}

// Agent tracks consecutive validation failures per session, keyed
// in-process; a real deployment would key this off the same session store
// backing History.
type Agent struct {
	store       Store
	provider    llm.Provider
	clinicOpen  string
	clinicClose string
	maxAttempts int

	attempts map[string]int
}

func NewAgent(store Store, provider llm.Provider, clinicOpen, clinicClose string, maxAttempts int) *Agent {
	return &Agent{
		store:       store,
		provider:    provider,
		clinicOpen:  clinicOpen,
		clinicClose: clinicClose,
		maxAttempts: maxAttempts,
		attempts:    map[string]int{},
	}
}

func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	fields, err := a.gather(ctx, state)
	if err != nil {
		state.FinalResponse = "Sorry, I couldn't read your booking request. Could you share your name, phone, reason, and a preferred date and time?"
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, err.Error())
		return nil
	}

	missing := missingFields(fields)
	if len(missing) > 0 {
		state.FinalResponse = clarificationFor(missing)
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, "")
		return nil
	}

	if problem := a.validate(fields); problem != "" {
		a.attempts[state.SessionID]++
		if a.attempts[state.SessionID] >= a.maxAttempts {
			state.FinalResponse = "I'm unable to complete this booking after several attempts. Please call the clinic directly so our staff can assist you."
			state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, string(phaseFailed))
			return nil
		}
		state.FinalResponse = problem
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, string(phaseValidating))
		return nil
	}

	conflict, err := a.store.ConflictExists(ctx, fields.Date, fields.Time, fields.Provider)
	if err != nil {
		state.FinalResponse = "I hit a problem checking availability. Please try again shortly."
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, err.Error())
		return nil
	}
	if conflict {
		alt := suggestAlternative(fields.Time)
		state.FinalResponse = fmt.Sprintf("That slot on %s at %s is already booked. Would %s work instead?", fields.Date, fields.Time, alt)
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, string(phaseGathering))
		return nil
	}

	appt, err := a.store.Insert(ctx, *fields)
	if err == ErrConflict {
		state.FinalResponse = "That slot was just booked by someone else. Please pick another time."
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, string(phaseGathering))
		return nil
	}
	if err != nil {
		state.FinalResponse = "I couldn't finalize the booking due to a system error. Please try again."
		state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, err.Error())
		return nil
	}

	delete(a.attempts, state.SessionID)
	state.FinalResponse = fmt.Sprintf(
		"You're booked for %s at %s. Your appointment ID is %s — keep it handy if you need to cancel or change it.",
		appt.Date, appt.Time, appt.ID.String())
	state.AppendTransition("appointment_agent", state.UserInput, state.FinalResponse, string(phaseCommitted))
	return nil
}

// extractedFields is the wire shape returned by the LLM, snake_case to
// match extractionSchema; gather() copies it into the domain Fields type.
type extractedFields struct {
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Reason      string `json:"reason"`
}

// gather parses patient_name, phone, date, time, reason out of user_input
// (the model prompt also carries recent history), via the shared
// structured-output pipeline with a regex-based heuristic fallback.
func (a *Agent) gather(ctx context.Context, state *turn.State) (*Fields, error) {
	out := heuristicGather(state.UserInput)
	if a.provider == nil {
		return &out, nil
	}

	var extracted extractedFields
	prompt := buildGatherPrompt(state)
	err := llm.Structured(ctx, a.provider, prompt, extractionSchema, &extracted, func(raw string) error {
		return nil
	})
	if err == nil {
		if extracted.PatientName != "" {
			out.PatientName = extracted.PatientName
		}
		if extracted.Phone != "" {
			out.Phone = extracted.Phone
		}
		if extracted.Date != "" {
			out.Date = extracted.Date
		}
		if extracted.Time != "" {
			out.Time = extracted.Time
		}
		if extracted.Reason != "" {
			out.Reason = extracted.Reason
		}
	}
	return &out, nil
}

func buildGatherPrompt(state *turn.State) string {
	var history strings.Builder
	for _, m := range state.RecentHistory(6) {
		fmt.Fprintf(&history, "%s: %s\n", m.Role, m.Text)
	}
	return fmt.Sprintf(`Extract appointment booking fields from this patient message and recent history.
Return patient_name, phone, date (YYYY-MM-DD), time (HH:MM 24h), reason. Leave a field empty string if absent.

Recent history:
%s
Message: %s`, history.String(), state.UserInput)
}

// heuristicGather is the deterministic base for every booking request and
// the only extraction when no model is configured: permissive regexes over
// the current message. Non-empty fields from the model overwrite it.
func heuristicGather(text string) Fields {
	var f Fields
	if m := phoneInTextRe.FindString(text); m != "" {
		f.Phone = strings.TrimSpace(m)
	}
	if m := regexp.MustCompile(`(?i)name[:\s]+([A-Za-zÀ-ỹ ]{2,40})`).FindStringSubmatch(text); len(m) > 1 {
		f.PatientName = strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile(`(?i)reason[:\s]+([^,.]{2,60})`).FindStringSubmatch(text); len(m) > 1 {
		f.Reason = strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile(`\d{1,2}(:\d{2})?\s?(am|pm)`).FindString(text); m != "" {
		f.Time = normalizeTime(m)
	}
	if d := regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|wed|thu|fri|sat|sun)\b`).FindString(text); d != "" {
		f.Date = nextWeekday(d)
	}
	return f
}

var weekdayAbbrev = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// nextWeekday resolves a bare weekday name ("Tue") to the nearest upcoming
// date in YYYY-MM-DD, the way a receptionist would interpret "book me Tue".
func nextWeekday(name string) string {
	target, ok := weekdayAbbrev[strings.ToLower(name)]
	if !ok {
		return ""
	}
	now := time.Now()
	offset := (int(target) - int(now.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return now.AddDate(0, 0, offset).Format("2006-01-02")
}

func normalizeTime(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	pm := strings.Contains(raw, "pm")
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "am"), "pm")
	raw = strings.TrimSpace(raw)
	parts := strings.SplitN(raw, ":", 2)
	hour := parts[0]
	minute := "00"
	if len(parts) > 1 {
		minute = parts[1]
	}
	h := 0
	fmt.Sscanf(hour, "%d", &h)
	if pm && h < 12 {
		h += 12
	}
	return fmt.Sprintf("%02d:%s", h, minute)
}

func missingFields(f *Fields) []string {
	var missing []string
	if strings.TrimSpace(f.PatientName) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(f.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(f.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(f.Time) == "" {
		missing = append(missing, "time")
	}
	if strings.TrimSpace(f.Reason) == "" {
		missing = append(missing, "reason")
	}
	return missing
}

func clarificationFor(missing []string) string {
	return fmt.Sprintf("To book your appointment I still need: %s. Could you share that?", strings.Join(missing, ", "))
}

// validate implements the VALIDATING phase: date not in the past, time
// within clinic hours, phone in a permissive format.
func (a *Agent) validate(f *Fields) string {
	if !phoneRe.MatchString(f.Phone) {
		return "That phone number doesn't look valid. Could you share it again?"
	}
	date, err := time.Parse("2006-01-02", f.Date)
	if err != nil {
		return "I couldn't understand that date. Please use YYYY-MM-DD."
	}
	if date.Before(time.Now().Truncate(24 * time.Hour)) {
		return "That date is in the past. Could you pick an upcoming date?"
	}
	t, err := time.Parse("15:04", f.Time)
	if err != nil {
		return "I couldn't understand that time. Please use HH:MM."
	}
	open, _ := time.Parse("15:04", a.clinicOpen)
	close, _ := time.Parse("15:04", a.clinicClose)
	if t.Before(open) || t.After(close) {
		return fmt.Sprintf("We're only open between %s and %s. Could you pick a time in that range?", a.clinicOpen, a.clinicClose)
	}
	return ""
}

func suggestAlternative(requested string) string {
	t, err := time.Parse("15:04", requested)
	if err != nil {
		return "a different time"
	}
	return t.Add(time.Hour).Format("15:04")
}
