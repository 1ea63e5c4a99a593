// Package report builds the clinical handoff PDF sent to the on-call
// doctor's Telegram chat whenever a turn reaches a red-flag diagnosis,
// summarizing the symptoms, leading hypotheses, and
// recommended next steps gathered during the conversation.
package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"medical-ai-agent/internal/turn"

	"github.com/signintech/gopdf"
)

type TelegramClient interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, filename string, data []byte, caption string) error
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
}

func NewService(tg TelegramClient, doctorChatID int64) *Service {
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
	}
}

var fontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// SendDoctorHandoff renders the turn's accumulated symptoms, diagnosis
// hypotheses, and investigations into a PDF and pushes it to the
// configured doctor chat; the orchestrator calls it for turns whose
// diagnosis carries a red flag.
func (s *Service) SendDoctorHandoff(ctx context.Context, state *turn.State) error {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return fmt.Errorf("report: failed to load font, ensure ttf-dejavu is installed: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return err
	}
	pdf.Cell(nil, "Clinical Handoff Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return err
	}
	pdf.Cell(nil, fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Session: %s", state.SessionID))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Trace: %s", state.TraceID))
	pdf.Br(15)
	if state.HasRedFlag() {
		pdf.Cell(nil, "Escalation reason: red-flag diagnosis pattern matched")
		pdf.Br(15)
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Reported Symptoms")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}
	if len(state.Symptoms) == 0 {
		pdf.Cell(nil, "- No structured symptoms extracted.")
		pdf.Br(15)
	}
	for _, sym := range state.Symptoms {
		line := fmt.Sprintf("- %s (severity: %s, duration: %s, site: %s)", sym.Name, orDash(string(sym.Severity)), orDash(sym.Duration), orDash(sym.Site))
		writeWrapped(&pdf, line)
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Diagnosis Hypotheses")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}
	if len(state.Diagnosis) == 0 {
		pdf.Cell(nil, "- No hypotheses generated.")
		pdf.Br(15)
	}
	for _, d := range state.Diagnosis {
		flag := ""
		if d.RedFlag {
			flag = " [RED FLAG]"
		}
		line := fmt.Sprintf("- %s (p=%.2f)%s: %s", d.Hypothesis, d.Probability, flag, d.Rationale)
		writeWrapped(&pdf, line)
	}
	pdf.Br(10)

	if len(state.Investigations) > 0 {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return err
		}
		pdf.Cell(nil, "Recommended Investigations")
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return err
		}
		for _, inv := range state.Investigations {
			label := inv.Question
			if label == "" {
				label = inv.Test
			}
			writeWrapped(&pdf, fmt.Sprintf("- %s (%s)", label, inv.Reason))
		}
		pdf.Br(10)
	}

	if state.FinalResponse != "" {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return err
		}
		pdf.Cell(nil, "Message Sent to Patient")
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return err
		}
		writeWrapped(&pdf, state.FinalResponse)
	}

	pdf.SetY(270)
	if err := pdf.SetFont("DejaVu", "", 9); err != nil {
		return err
	}
	pdf.Cell(nil, "Generated by the triage assistant. Not a substitute for clinical judgment.")

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return fmt.Errorf("report: write PDF: %w", err)
	}

	filename := fmt.Sprintf("handoff_%s.pdf", state.TraceID)
	caption := fmt.Sprintf("Handoff for session %s", state.SessionID)
	if err := s.tgClient.SendDocument(s.doctorChatID, filename, buf.Bytes(), caption); err != nil {
		return fmt.Errorf("report: send document: %w", err)
	}
	return nil
}

func writeWrapped(pdf *gopdf.GoPdf, line string) {
	lines, _ := pdf.SplitText(line, 500)
	for _, l := range lines {
		pdf.Cell(nil, l)
		pdf.Br(12)
	}
	pdf.Br(3)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
