package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// geminiProvider wraps google.golang.org/genai for multimodal vision
// calls.
type geminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey string) (Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("vision: gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: "gemini-2.0-flash"}, nil
}

type visionSchemaOut struct {
	Description string            `json:"description"`
	Answers     map[string]string `json:"answers"`
}

// hedgingTerms is the bilingual hedge vocabulary used to derive
// Confidence below.
var hedgingTerms = []string{
	"maybe", "possibly", "unclear", "uncertain", "hard to tell",
	"có thể", "không rõ", "khó xác định", "chưa chắc",
}

func (g *geminiProvider) Analyze(ctx context.Context, req Request) (*Response, error) {
	prompt := buildVisionPrompt(req)

	parts := []*genai.Part{
		{Text: prompt},
		{InlineData: &genai.Blob{MIMEType: req.MimeType, Data: req.ImageData}},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("vision: generate: %w", err)
	}

	raw := result.Text()
	var parsed visionSchemaOut
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("vision: malformed structured response: %w", err)
	}

	hedges := detectHedging(raw)
	return &Response{
		Description: parsed.Description,
		Answers:     parsed.Answers,
		Hedging:     hedges,
	}, nil
}

func buildVisionPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are a clinical image triage assistant. Given the attached image and the patient's ")
	sb.WriteString("symptom text, produce a single JSON object with a visual \"description\" and an ")
	sb.WriteString("\"answers\" map keyed by each focused question below. Never assert a diagnosis; describe ")
	sb.WriteString("only what is visually observable.\n\n")
	if req.UserText != "" {
		fmt.Fprintf(&sb, "Patient text: %s\n\n", req.UserText)
	}
	sb.WriteString("Questions:\n")
	for _, q := range req.Questions {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	return sb.String()
}

func detectHedging(raw string) []string {
	lower := strings.ToLower(raw)
	var found []string
	for _, term := range hedgingTerms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

// Confidence derives a [0,1] scalar from answer completeness (fraction of
// requested questions actually answered) and explicit hedging.
func Confidence(questions []string, resp *Response) float64 {
	if len(questions) == 0 {
		return 0.5
	}
	answered := 0
	for _, q := range questions {
		if a, ok := resp.Answers[q]; ok && strings.TrimSpace(a) != "" {
			answered++
		}
	}
	completeness := float64(answered) / float64(len(questions))
	hedgePenalty := 0.1 * float64(len(resp.Hedging))
	confidence := completeness - hedgePenalty
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
