package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicProvider is the default Provider, wrapping
// github.com/anthropics/anthropic-sdk-go. The core never imports a
// concrete model name beyond this one adapter.
type anthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicProvider(apiKey string) Provider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaudeSonnet4_5,
	}
}

func (p *anthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: generate: %w", err)
	}
	return concatText(msg), nil
}

func (p *anthropicProvider) GenerateStructured(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	// The Anthropic provider has no native structured-output mode wired
	// here; the shared regex-extracted JSON + schema validation pipeline in
	// extract.go adapts plain text instead. We still nudge the model with
	// the schema inline, since that measurably improves fenced-JSON
	// compliance.
	full := prompt
	if schema != nil {
		full = fmt.Sprintf("%s\n\nRespond with JSON matching this schema:\n%v", prompt, schema)
	}
	return p.Generate(ctx, full)
}

func concatText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
