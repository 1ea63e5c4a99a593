// Package vision declares the multimodal capability the image analysis
// agent needs, and a default adapter backed by Gemini.
package vision

import "context"

// Request bundles an image and the bounded set of focused questions the
// image analysis agent wants answered in the same call.
type Request struct {
	ImageData []byte
	MimeType  string
	UserText  string
	Questions []string
}

// Response is the structured result of one multimodal call.
type Response struct {
	Description string
	Answers     map[string]string
	Hedging     []string // hedging terms found, used to derive Confidence
}

type Provider interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}
