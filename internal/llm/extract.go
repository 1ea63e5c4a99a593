package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSON   = regexp.MustCompile("(?s)\\{.*\\}")
)

// ExtractJSON pulls a JSON object out of raw LLM text, tolerating markdown
// code fences, via regex-first extraction.
func ExtractJSON(raw string) ([]byte, error) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return []byte(m[1]), nil
	}
	if m := bareJSON.FindString(raw); m != "" {
		return []byte(m), nil
	}
	return nil, errors.New("llm: no JSON object found in response")
}

// ValidateJSON checks decoded JSON bytes against a JSON-Schema document
// (as a Go map, the shape every agent's prompt contract declares inline).
// Structured treats a validation failure like a parse failure: it retries
// once with a stricter prompt, then falls back.
func ValidateJSON(schema map[string]any, doc []byte) error {
	if schema == nil {
		return nil
	}
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	res, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return err
	}
	if err := compiler.AddResource("inline.json", res); err != nil {
		return err
	}
	sch, err := compiler.Compile("inline.json")
	if err != nil {
		return err
	}
	var inst any
	if err := json.Unmarshal(doc, &inst); err != nil {
		return err
	}
	return sch.Validate(inst)
}

// Structured runs the full contract: GenerateStructured -> ExtractJSON ->
// ValidateJSON -> json.Unmarshal into out, retrying once with a stricter
// prompt suffix if anything fails, then falling back to fallback(raw) if
// the retry also fails. This is the one pipeline every agent's LLM
// boundary goes through.
func Structured(ctx context.Context, provider Provider, prompt string, schema map[string]any, out any, fallback func(raw string) error) error {
	raw, err := provider.GenerateStructured(ctx, prompt, schema)
	if err == nil {
		if perr := parseInto(raw, schema, out); perr == nil {
			return nil
		}
	}

	stricter := prompt + "\n\nIMPORTANT: Respond with ONLY a single valid JSON object matching the schema. No markdown, no commentary."
	raw2, err2 := provider.GenerateStructured(ctx, stricter, schema)
	if err2 == nil {
		if perr := parseInto(raw2, schema, out); perr == nil {
			return nil
		}
	}

	if fallback != nil {
		return fallback(raw + "\n" + raw2)
	}
	return fmt.Errorf("llm: structured extraction failed after retry (err1=%v err2=%v)", err, err2)
}

func parseInto(raw string, schema map[string]any, out any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := ValidateJSON(schema, doc); err != nil {
		return err
	}
	return json.Unmarshal(doc, out)
}
