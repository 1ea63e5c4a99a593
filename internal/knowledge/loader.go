package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// knowledgeBaseFile is the on-disk shape `ingest` writes and `serve`/
// `evaluate` read at startup: the store itself is rebuilt in-process from
// this file every run, since the bleve index backing it is memory-only.
type knowledgeBaseFile struct {
	Profile ClinicProfile `json:"profile"`
	FAQs    []FAQ         `json:"faqs"`
}

// LoadKnowledgeBase reads the FAQ set and clinic profile `ingest` produced.
func LoadKnowledgeBase(path string) ([]FAQ, ClinicProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ClinicProfile{}, fmt.Errorf("knowledge: read %s: %w", path, err)
	}
	var kb knowledgeBaseFile
	if err := json.Unmarshal(data, &kb); err != nil {
		return nil, ClinicProfile{}, fmt.Errorf("knowledge: parse %s: %w", path, err)
	}
	return kb.FAQs, kb.Profile, nil
}

// SaveKnowledgeBase writes the FAQ set and clinic profile for later loading
// by `serve` or `evaluate`, the artifact `ingest` produces.
func SaveKnowledgeBase(path string, faqs []FAQ, profile ClinicProfile) error {
	kb := knowledgeBaseFile{Profile: profile, FAQs: faqs}
	data, err := json.MarshalIndent(kb, "", "  ")
	if err != nil {
		return fmt.Errorf("knowledge: marshal knowledge base: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("knowledge: create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("knowledge: write %s: %w", path, err)
	}
	return nil
}
