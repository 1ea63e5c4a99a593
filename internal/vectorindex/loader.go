package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// passageFile is the on-disk shape `ingest` writes after chunking source
// documents; `serve`/`evaluate` load it to build the in-process index at
// startup, since memoryIndex holds no state between runs.
type passageFile struct {
	Passages []Passage `json:"passages"`
}

// LoadPassages reads the chunked passage set `ingest` produced.
func LoadPassages(path string) ([]Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: read %s: %w", path, err)
	}
	var pf passageFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("vectorindex: parse %s: %w", path, err)
	}
	return pf.Passages, nil
}

// SavePassages writes the chunked passage set for later loading.
func SavePassages(path string, passages []Passage) error {
	data, err := json.MarshalIndent(passageFile{Passages: passages}, "", "  ")
	if err != nil {
		return fmt.Errorf("vectorindex: marshal passages: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vectorindex: create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vectorindex: write %s: %w", path, err)
	}
	return nil
}
