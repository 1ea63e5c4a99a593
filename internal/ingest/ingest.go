// Package ingest implements the offline document chunk+index population
// step: read a source directory of clinic documents, normalize and chunk
// the free text into passages for the vector index, and pass the clinic
// profile/FAQ file through after parsing. It never runs on the turn
// path; `cmd/server ingest` is its only caller.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/vectorindex"
)

// DefaultChunkSize and DefaultOverlap mirror the original pipeline's
// RecursiveCharacterTextSplitter defaults (1000/100 characters).
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 100
)

// Result is everything one ingest run produces.
type Result struct {
	FAQs     []knowledge.FAQ
	Profile  knowledge.ClinicProfile
	Passages []vectorindex.Passage
}

// clinicFile is the expected shape of <source>/clinic.json: the
// hand-curated FAQ/profile data that doesn't need chunking.
type clinicFile struct {
	Profile knowledge.ClinicProfile `json:"profile"`
	FAQs    []knowledge.FAQ         `json:"faqs"`
}

// Run reads every supported file under sourceDir and produces the
// artifacts `serve`/`evaluate` load at startup: clinic.json is copied
// through as the FAQ/profile set, and every .txt/.md file is cleaned and
// split into overlapping passages for the vector index.
func Run(sourceDir string, chunkSize, overlap int) (Result, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}

	var result Result

	clinicPath := filepath.Join(sourceDir, "clinic.json")
	if data, err := os.ReadFile(clinicPath); err == nil {
		var cf clinicFile
		if err := json.Unmarshal(data, &cf); err != nil {
			return result, fmt.Errorf("ingest: parse %s: %w", clinicPath, err)
		}
		result.FAQs = cf.FAQs
		result.Profile = cf.Profile
	}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return result, fmt.Errorf("ingest: read %s: %w", sourceDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		path := filepath.Join(sourceDir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return result, fmt.Errorf("ingest: read %s: %w", path, err)
		}
		cleaned := cleanText(string(raw))
		chunks := chunkText(cleaned, chunkSize, overlap)
		for i, chunk := range chunks {
			result.Passages = append(result.Passages, vectorindex.Passage{
				SourceID: fmt.Sprintf("%s#%d", name, i),
				Text:     chunk,
				Tags:     []string{strings.TrimSuffix(name, ext)},
			})
		}
	}

	return result, nil
}

// cleanText collapses newlines, tabs, and runs of whitespace the way the
// original loader's clean-text step did before chunking.
func cleanText(s string) string {
	s = strings.NewReplacer(
		"\n", " ",
		"\t", " ",
		"\r", " ",
		"\xa0", " ",
		"\x00", "",
	).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// chunkText splits cleaned text into overlapping windows of at most size
// runes, stepping by size-overlap each time, the same shape as the
// original's RecursiveCharacterTextSplitter at a fixed chunk size.
func chunkText(s string, size, overlap int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
