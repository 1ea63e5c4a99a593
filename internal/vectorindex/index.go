// Package vectorindex declares the vector search capability contract and
// provides an in-memory reference adapter built on gonum.org/v1/gonum's
// vector floats. A production deployment swaps this for a real vector
// database; the core only ever depends on the interface.
package vectorindex

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/floats"
)

type Passage struct {
	SourceID string
	Text     string
	Vector   []float64
	Tags     []string // e.g. "dermatology" — used by DocumentRetriever's query formulation
}

type Candidate struct {
	Passage  string
	SourceID string
	Score    float64
}

// Index is the vector search contract: search(query_embedding, k) and
// embed(text). The core supplies the embedder here rather than requiring
// the environment to.
type Index interface {
	Search(ctx context.Context, queryEmbedding []float64, k int) ([]Candidate, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// memoryIndex is a deterministic bag-of-words cosine-similarity index,
// useful for tests, the `ingest` CLI's local mode, and as a documented
// reference implementation of the contract above.
type memoryIndex struct {
	passages []Passage
	vocab    map[string]int
}

func NewMemoryIndex(passages []Passage) Index {
	idx := &memoryIndex{passages: passages, vocab: map[string]int{}}
	for _, p := range passages {
		for _, tok := range tokenize(p.Text) {
			if _, ok := idx.vocab[tok]; !ok {
				idx.vocab[tok] = len(idx.vocab)
			}
		}
	}
	// Re-embed any passage missing a precomputed vector.
	for i := range idx.passages {
		if idx.passages[i].Vector == nil {
			idx.passages[i].Vector = idx.bagOfWords(idx.passages[i].Text)
		}
	}
	return idx
}

func (idx *memoryIndex) Embed(ctx context.Context, text string) ([]float64, error) {
	return idx.bagOfWords(text), nil
}

func (idx *memoryIndex) bagOfWords(text string) []float64 {
	vec := make([]float64, len(idx.vocab))
	for _, tok := range tokenize(text) {
		if i, ok := idx.vocab[tok]; ok {
			vec[i]++
		}
	}
	return vec
}

func (idx *memoryIndex) Search(ctx context.Context, queryEmbedding []float64, k int) ([]Candidate, error) {
	type scored struct {
		passage Passage
		score   float64
	}
	var results []scored
	for _, p := range idx.passages {
		results = append(results, scored{p, cosineSimilarity(queryEmbedding, p.Vector)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if k > len(results) {
		k = len(results)
	}
	out := make([]Candidate, 0, k)
	for _, r := range results[:k] {
		out = append(out, Candidate{Passage: r.passage.Text, SourceID: r.passage.SourceID, Score: r.score})
	}
	return out, nil
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	a, b = a[:n], b[:n]
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

func tokenize(text string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r > 127:
			cur = append(cur, toLowerRune(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
