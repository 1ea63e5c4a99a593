// Package reranker declares the reranking contract and a reference
// in-memory implementation reusing the same gonum cosine scoring as
// vectorindex, since reranking is just a second, tighter relevance pass
// over a smaller candidate set.
package reranker

import (
	"context"
	"sort"

	"medical-ai-agent/internal/vectorindex"

	"gonum.org/v1/gonum/floats"
)

type Result struct {
	Passage   string
	SourceID  string
	Relevance float64
}

type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []vectorindex.Candidate, k int) ([]Result, error)
}

// embedder is the minimal slice of vectorindex.Index the reranker needs to
// score a query against text it otherwise only sees as strings.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type memoryReranker struct {
	embed embedder
}

func NewMemoryReranker(embed embedder) Reranker {
	return &memoryReranker{embed: embed}
}

func (r *memoryReranker) Rerank(ctx context.Context, query string, candidates []vectorindex.Candidate, k int) ([]Result, error) {
	queryVec, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	type scored struct {
		c     vectorindex.Candidate
		score float64
	}
	scoredCandidates := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		passageVec, err := r.embed.Embed(ctx, c.Passage)
		if err != nil {
			continue
		}
		// Blend the reranker's own relevance pass with the upstream
		// retrieval score, the way a cross-encoder rerank would sharpen
		// (not replace) the first-stage ANN score.
		score := 0.7*cosine(queryVec, passageVec) + 0.3*c.Score
		scoredCandidates = append(scoredCandidates, scored{c, score})
	}
	sort.Slice(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].score > scoredCandidates[j].score })

	if k > len(scoredCandidates) {
		k = len(scoredCandidates)
	}
	out := make([]Result, 0, k)
	for _, s := range scoredCandidates[:k] {
		out = append(out, Result{Passage: s.c.Passage, SourceID: s.c.SourceID, Relevance: s.score})
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
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
