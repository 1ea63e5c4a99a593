// Package retriever formulates a retrieval query from top hypotheses and
// salient symptom terms, searches the vector index, then reranks.
package retriever

import (
	"context"
	"strings"

	"medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/reranker"
	"medical-ai-agent/internal/telemetry"
	"medical-ai-agent/internal/turn"
	"medical-ai-agent/internal/vectorindex"
)

const defaultMaxCalls = 2

type Agent struct {
	index    vectorindex.Index
	reranker reranker.Reranker
	k1       int
	k2       int
	maxCalls int
}

func NewAgent(index vectorindex.Index, rr reranker.Reranker, k1, k2, maxCalls int) *Agent {
	if maxCalls <= 0 {
		maxCalls = defaultMaxCalls
	}
	return &Agent{index: index, reranker: rr, k1: k1, k2: k2, maxCalls: maxCalls}
}

// Run degrades to empty evidence once this turn's dispatch count for
// document_retriever exceeds maxCalls, a finer-grained backstop than the
// orchestrator's overall MAX_STEPS guard against a supervisor loop that
// keeps re-dispatching retrieval without making progress.
func (a *Agent) Run(ctx context.Context, state *turn.State) error {
	log := telemetry.FromContext(ctx)
	query := buildQuery(state)

	if state.RetrieverCallCounts == nil {
		state.RetrieverCallCounts = map[string]int{}
	}
	state.RetrieverCallCounts[agent.NameRetriever]++
	if state.RetrieverCallCounts[agent.NameRetriever] > a.maxCalls {
		log.Warn("document_retriever: exceeded %d calls this turn, degrading to empty evidence", a.maxCalls)
		state.Evidence = nil
		state.AppendTransition("document_retriever", query, "", "retriever call budget exceeded")
		return nil
	}

	if a.index == nil {
		log.Warn("document_retriever: vector index unavailable, degrading to empty evidence")
		state.Evidence = nil
		state.AppendTransition("document_retriever", query, "", "vector index unavailable")
		return nil
	}

	queryVec, err := a.index.Embed(ctx, query)
	if err != nil {
		log.Warn("document_retriever: embed failed: %v", err)
		state.Evidence = nil
		state.AppendTransition("document_retriever", query, "", err.Error())
		return nil
	}

	candidates, err := a.index.Search(ctx, queryVec, a.k1)
	if err != nil {
		log.Warn("document_retriever: search failed: %v", err)
		state.Evidence = nil
		state.AppendTransition("document_retriever", query, "", err.Error())
		return nil
	}
	if len(candidates) == 0 {
		state.Evidence = nil
		state.AppendTransition("document_retriever", query, "", "no candidates returned")
		return nil
	}

	var results []reranker.Result
	if a.reranker != nil {
		results, err = a.reranker.Rerank(ctx, query, candidates, a.k2)
		if err != nil {
			log.Warn("document_retriever: rerank failed, falling back to raw candidates: %v", err)
			results = fromCandidates(candidates, a.k2)
		}
	} else {
		results = fromCandidates(candidates, a.k2)
	}

	evidence := make([]turn.Evidence, 0, len(results))
	for _, r := range results {
		evidence = append(evidence, turn.Evidence{Passage: r.Passage, SourceID: r.SourceID, Relevance: r.Relevance})
	}
	state.Evidence = evidence
	state.AppendTransition("document_retriever", query, summarize(evidence), "")
	return nil
}

// buildQuery concatenates the top hypotheses with salient symptom terms.
func buildQuery(state *turn.State) string {
	var parts []string
	for i, d := range state.Diagnosis {
		if i >= 2 {
			break
		}
		parts = append(parts, d.Hypothesis)
	}
	for _, s := range state.Symptoms {
		parts = append(parts, s.Name)
	}
	return strings.Join(parts, " ")
}

func fromCandidates(candidates []vectorindex.Candidate, k int) []reranker.Result {
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]reranker.Result, 0, k)
	for _, c := range candidates[:k] {
		out = append(out, reranker.Result{Passage: c.Passage, SourceID: c.SourceID, Relevance: c.Score})
	}
	return out
}

func summarize(evidence []turn.Evidence) string {
	ids := make([]string, len(evidence))
	for i, e := range evidence {
		ids[i] = e.SourceID
	}
	return strings.Join(ids, ", ")
}
