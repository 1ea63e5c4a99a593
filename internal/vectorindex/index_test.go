package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryIndexEmbedsMissingVectors(t *testing.T) {
	idx := NewMemoryIndex([]Passage{
		{SourceID: "doc#0", Text: "fever and headache"},
		{SourceID: "doc#1", Text: "sore throat and cough", Vector: []float64{1, 2, 3}},
	})

	mi := idx.(*memoryIndex)
	assert.NotNil(t, mi.passages[0].Vector)
	assert.Equal(t, []float64{1, 2, 3}, mi.passages[1].Vector)
}

func TestSearchRanksMostSimilarPassageFirst(t *testing.T) {
	idx := NewMemoryIndex([]Passage{
		{SourceID: "fever", Text: "fever headache chills"},
		{SourceID: "throat", Text: "sore throat cough congestion"},
	})

	queryVec, err := idx.Embed(context.Background(), "fever and chills")
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), queryVec, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fever", results[0].SourceID)
}

func TestSearchClampsKToResultCount(t *testing.T) {
	idx := NewMemoryIndex([]Passage{{SourceID: "only", Text: "one passage"}})
	queryVec, _ := idx.Embed(context.Background(), "one passage")

	results, err := idx.Search(context.Background(), queryVec, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestCosineSimilarityHandlesMismatchedLengthsAndZeroVectors(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 0.0001)
}

func TestTokenizeLowercasesAndSplitsOnPunctuation(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, tokenize("Hello, World!"))
	assert.Empty(t, tokenize("   "))
}
