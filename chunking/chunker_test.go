package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "Entities have names. Relations connect entities. " +
	"Chunks carry text spans. Documents own chunks. " +
	"Observations describe an entity. Confidence scores relations."

func TestSplit_Idempotent(t *testing.T) {
	opts := DefaultOptions()
	first, err := Split(sample, opts)
	require.NoError(t, err)
	second, err := Split(sample, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplit_ContiguousZeroBasedIndices(t *testing.T) {
	spans, err := Split(sample, Options{MaxTokens: 10, Overlap: 2})
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	for i, s := range spans {
		assert.Equal(t, i, s.Index)
	}
}

func TestSplit_PositionsAreWithinBounds(t *testing.T) {
	spans, err := Split(sample, Options{MaxTokens: 10, Overlap: 2})
	require.NoError(t, err)
	for _, s := range spans {
		require.True(t, s.Start < s.End)
		require.True(t, s.End <= len(sample))
		assert.Equal(t, sample[s.Start:s.End], s.Text)
	}
}

func TestSplit_Overlap(t *testing.T) {
	spans, err := Split(sample, Options{MaxTokens: 10, Overlap: 5})
	require.NoError(t, err)
	require.True(t, len(spans) > 1, "expected multiple chunks for small maxTokens")
	for i := 1; i < len(spans); i++ {
		assert.True(t, spans[i].Start < spans[i-1].End, "chunk %d should overlap chunk %d", i, i-1)
		assert.NotEmpty(t, spans[i].Text)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	spans, err := Split("   ", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestSplit_SingleSentenceFitsOneChunk(t *testing.T) {
	spans, err := Split("A single short sentence.", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "A single short sentence.", spans[0].Text)
}

func TestOptions_ValidateRejectsBadValues(t *testing.T) {
	require.Error(t, Options{MaxTokens: 0, Overlap: 0}.Validate())
	require.Error(t, Options{MaxTokens: 10, Overlap: 10}.Validate())
	require.Error(t, Options{MaxTokens: 10, Overlap: -1}.Validate())
	require.NoError(t, Options{MaxTokens: 10, Overlap: 5}.Validate())
}
