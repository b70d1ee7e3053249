package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knowgraph/ragstore/storage"
)

func TestSplitBudget_EntityOnly(t *testing.T) {
	entityLimit, chunkLimit := SplitBudget(10, []storage.SearchKind{storage.SearchKindEntity})
	assert.Equal(t, 10, entityLimit)
	assert.Equal(t, 0, chunkLimit)
}

func TestSplitBudget_ChunkOnly(t *testing.T) {
	entityLimit, chunkLimit := SplitBudget(10, []storage.SearchKind{storage.SearchKindDocumentChunk})
	assert.Equal(t, 0, entityLimit)
	assert.Equal(t, 10, chunkLimit)
}

func TestAllocateRemaining(t *testing.T) {
	assert.Equal(t, 7, AllocateRemaining(10, 3))
	assert.Equal(t, 0, AllocateRemaining(10, 12))
}
