package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowgraph/ragstore/embedding"
	"github.com/knowgraph/ragstore/model"
)

type fakeVectorIndex struct {
	matches []ChunkMatch
}

func (f fakeVectorIndex) TopKChunks(ctx context.Context, query model.Vector, k int) ([]ChunkMatch, error) {
	if k < len(f.matches) {
		return f.matches[:k], nil
	}
	return f.matches, nil
}

type fakeGraphIndex struct {
	entitiesByName map[string]*model.Entity
	neighbors      map[string][]string
	chunkEntities  map[string][]string
	titles         map[string]string
}

func (f fakeGraphIndex) FindEntityByName(ctx context.Context, name string) (*model.Entity, bool, error) {
	e, ok := f.entitiesByName[name]
	return e, ok, nil
}

func (f fakeGraphIndex) NeighborNames(ctx context.Context, entityID string) ([]string, error) {
	return f.neighbors[entityID], nil
}

func (f fakeGraphIndex) EntitiesForChunk(ctx context.Context, chunkID string) ([]string, error) {
	return f.chunkEntities[chunkID], nil
}

func (f fakeGraphIndex) DocumentTitle(ctx context.Context, documentID string) (string, error) {
	return f.titles[documentID], nil
}

func TestSearch_EmptyIndexReturnsEmptyNotError(t *testing.T) {
	e := New(fakeVectorIndex{}, fakeGraphIndex{}, embedding.New(nil, 32))
	results, err := e.Search(context.Background(), "anything", 5, true)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_GraphBoostForEntityChunk(t *testing.T) {
	chunk := model.NewEntityChunk("entity_ada", "Ada Lovelace is a PERSON. She wrote the first algorithm for the Analytical Engine.")
	vi := fakeVectorIndex{matches: []ChunkMatch{{Chunk: chunk, Distance: 0.2}}}
	gi := fakeGraphIndex{
		chunkEntities: map[string][]string{chunk.ID: {"Ada Lovelace"}},
	}
	e := New(vi, gi, embedding.New(nil, 32))

	results, err := e.Search(context.Background(), "Ada Lovelace", 5, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].GraphBoost)
	// 0.15 for the entity chunk kind plus 0.30 because the associated
	// entity's name equals the query term.
	assert.InDelta(t, 0.45, *results[0].GraphBoost, 1e-9)
}

func TestSearch_NoGraphBoostWhenUseGraphFalse(t *testing.T) {
	chunk := model.NewEntityChunk("entity_ada", "Ada Lovelace is a PERSON. She wrote code.")
	vi := fakeVectorIndex{matches: []ChunkMatch{{Chunk: chunk, Distance: 0.2}}}
	e := New(vi, fakeGraphIndex{}, embedding.New(nil, 32))

	results, err := e.Search(context.Background(), "Ada Lovelace", 5, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].GraphBoost)
}

func TestSearch_RespectsLimit(t *testing.T) {
	var matches []ChunkMatch
	for i := 0; i < 20; i++ {
		c := model.NewDocumentChunk("doc1", i, "Some chunk text that is long enough to summarize nicely.", 0, 10)
		matches = append(matches, ChunkMatch{Chunk: c, Distance: float64(i) * 0.01})
	}
	vi := fakeVectorIndex{matches: matches}
	e := New(vi, fakeGraphIndex{}, embedding.New(nil, 32))

	results, err := e.Search(context.Background(), "query text", 3, true)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearch_SortedDescendingByScore(t *testing.T) {
	var matches []ChunkMatch
	for i := 0; i < 5; i++ {
		c := model.NewDocumentChunk("doc1", i, "A reasonably long sentence used for testing purposes here.", 0, 10)
		matches = append(matches, ChunkMatch{Chunk: c, Distance: float64(i)})
	}
	vi := fakeVectorIndex{matches: matches}
	e := New(vi, fakeGraphIndex{}, embedding.New(nil, 32))

	results, err := e.Search(context.Background(), "query text", 5, false)
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.True(t, results[i-1].RelevanceScore >= results[i].RelevanceScore)
	}
}
