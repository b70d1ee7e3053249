// Package graph is a thin facade over storage.Adapter exposing the
// entity/relation-centric operations (readGraph, openNodes, searchNodes)
// to callers that should not depend on the full Adapter surface, plus
// the shared searchNodes budget-split rule of §4.3 that both storage
// backends use against their own ANN queries.
package graph

import (
	"context"

	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// Store wraps a storage.Adapter.
type Store struct {
	adapter storage.Adapter
}

// New builds a Store over adapter.
func New(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

// ReadGraph returns every entity and relation.
func (s *Store) ReadGraph(ctx context.Context) ([]*model.Entity, []*model.Relation, error) {
	return s.adapter.ReadGraph(ctx)
}

// OpenNodes returns the entities with exactly the given names, plus
// relations strictly between them.
func (s *Store) OpenNodes(ctx context.Context, names []string) ([]*model.Entity, []*model.Relation, error) {
	return s.adapter.OpenNodes(ctx, names)
}

// SearchNodes runs a budget-split vector search across entities and/or
// document chunks.
func (s *Store) SearchNodes(ctx context.Context, query string, limit int, kinds []storage.SearchKind) (storage.NodesSearchResult, error) {
	return s.adapter.SearchNodes(ctx, query, limit, kinds)
}

// SplitBudget implements §4.3's rule: when both entity and
// document-chunk search are requested, entities are drawn first and the
// remaining budget goes to document chunks. The storage backends do not
// call it; they work out which kinds are requested themselves and share
// AllocateRemaining for the chunk budget.
func SplitBudget(limit int, kinds []storage.SearchKind) (entityLimit, chunkLimit int) {
	wantEntities, wantChunks := false, false
	for _, k := range kinds {
		switch k {
		case storage.SearchKindEntity:
			wantEntities = true
		case storage.SearchKindDocumentChunk:
			wantChunks = true
		}
	}

	switch {
	case wantEntities && wantChunks:
		return limit, 0 // filled in by AllocateRemaining once entity results are known.
	case wantEntities:
		return limit, 0
	case wantChunks:
		return 0, limit
	default:
		return 0, 0
	}
}

// AllocateRemaining returns the document-chunk budget left over after
// entitiesFound entities were drawn against a combined search of limit,
// per the "entities first, remainder to chunks" rule.
func AllocateRemaining(limit, entitiesFound int) int {
	remaining := limit - entitiesFound
	if remaining < 0 {
		return 0
	}
	return remaining
}
