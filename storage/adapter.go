// Package storage defines the storage-backend abstraction: one
// operation-level interface, implemented by the embedded (storage/sqlite)
// and server (storage/postgres) variants. Callers (coordinator, graph,
// retrieval) depend only on this package, never on a concrete backend.
package storage

import (
	"context"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
)

// EntityInput is one entity to create.
type EntityInput struct {
	Name         string
	Type         string
	Observations []string
}

// ObservationInput is a per-entity batch of observation strings.
type ObservationInput struct {
	Name     string
	Contents []string
}

// RelationInput is one relation to create, by endpoint name.
type RelationInput struct {
	From, To, Type string
	Confidence     float64
}

// SearchKind selects which chunk kinds searchNodes draws from.
type SearchKind string

const (
	SearchKindEntity        SearchKind = "entity"
	SearchKindDocumentChunk SearchKind = "documentChunk"
)

// NodesSearchResult is the result of searchNodes: the matched entities
// and document chunks, budget-split per §4.3.
type NodesSearchResult struct {
	Entities []*model.Entity
	Chunks   []*model.Chunk
}

// DocumentStoreResult reports storeDocument's achieved counts, even when
// chunking/embedding partially failed (§3 lifecycle, §4.8).
type DocumentStoreResult struct {
	ChunksCreated  int
	ChunksEmbedded int
}

// BatchOutcome is the {succeeded, failed, errors[]} shape of §7 batch
// operations, specialized to string identifiers (names or ids).
type BatchOutcome = apperr.BatchResult[string]

// Adapter is the single storage-backend interface. Every operation takes
// a context first and returns (result, error); batch operations return
// a BatchOutcome instead of failing the whole call on a per-item error,
// per §7.
type Adapter interface {
	// Graph operations.
	CreateEntities(ctx context.Context, inputs []EntityInput) ([]*model.Entity, error)
	AddObservations(ctx context.Context, inputs []ObservationInput) (map[string][]string, error)
	DeleteObservations(ctx context.Context, inputs []ObservationInput) error
	CreateRelations(ctx context.Context, inputs []RelationInput) ([]*model.Relation, error)
	DeleteRelations(ctx context.Context, inputs []RelationInput) error
	DeleteEntities(ctx context.Context, names []string) error
	ReadGraph(ctx context.Context) ([]*model.Entity, []*model.Relation, error)
	OpenNodes(ctx context.Context, names []string) ([]*model.Entity, []*model.Relation, error)
	SearchNodes(ctx context.Context, query string, limit int, kinds []SearchKind) (NodesSearchResult, error)

	// Document/chunk operations.
	StoreDocument(ctx context.Context, doc *model.Document) error
	ChunkDocument(ctx context.Context, documentID string, opts chunking.Options) ([]*model.Chunk, error)
	EmbedChunks(ctx context.Context, documentID string) (int, error)
	ExtractTerms(ctx context.Context, documentID string, opts graphtext.ExtractOptions) ([]string, error)
	LinkEntitiesToDocument(ctx context.Context, documentID string, entityNames []string) error
	DeleteDocuments(ctx context.Context, ids []string) (BatchOutcome, error)
	ListDocuments(ctx context.Context, includeMetadata bool) ([]*model.Document, error)

	// Retrieval operations.
	HybridSearch(ctx context.Context, query string, limit int, useGraph bool) ([]model.RetrievalResult, error)
	GetDetailedContext(ctx context.Context, chunkID string, includeSurrounding bool) (*model.DetailedContext, error)
	GetKnowledgeGraphStats(ctx context.Context) (*model.KnowledgeGraphStats, error)

	// Graph-chunk synthesis and batch re-embedding.
	GenerateKnowledgeGraphChunks(ctx context.Context) (int, error)
	EmbedKnowledgeGraphChunks(ctx context.Context) (int, error)
	ReEmbedEverything(ctx context.Context) (ReEmbedCounts, error)

	// ExecMigration runs one migration statement as a single backend
	// transaction; the migrate package never imports a driver directly.
	ExecMigration(ctx context.Context, sql string) error
	CurrentSchemaVersion(ctx context.Context) (int, error)
	RecordSchemaVersion(ctx context.Context, version int, description string) error
	RemoveSchemaVersion(ctx context.Context, version int) error

	Close(ctx context.Context) error
}

// ReEmbedCounts reports per-category counts from reEmbedEverything.
type ReEmbedCounts struct {
	EntitiesEmbedded   int
	ChunksEmbedded     int
	GraphChunksEmbedded int
}
