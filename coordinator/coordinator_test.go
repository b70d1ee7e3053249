package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

type fakeAdapter struct {
	storeDocumentErr error
	chunkDocumentErr error
	embedChunksErr   error
	chunks           []*model.Chunk
	embeddedCount    int
	reEmbedCounts    storage.ReEmbedCounts
	deleteDocsResult storage.BatchOutcome
}

func (f *fakeAdapter) CreateEntities(ctx context.Context, inputs []storage.EntityInput) ([]*model.Entity, error) {
	return nil, nil
}
func (f *fakeAdapter) AddObservations(ctx context.Context, inputs []storage.ObservationInput) (map[string][]string, error) {
	return nil, nil
}
func (f *fakeAdapter) DeleteObservations(ctx context.Context, inputs []storage.ObservationInput) error {
	return nil
}
func (f *fakeAdapter) CreateRelations(ctx context.Context, inputs []storage.RelationInput) ([]*model.Relation, error) {
	return nil, nil
}
func (f *fakeAdapter) DeleteRelations(ctx context.Context, inputs []storage.RelationInput) error {
	return nil
}
func (f *fakeAdapter) DeleteEntities(ctx context.Context, names []string) error { return nil }
func (f *fakeAdapter) ReadGraph(ctx context.Context) ([]*model.Entity, []*model.Relation, error) {
	return nil, nil, nil
}
func (f *fakeAdapter) OpenNodes(ctx context.Context, names []string) ([]*model.Entity, []*model.Relation, error) {
	return nil, nil, nil
}
func (f *fakeAdapter) SearchNodes(ctx context.Context, query string, limit int, kinds []storage.SearchKind) (storage.NodesSearchResult, error) {
	return storage.NodesSearchResult{}, nil
}
func (f *fakeAdapter) StoreDocument(ctx context.Context, doc *model.Document) error {
	return f.storeDocumentErr
}
func (f *fakeAdapter) ChunkDocument(ctx context.Context, documentID string, opts chunking.Options) ([]*model.Chunk, error) {
	if f.chunkDocumentErr != nil {
		return nil, f.chunkDocumentErr
	}
	return f.chunks, nil
}
func (f *fakeAdapter) EmbedChunks(ctx context.Context, documentID string) (int, error) {
	if f.embedChunksErr != nil {
		return 0, f.embedChunksErr
	}
	return f.embeddedCount, nil
}
func (f *fakeAdapter) ExtractTerms(ctx context.Context, documentID string, opts graphtext.ExtractOptions) ([]string, error) {
	return nil, nil
}
func (f *fakeAdapter) LinkEntitiesToDocument(ctx context.Context, documentID string, entityNames []string) error {
	return nil
}
func (f *fakeAdapter) DeleteDocuments(ctx context.Context, ids []string) (storage.BatchOutcome, error) {
	return f.deleteDocsResult, nil
}
func (f *fakeAdapter) ListDocuments(ctx context.Context, includeMetadata bool) ([]*model.Document, error) {
	return nil, nil
}
func (f *fakeAdapter) HybridSearch(ctx context.Context, query string, limit int, useGraph bool) ([]model.RetrievalResult, error) {
	return nil, nil
}
func (f *fakeAdapter) GetDetailedContext(ctx context.Context, chunkID string, includeSurrounding bool) (*model.DetailedContext, error) {
	return nil, nil
}
func (f *fakeAdapter) GetKnowledgeGraphStats(ctx context.Context) (*model.KnowledgeGraphStats, error) {
	return nil, nil
}
func (f *fakeAdapter) GenerateKnowledgeGraphChunks(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeAdapter) EmbedKnowledgeGraphChunks(ctx context.Context) (int, error)    { return 0, nil }
func (f *fakeAdapter) ReEmbedEverything(ctx context.Context) (storage.ReEmbedCounts, error) {
	return f.reEmbedCounts, nil
}
func (f *fakeAdapter) ExecMigration(ctx context.Context, sql string) error         { return nil }
func (f *fakeAdapter) CurrentSchemaVersion(ctx context.Context) (int, error)       { return 0, nil }
func (f *fakeAdapter) RecordSchemaVersion(ctx context.Context, v int, d string) error { return nil }
func (f *fakeAdapter) RemoveSchemaVersion(ctx context.Context, v int) error        { return nil }
func (f *fakeAdapter) Close(ctx context.Context) error                            { return nil }

var _ storage.Adapter = (*fakeAdapter)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreDocument_SucceedsDespiteEmbedFailure(t *testing.T) {
	doc := &model.Document{ID: "doc1", Content: "hello"}
	adapter := &fakeAdapter{
		chunks:         []*model.Chunk{model.NewDocumentChunk("doc1", 0, "hello", 0, 5)},
		embedChunksErr: errors.New("oracle down"),
	}
	c := New(adapter, discardLogger())

	result, err := c.StoreDocument(context.Background(), doc, chunking.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksCreated)
	assert.Equal(t, 0, result.ChunksEmbedded)
}

func TestStoreDocument_FailsIfStoreDocumentFails(t *testing.T) {
	doc := &model.Document{ID: "doc1", Content: "hello"}
	adapter := &fakeAdapter{storeDocumentErr: errors.New("disk full")}
	c := New(adapter, discardLogger())

	_, err := c.StoreDocument(context.Background(), doc, chunking.DefaultOptions())
	require.Error(t, err)
}

func TestStoreDocument_ReportsAchievedCounts(t *testing.T) {
	doc := &model.Document{ID: "doc1", Content: "hello world"}
	adapter := &fakeAdapter{
		chunks:        []*model.Chunk{model.NewDocumentChunk("doc1", 0, "hello world", 0, 11)},
		embeddedCount: 1,
	}
	c := New(adapter, discardLogger())

	result, err := c.StoreDocument(context.Background(), doc, chunking.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksCreated)
	assert.Equal(t, 1, result.ChunksEmbedded)
}

func TestDeleteDocuments_LogsFailuresAndContinues(t *testing.T) {
	adapter := &fakeAdapter{
		deleteDocsResult: storage.BatchOutcome{Succeeded: []string{"doc1"}, Failed: []string{"doc2"}, Errors: []string{"not found"}},
	}
	c := New(adapter, discardLogger())

	outcome, err := c.DeleteDocuments(context.Background(), []string{"doc1", "doc2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, outcome.Succeeded)
	assert.Equal(t, []string{"doc2"}, outcome.Failed)
}
