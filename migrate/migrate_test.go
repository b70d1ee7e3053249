package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// fakeAdapter is a minimal storage.Adapter stub exercising only the
// migration-relevant methods; the rest panic if called.
type fakeAdapter struct {
	version  int
	executed []string
	records  []int
}

func (f *fakeAdapter) ExecMigration(ctx context.Context, sql string) error {
	f.executed = append(f.executed, sql)
	return nil
}

func (f *fakeAdapter) CurrentSchemaVersion(ctx context.Context) (int, error) { return f.version, nil }

func (f *fakeAdapter) RecordSchemaVersion(ctx context.Context, version int, description string) error {
	f.version = version
	f.records = append(f.records, version)
	return nil
}

func (f *fakeAdapter) RemoveSchemaVersion(ctx context.Context, version int) error {
	f.version = version - 1
	return nil
}

func (f *fakeAdapter) CreateEntities(ctx context.Context, inputs []storage.EntityInput) ([]*model.Entity, error) {
	panic("not used")
}
func (f *fakeAdapter) AddObservations(ctx context.Context, inputs []storage.ObservationInput) (map[string][]string, error) {
	panic("not used")
}
func (f *fakeAdapter) DeleteObservations(ctx context.Context, inputs []storage.ObservationInput) error {
	panic("not used")
}
func (f *fakeAdapter) CreateRelations(ctx context.Context, inputs []storage.RelationInput) ([]*model.Relation, error) {
	panic("not used")
}
func (f *fakeAdapter) DeleteRelations(ctx context.Context, inputs []storage.RelationInput) error {
	panic("not used")
}
func (f *fakeAdapter) DeleteEntities(ctx context.Context, names []string) error { panic("not used") }
func (f *fakeAdapter) ReadGraph(ctx context.Context) ([]*model.Entity, []*model.Relation, error) {
	panic("not used")
}
func (f *fakeAdapter) OpenNodes(ctx context.Context, names []string) ([]*model.Entity, []*model.Relation, error) {
	panic("not used")
}
func (f *fakeAdapter) SearchNodes(ctx context.Context, query string, limit int, kinds []storage.SearchKind) (storage.NodesSearchResult, error) {
	panic("not used")
}
func (f *fakeAdapter) StoreDocument(ctx context.Context, doc *model.Document) error {
	panic("not used")
}
func (f *fakeAdapter) ChunkDocument(ctx context.Context, documentID string, opts chunking.Options) ([]*model.Chunk, error) {
	panic("not used")
}
func (f *fakeAdapter) EmbedChunks(ctx context.Context, documentID string) (int, error) {
	panic("not used")
}
func (f *fakeAdapter) ExtractTerms(ctx context.Context, documentID string, opts graphtext.ExtractOptions) ([]string, error) {
	panic("not used")
}
func (f *fakeAdapter) LinkEntitiesToDocument(ctx context.Context, documentID string, entityNames []string) error {
	panic("not used")
}
func (f *fakeAdapter) DeleteDocuments(ctx context.Context, ids []string) (storage.BatchOutcome, error) {
	panic("not used")
}
func (f *fakeAdapter) ListDocuments(ctx context.Context, includeMetadata bool) ([]*model.Document, error) {
	panic("not used")
}
func (f *fakeAdapter) HybridSearch(ctx context.Context, query string, limit int, useGraph bool) ([]model.RetrievalResult, error) {
	panic("not used")
}
func (f *fakeAdapter) GetDetailedContext(ctx context.Context, chunkID string, includeSurrounding bool) (*model.DetailedContext, error) {
	panic("not used")
}
func (f *fakeAdapter) GetKnowledgeGraphStats(ctx context.Context) (*model.KnowledgeGraphStats, error) {
	panic("not used")
}
func (f *fakeAdapter) GenerateKnowledgeGraphChunks(ctx context.Context) (int, error) {
	panic("not used")
}
func (f *fakeAdapter) EmbedKnowledgeGraphChunks(ctx context.Context) (int, error) {
	panic("not used")
}
func (f *fakeAdapter) ReEmbedEverything(ctx context.Context) (storage.ReEmbedCounts, error) {
	panic("not used")
}
func (f *fakeAdapter) Close(ctx context.Context) error { return nil }

var _ storage.Adapter = (*fakeAdapter)(nil)

func TestManager_RunAppliesInOrder(t *testing.T) {
	adapter := &fakeAdapter{}
	migrations := []Migration{
		{Version: 2, Description: "second", UpCommon: "CREATE TABLE b(id int)"},
		{Version: 1, Description: "first", UpCommon: "CREATE TABLE a(id int)"},
	}
	mgr, err := NewManager(adapter, BackendSQLite, migrations)
	require.NoError(t, err)

	require.NoError(t, mgr.Run(context.Background()))
	assert.Equal(t, []string{"CREATE TABLE a(id int)", "CREATE TABLE b(id int)"}, adapter.executed)
	assert.Equal(t, 2, adapter.version)
}

func TestManager_RunSkipsAppliedVersions(t *testing.T) {
	adapter := &fakeAdapter{version: 1}
	migrations := []Migration{
		{Version: 1, UpCommon: "a"},
		{Version: 2, UpCommon: "b"},
	}
	mgr, err := NewManager(adapter, BackendSQLite, migrations)
	require.NoError(t, err)

	require.NoError(t, mgr.Run(context.Background()))
	assert.Equal(t, []string{"b"}, adapter.executed)
}

func TestNewManager_RejectsMigrationWithoutBackendStatement(t *testing.T) {
	migrations := []Migration{{Version: 1, UpPostgres: "only for postgres"}}
	_, err := NewManager(&fakeAdapter{}, BackendSQLite, migrations)
	require.Error(t, err)
}

func TestManager_RollbackRunsDescending(t *testing.T) {
	adapter := &fakeAdapter{version: 2}
	migrations := []Migration{
		{Version: 1, UpCommon: "up1", DownCommon: "down1"},
		{Version: 2, UpCommon: "up2", DownCommon: "down2"},
	}
	mgr, err := NewManager(adapter, BackendSQLite, migrations)
	require.NoError(t, err)

	require.NoError(t, mgr.Rollback(context.Background(), 0))
	assert.Equal(t, []string{"down2", "down1"}, adapter.executed)
}

func TestManager_RollbackMissingDownIsError(t *testing.T) {
	adapter := &fakeAdapter{version: 1}
	migrations := []Migration{{Version: 1, UpCommon: "up1"}}
	mgr, err := NewManager(adapter, BackendSQLite, migrations)
	require.NoError(t, err)

	require.Error(t, mgr.Rollback(context.Background(), 0))
}
