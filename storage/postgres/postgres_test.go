//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/config"
	"github.com/knowgraph/ragstore/embedding"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
	"github.com/knowgraph/ragstore/storage/postgres"
)

func documentFixture(id, content string) *model.Document {
	return &model.Document{ID: id, Content: content}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// openTestAdapter starts a throwaway pgvector/pgvector container and
// opens an Adapter against it, tearing both down on test cleanup.
func openTestAdapter(t *testing.T) *postgres.Adapter {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("ragstore_test"),
		tcpostgres.WithUsername("ragstore"),
		tcpostgres.WithPassword("ragstore"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.Config{
		DBType:           config.DBTypePostgreSQL,
		PGHost:           host,
		PGPort:           port.Int(),
		PGDatabase:       "ragstore_test",
		PGUsername:       "ragstore",
		PGPassword:       "ragstore",
		PGSSL:            "false",
		PoolMin:          1,
		PoolMax:          4,
		VectorDimensions: 32,
	}
	embedder := embedding.New(nil, cfg.VectorDimensions)
	adapter, err := postgres.Open(ctx, cfg, embedder, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })
	return adapter
}

func TestCreateEntitiesAndReadGraph(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	created, err := a.CreateEntities(ctx, []storage.EntityInput{
		{Name: "JavaScript", Type: "TECHNOLOGY", Observations: []string{"Programming language"}},
		{Name: "React", Type: "TECHNOLOGY", Observations: []string{"JavaScript library"}},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	_, err = a.CreateRelations(ctx, []storage.RelationInput{
		{From: "React", To: "JavaScript", Type: "USES"},
	})
	require.NoError(t, err)

	entities, relations, err := a.ReadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	require.Len(t, relations, 1)
	require.Equal(t, "React", relations[0].SourceName)
	require.Equal(t, "JavaScript", relations[0].TargetName)
}

func TestCreateRelationsAutoCreatesPlaceholderEntities(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	_, err := a.CreateRelations(ctx, []storage.RelationInput{
		{From: "Ada Lovelace", To: "Charles Babbage", Type: "WORKED_WITH"},
	})
	require.NoError(t, err)

	entities, _, err := a.ReadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	for _, e := range entities {
		require.Equal(t, "CONCEPT", e.Type)
	}
}

func TestDeleteEntitiesCascadesRelations(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	_, err := a.CreateEntities(ctx, []storage.EntityInput{{Name: "JavaScript", Type: "TECHNOLOGY"}, {Name: "React", Type: "TECHNOLOGY"}})
	require.NoError(t, err)
	_, err = a.CreateRelations(ctx, []storage.RelationInput{{From: "React", To: "JavaScript", Type: "USES"}})
	require.NoError(t, err)

	relationID := model.RelationID(model.EntityID("React"), "USES", model.EntityID("JavaScript"))
	_, err = a.GetDetailedContext(ctx, model.RelationChunkID(relationID), false)
	require.NoError(t, err, "relation graph-chunk should exist before the cascade")

	require.NoError(t, a.DeleteEntities(ctx, []string{"JavaScript"}))

	entities, relations, err := a.ReadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Empty(t, relations)

	_, err = a.GetDetailedContext(ctx, model.RelationChunkID(relationID), false)
	require.Error(t, err, "relation graph-chunk must be cascaded away with the relation")
}

func TestStoreDocumentChunkAndEmbed(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "First sentence here. Second sentence follows. Third one wraps up.")))

	chunks, err := a.ChunkDocument(ctx, "doc1", chunking.DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	embedded, err := a.EmbedChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, len(chunks), embedded)
}

func TestListDocumentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "first stored")))
	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc2", "second stored")))
	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc3", "third stored")))

	docs, err := a.ListDocuments(ctx, false)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, []string{"doc3", "doc2", "doc1"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func TestExtractTermsAndLinkEntitiesToDocument(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "Ada Lovelace worked with Charles Babbage on the Analytical Engine.")))
	_, err := a.ChunkDocument(ctx, "doc1", chunking.DefaultOptions())
	require.NoError(t, err)

	terms, err := a.ExtractTerms(ctx, "doc1", graphtext.DefaultExtractOptions())
	require.NoError(t, err)
	require.NotEmpty(t, terms)

	require.NoError(t, a.LinkEntitiesToDocument(ctx, "doc1", []string{"Ada Lovelace"}))

	entities, _, err := a.ReadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
}

func TestHybridSearchReturnsResults(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "The mitochondria is the powerhouse of the cell. It produces ATP for energy.")))
	_, err := a.ChunkDocument(ctx, "doc1", chunking.DefaultOptions())
	require.NoError(t, err)
	_, err = a.EmbedChunks(ctx, "doc1")
	require.NoError(t, err)

	results, err := a.HybridSearch(ctx, "what powers the cell", 5, true)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func mentionsOf(t *testing.T, a *postgres.Adapter, name string) int {
	t.Helper()
	entities, _, err := a.ReadGraph(context.Background())
	require.NoError(t, err)
	for _, e := range entities {
		if e.Name == name {
			return e.Mentions
		}
	}
	t.Fatalf("entity %q not found", name)
	return 0
}

func TestMentionsTrackRelationAndLinkLifecycles(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	_, err := a.CreateEntities(ctx, []storage.EntityInput{
		{Name: "React", Type: "TECHNOLOGY"},
		{Name: "JavaScript", Type: "TECHNOLOGY"},
	})
	require.NoError(t, err)

	rel := []storage.RelationInput{{From: "React", To: "JavaScript", Type: "USES"}}
	_, err = a.CreateRelations(ctx, rel)
	require.NoError(t, err)
	require.Equal(t, 1, mentionsOf(t, a, "React"))
	require.Equal(t, 1, mentionsOf(t, a, "JavaScript"))

	require.NoError(t, a.DeleteRelations(ctx, rel))
	require.Equal(t, 0, mentionsOf(t, a, "React"))
	require.Equal(t, 0, mentionsOf(t, a, "JavaScript"))

	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "React renders user interfaces. It compiles down to JavaScript calls.")))
	chunks, err := a.ChunkDocument(ctx, "doc1", chunking.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, a.LinkEntitiesToDocument(ctx, "doc1", []string{"React"}))
	require.Equal(t, len(chunks), mentionsOf(t, a, "React"))
	require.NoError(t, a.LinkEntitiesToDocument(ctx, "doc1", []string{"React"}))
	require.Equal(t, len(chunks), mentionsOf(t, a, "React"))

	_, err = a.CreateRelations(ctx, rel)
	require.NoError(t, err)
	jsBefore := mentionsOf(t, a, "JavaScript")
	require.NoError(t, a.DeleteEntities(ctx, []string{"React"}))
	require.Equal(t, jsBefore-1, mentionsOf(t, a, "JavaScript"))
}

func TestSearchNodesSplitsBudgetEntitiesFirst(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	_, err := a.CreateEntities(ctx, []storage.EntityInput{
		{Name: "Machine Learning", Type: "CONCEPT", Observations: []string{"A field of artificial intelligence"}},
		{Name: "Neural Networks", Type: "CONCEPT", Observations: []string{"Layered learning models"}},
	})
	require.NoError(t, err)

	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "Machine learning models are trained on data. They improve with more examples.")))
	_, err = a.ChunkDocument(ctx, "doc1", chunking.DefaultOptions())
	require.NoError(t, err)
	_, err = a.EmbedChunks(ctx, "doc1")
	require.NoError(t, err)

	both := []storage.SearchKind{storage.SearchKindEntity, storage.SearchKindDocumentChunk}

	result, err := a.SearchNodes(ctx, "machine learning", 2, both)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	require.Empty(t, result.Chunks)

	result, err = a.SearchNodes(ctx, "machine learning", 5, both)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	require.NotEmpty(t, result.Chunks)
}

func TestGetKnowledgeGraphStats(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	_, err := a.CreateEntities(ctx, []storage.EntityInput{{Name: "JavaScript", Type: "TECHNOLOGY"}})
	require.NoError(t, err)

	stats, err := a.GetKnowledgeGraphStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalEntities)
	require.Equal(t, 1, stats.EntitiesByType["TECHNOLOGY"])
	require.Equal(t, 1, stats.EmbeddedEntities)
}

func TestReEmbedEverything(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	_, err := a.CreateEntities(ctx, []storage.EntityInput{{Name: "JavaScript", Type: "TECHNOLOGY"}})
	require.NoError(t, err)
	require.NoError(t, a.StoreDocument(ctx, documentFixture("doc1", "Some content to chunk and embed for testing purposes.")))
	chunks, err := a.ChunkDocument(ctx, "doc1", chunking.DefaultOptions())
	require.NoError(t, err)

	// Embed every chunk up front, as ordinary ingestion would, so the
	// chunks reaching reEmbedEverything already carry vectors.
	embedded, err := a.EmbedChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, len(chunks), embedded)

	counts, err := a.ReEmbedEverything(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.EntitiesEmbedded)
	require.Equal(t, len(chunks), counts.ChunksEmbedded, "reEmbedEverything must re-embed already-embedded document chunks, not just new ones")
}

func TestMigrationPrimitives(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	version, err := a.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, version)

	require.NoError(t, a.RecordSchemaVersion(ctx, 1, "initial"))
	version, err = a.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, version)

	require.NoError(t, a.RemoveSchemaVersion(ctx, 1))
	version, err = a.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, version)
}
