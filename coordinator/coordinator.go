// Package coordinator orchestrates the multi-step operations that span
// more than one storage.Adapter call and owns their partial-failure
// semantics (§4.8): storing a document succeeds even if its derived
// chunks or embeddings fail, and batch operations log and continue past
// per-target failures rather than aborting.
package coordinator

import (
	"context"
	"log/slog"

	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// Coordinator depends only on storage.Adapter (REDESIGN FLAGS item 1):
// it never imports a driver or dialect-specific package.
type Coordinator struct {
	adapter storage.Adapter
	logger  *slog.Logger
}

// New builds a Coordinator over adapter, logging through logger.
func New(adapter storage.Adapter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{adapter: adapter, logger: logger}
}

// StoreDocument persists doc, then chunks and embeds it. The document is
// considered stored even if chunking or embedding fails; the result
// reports the counts actually achieved.
func (c *Coordinator) StoreDocument(ctx context.Context, doc *model.Document, chunkOpts chunking.Options) (storage.DocumentStoreResult, error) {
	if err := c.adapter.StoreDocument(ctx, doc); err != nil {
		return storage.DocumentStoreResult{}, err
	}

	var result storage.DocumentStoreResult

	chunks, err := c.adapter.ChunkDocument(ctx, doc.ID, chunkOpts)
	if err != nil {
		c.logger.Error("coordinator: chunking document failed", "document_id", doc.ID, "error", err)
		return result, nil
	}
	result.ChunksCreated = len(chunks)

	embedded, err := c.adapter.EmbedChunks(ctx, doc.ID)
	if err != nil {
		c.logger.Error("coordinator: embedding chunks failed", "document_id", doc.ID, "error", err)
		return result, nil
	}
	result.ChunksEmbedded = embedded

	return result, nil
}

// ReEmbedEverything re-embeds all entities, then all document chunks,
// then regenerated graph chunks, logging the achieved counts.
func (c *Coordinator) ReEmbedEverything(ctx context.Context) (storage.ReEmbedCounts, error) {
	counts, err := c.adapter.ReEmbedEverything(ctx)
	if err != nil {
		c.logger.Error("coordinator: reEmbedEverything failed", "error", err)
		return counts, err
	}
	c.logger.Info("coordinator: reEmbedEverything complete",
		"entities_embedded", counts.EntitiesEmbedded,
		"chunks_embedded", counts.ChunksEmbedded,
		"graph_chunks_embedded", counts.GraphChunksEmbedded)
	return counts, nil
}

// DeleteEntities cascades deletion per §3 invariant 4. The adapter logs
// and skips names that do not exist; any other failure ends the call,
// its transaction rolls back, and the error is logged and returned.
func (c *Coordinator) DeleteEntities(ctx context.Context, names []string) error {
	if err := c.adapter.DeleteEntities(ctx, names); err != nil {
		c.logger.Error("coordinator: deleteEntities failed", "count", len(names), "error", err)
		return err
	}
	return nil
}

// DeleteDocuments cascades deletion per §3 invariant 4, returning
// per-id success/failure.
func (c *Coordinator) DeleteDocuments(ctx context.Context, ids []string) (storage.BatchOutcome, error) {
	outcome, err := c.adapter.DeleteDocuments(ctx, ids)
	if err != nil {
		c.logger.Error("coordinator: deleteDocuments failed", "count", len(ids), "error", err)
		return outcome, err
	}
	for _, failed := range outcome.Failed {
		c.logger.Warn("coordinator: document delete failed, continuing", "document_id", failed)
	}
	return outcome, nil
}
