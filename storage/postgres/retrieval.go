package postgres

import (
	"context"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/retrieval"
	"github.com/knowgraph/ragstore/storage"
)

func (a *Adapter) engine() *retrieval.Engine {
	return retrieval.New(a, a, a.embedder)
}

// HybridSearch delegates to the shared scoring engine, which reaches
// back into this adapter through the VectorIndex/GraphIndex interfaces.
func (a *Adapter) HybridSearch(ctx context.Context, query string, limit int, useGraph bool) ([]model.RetrievalResult, error) {
	return a.engine().Search(ctx, query, limit, useGraph)
}

// GetDetailedContext returns a chunk's full text plus, for document
// chunks when requested, its immediate document-order neighbors.
func (a *Adapter) GetDetailedContext(ctx context.Context, chunkID string, includeSurrounding bool) (*model.DetailedContext, error) {
	chunk, err := a.selectChunkByID(ctx, chunkID)
	if err != nil {
		return nil, apperr.NotFound("postgres.GetDetailedContext", err)
	}

	entities, _ := a.EntitiesForChunk(ctx, chunkID)
	result := &model.DetailedContext{Chunk: chunk, Entities: entities}
	if chunk.DocumentID != "" {
		result.DocumentTitle, _ = a.DocumentTitle(ctx, chunk.DocumentID)
	}

	if includeSurrounding && chunk.Kind == model.ChunkKindDocument {
		if chunk.ChunkIndex > 0 {
			result.Before, _ = a.selectDocumentChunkByIndex(ctx, chunk.DocumentID, chunk.ChunkIndex-1)
		}
		result.After, _ = a.selectDocumentChunkByIndex(ctx, chunk.DocumentID, chunk.ChunkIndex+1)
	}
	return result, nil
}

func (a *Adapter) selectChunkByID(ctx context.Context, chunkID string) (*model.Chunk, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT chunk_id, kind, document_id, entity_id, relationship_id, chunk_index, text, start_pos, end_pos, metadata, created_at
		FROM chunks WHERE chunk_id = $1`, chunkID)
	return scanChunk(row)
}

func (a *Adapter) selectDocumentChunkByIndex(ctx context.Context, documentID string, index int) (*model.Chunk, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT chunk_id, kind, document_id, entity_id, relationship_id, chunk_index, text, start_pos, end_pos, metadata, created_at
		FROM chunks WHERE document_id = $1 AND chunk_index = $2`, documentID, index)
	return scanChunk(row)
}

// GetKnowledgeGraphStats reports totals and per-type/per-kind breakdowns.
func (a *Adapter) GetKnowledgeGraphStats(ctx context.Context) (*model.KnowledgeGraphStats, error) {
	stats := &model.KnowledgeGraphStats{
		EntitiesByType:  map[string]int{},
		RelationsByType: map[string]int{},
		ChunksByKind:    map[string]int{},
	}

	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.TotalEntities); err != nil {
		return nil, apperr.Backend("postgres.GetKnowledgeGraphStats", err)
	}
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relations`).Scan(&stats.TotalRelations); err != nil {
		return nil, apperr.Backend("postgres.GetKnowledgeGraphStats", err)
	}
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return nil, apperr.Backend("postgres.GetKnowledgeGraphStats", err)
	}
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return nil, apperr.Backend("postgres.GetKnowledgeGraphStats", err)
	}
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities WHERE embedding IS NOT NULL`).Scan(&stats.EmbeddedEntities); err != nil {
		return nil, apperr.Backend("postgres.GetKnowledgeGraphStats", err)
	}
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&stats.EmbeddedChunks); err != nil {
		return nil, apperr.Backend("postgres.GetKnowledgeGraphStats", err)
	}

	if err := a.countByColumn(ctx, `SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type`, stats.EntitiesByType); err != nil {
		return nil, err
	}
	if err := a.countByColumn(ctx, `SELECT relation_type, COUNT(*) FROM relations GROUP BY relation_type`, stats.RelationsByType); err != nil {
		return nil, err
	}
	if err := a.countByColumn(ctx, `SELECT kind, COUNT(*) FROM chunks GROUP BY kind`, stats.ChunksByKind); err != nil {
		return nil, err
	}
	return stats, nil
}

func (a *Adapter) countByColumn(ctx context.Context, query string, into map[string]int) error {
	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return apperr.Backend("postgres.countByColumn", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return apperr.Backend("postgres.countByColumn", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// GenerateKnowledgeGraphChunks deletes all entity/relationship chunks
// and regenerates their text, per §4.6. Embedding is a separate step
// (EmbedKnowledgeGraphChunks).
func (a *Adapter) GenerateKnowledgeGraphChunks(ctx context.Context) (int, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Backend("postgres.GenerateKnowledgeGraphChunks", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE kind IN ('entity', 'relationship')`); err != nil {
		return 0, apperr.Backend("postgres.GenerateKnowledgeGraphChunks", err)
	}

	entities, err := a.allEntities(ctx)
	if err != nil {
		return 0, err
	}
	relations, err := a.allRelations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entities {
		chunk := graphtext.GenerateEntityChunk(e)
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (chunk_id, kind, entity_id, chunk_index, text, start_pos, end_pos, metadata)
			VALUES ($1, 'entity', $2, 0, $3, 0, $4, $5)`,
			chunk.ID, e.ID, chunk.Text, len(chunk.Text), marshalMetadata(chunk.Metadata)); err != nil {
			return 0, apperr.Backend("postgres.GenerateKnowledgeGraphChunks", err)
		}
		count++
	}
	for _, r := range relations {
		chunk := graphtext.GenerateRelationChunk(r)
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (chunk_id, kind, relationship_id, chunk_index, text, start_pos, end_pos, metadata)
			VALUES ($1, 'relationship', $2, 0, $3, 0, $4, $5)`,
			chunk.ID, r.ID, chunk.Text, len(chunk.Text), marshalMetadata(chunk.Metadata)); err != nil {
			return 0, apperr.Backend("postgres.GenerateKnowledgeGraphChunks", err)
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Backend("postgres.GenerateKnowledgeGraphChunks", err)
	}
	return count, nil
}

// EmbedKnowledgeGraphChunks embeds every entity/relationship chunk
// lacking a vector.
func (a *Adapter) EmbedKnowledgeGraphChunks(ctx context.Context) (int, error) {
	return a.embedUnvectoredChunks(ctx, "entity", "relationship")
}

// embedUnvectoredChunks embeds every chunk of the given kinds that has
// no embedding yet. Also reusable for document chunks.
func (a *Adapter) embedUnvectoredChunks(ctx context.Context, kinds ...string) (int, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Backend("postgres.embedUnvectoredChunks", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT chunk_id, text FROM chunks WHERE embedding IS NULL AND kind = ANY($1)`, kinds)
	if err != nil {
		return 0, apperr.Backend("postgres.embedUnvectoredChunks", err)
	}
	type pending struct{ id, text string }
	var toEmbed []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			rows.Close()
			return 0, apperr.Backend("postgres.embedUnvectoredChunks", err)
		}
		toEmbed = append(toEmbed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Backend("postgres.embedUnvectoredChunks", err)
	}

	count := 0
	for _, p := range toEmbed {
		if err := a.embedChunkText(ctx, tx, p.id, p.text); err != nil {
			a.logger.Warn("postgres: embedding graph chunk failed, continuing", "chunk", p.id, "error", err)
			continue
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Backend("postgres.embedUnvectoredChunks", err)
	}
	return count, nil
}

// ReEmbedEverything re-embeds entities, then every document's chunks
// (without re-chunking), then regenerates and embeds graph chunks.
// A failure on one entity, document or graph-chunk step is logged and
// skipped, and the counts report only what succeeded; a failure to list
// the entities or documents ends the call with that error.
func (a *Adapter) ReEmbedEverything(ctx context.Context) (storage.ReEmbedCounts, error) {
	var counts storage.ReEmbedCounts

	entities, err := a.allEntities(ctx)
	if err != nil {
		return counts, err
	}
	for _, e := range entities {
		if err := a.reembedEntity(ctx, e); err != nil {
			a.logger.Warn("postgres: reEmbedEverything: entity failed, continuing", "entity", e.Name, "error", err)
			continue
		}
		counts.EntitiesEmbedded++
	}

	docs, err := a.ListDocuments(ctx, false)
	if err != nil {
		return counts, err
	}
	for _, d := range docs {
		n, err := a.embedDocumentChunks(ctx, d.ID, true)
		if err != nil {
			a.logger.Warn("postgres: reEmbedEverything: document failed, continuing", "document", d.ID, "error", err)
			continue
		}
		counts.ChunksEmbedded += n
	}

	if _, err := a.GenerateKnowledgeGraphChunks(ctx); err != nil {
		a.logger.Warn("postgres: reEmbedEverything: graph chunk regeneration failed", "error", err)
	} else {
		n, err := a.EmbedKnowledgeGraphChunks(ctx)
		if err != nil {
			a.logger.Warn("postgres: reEmbedEverything: graph chunk embedding failed", "error", err)
		} else {
			counts.GraphChunksEmbedded = n
		}
	}

	return counts, nil
}

func (a *Adapter) reembedEntity(ctx context.Context, e *model.Entity) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.reembedEntity", err)
	}
	defer tx.Rollback(ctx)

	if err := a.upsertChunkForEntity(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
