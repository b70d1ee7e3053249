package sqlite

import (
	"context"
	"database/sql"

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
		return nil, apperr.NotFound("sqlite.GetDetailedContext", err)
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
	row := a.db.QueryRowContext(ctx, `
		SELECT id, kind, document_id, entity_id, relationship_id, chunk_index, text, start_pos, end_pos, metadata, created_at
		FROM chunks WHERE id = ?`, chunkID)
	return scanChunk(row)
}

func (a *Adapter) selectDocumentChunkByIndex(ctx context.Context, documentID string, index int) (*model.Chunk, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, kind, document_id, entity_id, relationship_id, chunk_index, text, start_pos, end_pos, metadata, created_at
		FROM chunks WHERE document_id = ? AND chunk_index = ?`, documentID, index)
	return scanChunk(row)
}

// GetKnowledgeGraphStats reports totals and per-type/per-kind breakdowns.
func (a *Adapter) GetKnowledgeGraphStats(ctx context.Context) (*model.KnowledgeGraphStats, error) {
	stats := &model.KnowledgeGraphStats{
		EntitiesByType:  map[string]int{},
		RelationsByType: map[string]int{},
		ChunksByKind:    map[string]int{},
	}

	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.TotalEntities); err != nil {
		return nil, apperr.Backend("sqlite.GetKnowledgeGraphStats", err)
	}
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relations`).Scan(&stats.TotalRelations); err != nil {
		return nil, apperr.Backend("sqlite.GetKnowledgeGraphStats", err)
	}
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return nil, apperr.Backend("sqlite.GetKnowledgeGraphStats", err)
	}
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return nil, apperr.Backend("sqlite.GetKnowledgeGraphStats", err)
	}
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_entities`).Scan(&stats.EmbeddedEntities); err != nil {
		return nil, apperr.Backend("sqlite.GetKnowledgeGraphStats", err)
	}
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_chunks`).Scan(&stats.EmbeddedChunks); err != nil {
		return nil, apperr.Backend("sqlite.GetKnowledgeGraphStats", err)
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
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return apperr.Backend("sqlite.countByColumn", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return apperr.Backend("sqlite.countByColumn", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// GenerateKnowledgeGraphChunks deletes all entity/relationship chunks
// (with their vectors) and regenerates their text, per §4.6. Embedding
// is a separate step (embedKnowledgeGraphChunks).
func (a *Adapter) GenerateKnowledgeGraphChunks(ctx context.Context) (int, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	// Read through a.db before the transaction takes the only connection.
	entities, err := a.allEntities(ctx)
	if err != nil {
		return 0, err
	}
	relations, err := a.allRelations(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Backend("sqlite.GenerateKnowledgeGraphChunks", err)
	}
	defer tx.Rollback()

	if err := a.deleteGraphChunks(ctx, tx); err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entities {
		chunk := graphtext.GenerateEntityChunk(e)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, kind, entity_id, chunk_index, text, start_pos, end_pos, metadata)
			VALUES (?, 'entity', ?, 0, ?, 0, ?, ?)`,
			chunk.ID, e.ID, chunk.Text, len(chunk.Text), marshalMetadata(chunk.Metadata)); err != nil {
			return 0, apperr.Backend("sqlite.GenerateKnowledgeGraphChunks", err)
		}
		count++
	}
	for _, r := range relations {
		chunk := graphtext.GenerateRelationChunk(r)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, kind, relationship_id, chunk_index, text, start_pos, end_pos, metadata)
			VALUES (?, 'relationship', ?, 0, ?, 0, ?, ?)`,
			chunk.ID, r.ID, chunk.Text, len(chunk.Text), marshalMetadata(chunk.Metadata)); err != nil {
			return 0, apperr.Backend("sqlite.GenerateKnowledgeGraphChunks", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Backend("sqlite.GenerateKnowledgeGraphChunks", err)
	}
	return count, nil
}

func (a *Adapter) deleteGraphChunks(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE kind IN ('entity', 'relationship')`)
	if err != nil {
		return apperr.Backend("sqlite.deleteGraphChunks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Backend("sqlite.deleteGraphChunks", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Backend("sqlite.deleteGraphChunks", err)
	}
	for _, id := range ids {
		if err := a.deleteChunkRow(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// EmbedKnowledgeGraphChunks embeds every entity/relationship chunk
// lacking a vector.
func (a *Adapter) EmbedKnowledgeGraphChunks(ctx context.Context) (int, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.embedUnvectoredChunks(ctx, "entity", "relationship")
}

// embedUnvectoredChunks embeds every chunk of the given kinds that has
// no vec_chunks row yet. Caller holds writeMu.
func (a *Adapter) embedUnvectoredChunks(ctx context.Context, kinds ...string) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Backend("sqlite.embedUnvectoredChunks", err)
	}
	defer tx.Rollback()

	placeholders := make([]any, len(kinds))
	query := `SELECT c.id, c.text FROM chunks c LEFT JOIN vec_chunks v ON v.chunk_rowid = c.rowid WHERE v.chunk_rowid IS NULL AND c.kind IN (`
	for i, k := range kinds {
		if i > 0 {
			query += ", "
		}
		query += "?"
		placeholders[i] = k
	}
	query += ")"

	rows, err := tx.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return 0, apperr.Backend("sqlite.embedUnvectoredChunks", err)
	}
	type pending struct{ id, text string }
	var toEmbed []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			rows.Close()
			return 0, apperr.Backend("sqlite.embedUnvectoredChunks", err)
		}
		toEmbed = append(toEmbed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Backend("sqlite.embedUnvectoredChunks", err)
	}

	count := 0
	for _, p := range toEmbed {
		if err := a.upsertChunkVector(ctx, tx, p.id, p.text); err != nil {
			a.logger.Warn("sqlite: embedding graph chunk failed, continuing", "chunk", p.id, "error", err)
			continue
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Backend("sqlite.embedUnvectoredChunks", err)
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
			a.logger.Warn("sqlite: reEmbedEverything: entity failed, continuing", "entity", e.Name, "error", err)
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
			a.logger.Warn("sqlite: reEmbedEverything: document failed, continuing", "document", d.ID, "error", err)
			continue
		}
		counts.ChunksEmbedded += n
	}

	if _, err := a.GenerateKnowledgeGraphChunks(ctx); err != nil {
		a.logger.Warn("sqlite: reEmbedEverything: graph chunk regeneration failed", "error", err)
	} else {
		n, err := a.EmbedKnowledgeGraphChunks(ctx)
		if err != nil {
			a.logger.Warn("sqlite: reEmbedEverything: graph chunk embedding failed", "error", err)
		} else {
			counts.GraphChunksEmbedded = n
		}
	}

	return counts, nil
}

func (a *Adapter) reembedEntity(ctx context.Context, e *model.Entity) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.reembedEntity", err)
	}
	defer tx.Rollback()

	if err := a.upsertChunkForEntity(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}
