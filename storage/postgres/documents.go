package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// StoreDocument inserts or replaces a document row by id.
func (a *Adapter) StoreDocument(ctx context.Context, doc *model.Document) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO documents (id, content, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata`,
		doc.ID, doc.Content, marshalMetadata(doc.Metadata))
	if err != nil {
		return apperr.Backend("postgres.StoreDocument", err)
	}
	return nil
}

// ChunkDocument splits the stored document's content and replaces any
// prior chunks for that document.
func (a *Adapter) ChunkDocument(ctx context.Context, documentID string, opts chunking.Options) ([]*model.Chunk, error) {
	var content string
	if err := a.pool.QueryRow(ctx, `SELECT content FROM documents WHERE id = $1`, documentID).Scan(&content); err != nil {
		return nil, apperr.NotFound("postgres.ChunkDocument", err)
	}

	spans, err := chunking.Split(content, opts)
	if err != nil {
		return nil, err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Backend("postgres.ChunkDocument", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, apperr.Backend("postgres.ChunkDocument", err)
	}

	chunks := make([]*model.Chunk, 0, len(spans))
	for _, span := range spans {
		chunk := model.NewDocumentChunk(documentID, span.Index, span.Text, span.Start, span.End)
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (chunk_id, kind, document_id, chunk_index, text, start_pos, end_pos, metadata)
			VALUES ($1, 'document', $2, $3, $4, $5, $6, $7)`,
			chunk.ID, documentID, chunk.ChunkIndex, chunk.Text, chunk.StartPos, chunk.EndPos, marshalMetadata(chunk.Metadata)); err != nil {
			return nil, apperr.Backend("postgres.ChunkDocument", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Backend("postgres.ChunkDocument", err)
	}
	return chunks, nil
}

// EmbedChunks embeds every not-yet-embedded chunk of a document.
func (a *Adapter) EmbedChunks(ctx context.Context, documentID string) (int, error) {
	return a.embedDocumentChunks(ctx, documentID, false)
}

// embedDocumentChunks embeds a document's chunks. With overwrite false
// (ingestion-time behavior) only chunks lacking a vector are embedded;
// with overwrite true (reEmbedEverything) every chunk of the document
// is re-embedded unconditionally, matching the entity re-embed path.
func (a *Adapter) embedDocumentChunks(ctx context.Context, documentID string, overwrite bool) (int, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Backend("postgres.EmbedChunks", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT chunk_id, text FROM chunks WHERE document_id = $1 AND embedding IS NULL`
	if overwrite {
		query = `SELECT chunk_id, text FROM chunks WHERE document_id = $1`
	}
	rows, err := tx.Query(ctx, query, documentID)
	if err != nil {
		return 0, apperr.Backend("postgres.EmbedChunks", err)
	}
	type pending struct{ id, text string }
	var toEmbed []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			rows.Close()
			return 0, apperr.Backend("postgres.EmbedChunks", err)
		}
		toEmbed = append(toEmbed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Backend("postgres.EmbedChunks", err)
	}

	embedded := 0
	for _, p := range toEmbed {
		if err := a.embedChunkText(ctx, tx, p.id, p.text); err != nil {
			a.logger.Warn("postgres: embedding document chunk failed, continuing", "chunk", p.id, "error", err)
			continue
		}
		embedded++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Backend("postgres.EmbedChunks", err)
	}
	return embedded, nil
}

func (a *Adapter) embedChunkText(ctx context.Context, tx pgx.Tx, chunkID, text string) error {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE chunks SET embedding = $2 WHERE chunk_id = $1`, chunkID, serializeVector(vec))
	if err != nil {
		return apperr.Backend("postgres.embedChunkText", err)
	}
	return nil
}

// ExtractTerms runs term extraction over the document's stored content.
func (a *Adapter) ExtractTerms(ctx context.Context, documentID string, opts graphtext.ExtractOptions) ([]string, error) {
	var content string
	if err := a.pool.QueryRow(ctx, `SELECT content FROM documents WHERE id = $1`, documentID).Scan(&content); err != nil {
		return nil, apperr.NotFound("postgres.ExtractTerms", err)
	}
	return graphtext.ExtractTerms(content, opts, a.logger), nil
}

// LinkEntitiesToDocument associates named entities with every chunk of
// a document, auto-creating missing entities as CONCEPT placeholders.
func (a *Adapter) LinkEntitiesToDocument(ctx context.Context, documentID string, entityNames []string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.LinkEntitiesToDocument", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT chunk_id FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return apperr.Backend("postgres.LinkEntitiesToDocument", err)
	}
	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Backend("postgres.LinkEntitiesToDocument", err)
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Backend("postgres.LinkEntitiesToDocument", err)
	}

	for _, name := range entityNames {
		entity, err := a.getOrCreatePlaceholder(ctx, tx, name)
		if err != nil {
			return err
		}
		newLinks := 0
		for _, chunkID := range chunkIDs {
			tag, err := tx.Exec(ctx, `
				INSERT INTO chunk_entities (chunk_id, entity_id) VALUES ($1, $2)
				ON CONFLICT (chunk_id, entity_id) DO NOTHING`, chunkID, entity.ID)
			if err != nil {
				return apperr.Backend("postgres.LinkEntitiesToDocument", err)
			}
			if tag.RowsAffected() > 0 {
				newLinks++
			}
		}
		// Only newly inserted links bump mentions, keeping the
		// operation idempotent under relinking.
		if newLinks > 0 {
			if err := a.incrementMentions(ctx, tx, entity.ID, newLinks); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Backend("postgres.LinkEntitiesToDocument", err)
	}
	return nil
}

// DeleteDocuments removes each document and its chunks, reporting
// per-id success/failure (§7).
func (a *Adapter) DeleteDocuments(ctx context.Context, ids []string) (storage.BatchOutcome, error) {
	var outcome storage.BatchOutcome
	for _, id := range ids {
		if err := a.deleteOneDocument(ctx, id); err != nil {
			outcome.Add(id, err)
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, id)
	}
	return outcome, nil
}

func (a *Adapter) deleteOneDocument(ctx context.Context, id string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.deleteOneDocument", err)
	}
	defer tx.Rollback(ctx)

	var exists int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1`, id).Scan(&exists); err != nil {
		return apperr.NotFound("postgres.deleteOneDocument", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return apperr.Backend("postgres.deleteOneDocument", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return apperr.Backend("postgres.deleteOneDocument", err)
	}
	return tx.Commit(ctx)
}

// ListDocuments returns every stored document, optionally with metadata.
func (a *Adapter) ListDocuments(ctx context.Context, includeMetadata bool) ([]*model.Document, error) {
	rows, err := a.pool.Query(ctx, `SELECT id, content, metadata, created_at FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.Backend("postgres.ListDocuments", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		var d model.Document
		var metadata []byte
		if err := rows.Scan(&d.ID, &d.Content, &metadata, &d.CreatedAt); err != nil {
			return nil, apperr.Backend("postgres.ListDocuments", err)
		}
		if includeMetadata {
			d.Metadata = unmarshalMetadata(metadata)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
