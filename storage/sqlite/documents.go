package sqlite

import (
	"context"
	"database/sql"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// StoreDocument inserts or replaces a document row by id; it does not
// chunk or embed (§3's lifecycle: store, then chunk, then embed are
// separate steps).
func (a *Adapter) StoreDocument(ctx context.Context, doc *model.Document) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, metadata)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata`,
		doc.ID, doc.Content, marshalMetadata(doc.Metadata))
	if err != nil {
		return apperr.Backend("sqlite.StoreDocument", err)
	}
	return nil
}

// ChunkDocument splits the stored document's content with chunking.Split
// and replaces any prior chunks for that document.
func (a *Adapter) ChunkDocument(ctx context.Context, documentID string, opts chunking.Options) ([]*model.Chunk, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	var content string
	if err := a.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE id = ?`, documentID).Scan(&content); err != nil {
		return nil, apperr.NotFound("sqlite.ChunkDocument", err)
	}

	spans, err := chunking.Split(content, opts)
	if err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Backend("sqlite.ChunkDocument", err)
	}
	defer tx.Rollback()

	if err := a.deleteDocumentChunks(ctx, tx, documentID); err != nil {
		return nil, err
	}

	chunks := make([]*model.Chunk, 0, len(spans))
	for _, span := range spans {
		chunk := model.NewDocumentChunk(documentID, span.Index, span.Text, span.Start, span.End)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, kind, document_id, chunk_index, text, start_pos, end_pos, metadata)
			VALUES (?, 'document', ?, ?, ?, ?, ?, ?)`,
			chunk.ID, documentID, chunk.ChunkIndex, chunk.Text, chunk.StartPos, chunk.EndPos, marshalMetadata(chunk.Metadata)); err != nil {
			return nil, apperr.Backend("sqlite.ChunkDocument", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Backend("sqlite.ChunkDocument", err)
	}
	return chunks, nil
}

func (a *Adapter) deleteDocumentChunks(ctx context.Context, tx *sql.Tx, documentID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return apperr.Backend("sqlite.deleteDocumentChunks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Backend("sqlite.deleteDocumentChunks", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Backend("sqlite.deleteDocumentChunks", err)
	}
	for _, id := range ids {
		if err := a.deleteChunkRow(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// EmbedChunks embeds every not-yet-embedded chunk of a document,
// returning the count embedded.
func (a *Adapter) EmbedChunks(ctx context.Context, documentID string) (int, error) {
	return a.embedDocumentChunks(ctx, documentID, false)
}

// embedDocumentChunks embeds a document's chunks. With overwrite false
// (ingestion-time behavior) only chunks lacking a vector are embedded;
// with overwrite true (reEmbedEverything) every chunk of the document
// is re-embedded unconditionally, matching the entity re-embed path.
func (a *Adapter) embedDocumentChunks(ctx context.Context, documentID string, overwrite bool) (int, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Backend("sqlite.EmbedChunks", err)
	}
	defer tx.Rollback()

	query := `
		SELECT c.id, c.text FROM chunks c
		LEFT JOIN vec_chunks v ON v.chunk_rowid = c.rowid
		WHERE c.document_id = ? AND v.chunk_rowid IS NULL`
	if overwrite {
		query = `SELECT c.id, c.text FROM chunks c WHERE c.document_id = ?`
	}
	rows, err := tx.QueryContext(ctx, query, documentID)
	if err != nil {
		return 0, apperr.Backend("sqlite.EmbedChunks", err)
	}
	type pending struct{ id, text string }
	var toEmbed []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			rows.Close()
			return 0, apperr.Backend("sqlite.EmbedChunks", err)
		}
		toEmbed = append(toEmbed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Backend("sqlite.EmbedChunks", err)
	}

	embedded := 0
	for _, p := range toEmbed {
		if err := a.upsertChunkVector(ctx, tx, p.id, p.text); err != nil {
			a.logger.Warn("sqlite: embedding document chunk failed, continuing", "chunk", p.id, "error", err)
			continue
		}
		embedded++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Backend("sqlite.EmbedChunks", err)
	}
	return embedded, nil
}

// ExtractTerms runs term extraction over the document's stored content.
func (a *Adapter) ExtractTerms(ctx context.Context, documentID string, opts graphtext.ExtractOptions) ([]string, error) {
	var content string
	if err := a.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE id = ?`, documentID).Scan(&content); err != nil {
		return nil, apperr.NotFound("sqlite.ExtractTerms", err)
	}
	return graphtext.ExtractTerms(content, opts, a.logger), nil
}

// LinkEntitiesToDocument associates named entities with every chunk of
// a document, auto-creating missing entities as CONCEPT placeholders.
func (a *Adapter) LinkEntitiesToDocument(ctx context.Context, documentID string, entityNames []string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.LinkEntitiesToDocument", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return apperr.Backend("sqlite.LinkEntitiesToDocument", err)
	}
	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Backend("sqlite.LinkEntitiesToDocument", err)
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Backend("sqlite.LinkEntitiesToDocument", err)
	}

	for _, name := range entityNames {
		entity, err := a.getOrCreatePlaceholder(ctx, tx, name)
		if err != nil {
			return err
		}
		newLinks := 0
		for _, chunkID := range chunkIDs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO chunk_entities (chunk_id, entity_id) VALUES (?, ?)
				ON CONFLICT(chunk_id, entity_id) DO NOTHING`, chunkID, entity.ID)
			if err != nil {
				return apperr.Backend("sqlite.LinkEntitiesToDocument", err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
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

	if err := tx.Commit(); err != nil {
		return apperr.Backend("sqlite.LinkEntitiesToDocument", err)
	}
	return nil
}

// DeleteDocuments removes each document and its chunks, reporting
// per-id success/failure rather than failing the whole batch (§7).
func (a *Adapter) DeleteDocuments(ctx context.Context, ids []string) (storage.BatchOutcome, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

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
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.deleteOneDocument", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&exists); err != nil {
		return apperr.NotFound("sqlite.deleteOneDocument", err)
	}
	if err := a.deleteDocumentChunks(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return apperr.Backend("sqlite.deleteOneDocument", err)
	}
	return tx.Commit()
}

// ListDocuments returns every stored document, optionally with content
// metadata attached.
func (a *Adapter) ListDocuments(ctx context.Context, includeMetadata bool) ([]*model.Document, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, content, metadata, created_at FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.Backend("sqlite.ListDocuments", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		var d model.Document
		var metadata sql.NullString
		if err := rows.Scan(&d.ID, &d.Content, &metadata, &d.CreatedAt); err != nil {
			return nil, apperr.Backend("sqlite.ListDocuments", err)
		}
		if includeMetadata {
			d.Metadata = unmarshalMetadata(metadata)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
