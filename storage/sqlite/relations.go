package sqlite

import (
	"context"
	"database/sql"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// CreateRelations auto-creates missing endpoint entities as CONCEPT
// placeholders, then inserts-or-ignores each relation by its
// deterministic id, embedding newly inserted relations' graph chunk and
// bumping endpoint mention counts.
func (a *Adapter) CreateRelations(ctx context.Context, inputs []storage.RelationInput) ([]*model.Relation, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Backend("sqlite.CreateRelations", err)
	}
	defer tx.Rollback()

	var created []*model.Relation
	for _, in := range inputs {
		confidence := in.Confidence
		if confidence == 0 {
			confidence = 1.0
		}

		source, err := a.getOrCreatePlaceholder(ctx, tx, in.From)
		if err != nil {
			return nil, err
		}
		target, err := a.getOrCreatePlaceholder(ctx, tx, in.To)
		if err != nil {
			return nil, err
		}

		relation := model.NewRelation(source.ID, target.ID, source.Name, target.Name, in.Type, confidence)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO relations (id, source_id, target_id, relation_type, confidence, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			relation.ID, relation.SourceID, relation.TargetID, relation.Type, relation.Confidence, marshalMetadata(relation.Metadata))
		if err != nil {
			return nil, apperr.Backend("sqlite.CreateRelations", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			continue
		}

		if err := a.upsertChunkForRelation(ctx, tx, relation); err != nil {
			return nil, err
		}
		if err := a.incrementMentions(ctx, tx, source.ID, 1); err != nil {
			return nil, err
		}
		if err := a.incrementMentions(ctx, tx, target.ID, 1); err != nil {
			return nil, err
		}
		created = append(created, relation)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Backend("sqlite.CreateRelations", err)
	}
	return created, nil
}

func (a *Adapter) upsertChunkForRelation(ctx context.Context, tx *sql.Tx, relation *model.Relation) error {
	chunk := graphtext.GenerateRelationChunk(relation)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, kind, relationship_id, chunk_index, text, start_pos, end_pos, metadata)
		VALUES (?, 'relationship', ?, 0, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, end_pos = excluded.end_pos`,
		chunk.ID, relation.ID, chunk.Text, len(chunk.Text), marshalMetadata(chunk.Metadata)); err != nil {
		return apperr.Backend("sqlite.upsertChunkForRelation", err)
	}
	if err := a.upsertChunkVector(ctx, tx, chunk.ID, chunk.Text); err != nil {
		a.logger.Warn("sqlite: embedding relation chunk failed, continuing", "relation", relation.ID, "error", err)
	}
	return nil
}

// DeleteRelations removes matching rows by (from, to, type).
func (a *Adapter) DeleteRelations(ctx context.Context, inputs []storage.RelationInput) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.DeleteRelations", err)
	}
	defer tx.Rollback()

	for _, in := range inputs {
		sourceID := model.EntityID(in.From)
		targetID := model.EntityID(in.To)
		relationID := model.RelationID(sourceID, in.Type, targetID)

		if err := a.deleteChunkRow(ctx, tx, model.RelationChunkID(relationID)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE id = ?`, relationID)
		if err != nil {
			return apperr.Backend("sqlite.DeleteRelations", err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			if err := a.decrementMentions(ctx, tx, sourceID, 1); err != nil {
				return err
			}
			if err := a.decrementMentions(ctx, tx, targetID, 1); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Backend("sqlite.DeleteRelations", err)
	}
	return nil
}
