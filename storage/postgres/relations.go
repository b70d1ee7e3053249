package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// CreateRelations auto-creates missing endpoint entities as CONCEPT
// placeholders, then inserts-or-ignores each relation by its
// deterministic id.
func (a *Adapter) CreateRelations(ctx context.Context, inputs []storage.RelationInput) ([]*model.Relation, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Backend("postgres.CreateRelations", err)
	}
	defer tx.Rollback(ctx)

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

		tag, err := tx.Exec(ctx, `
			INSERT INTO relations (id, source_id, target_id, relation_type, confidence, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			relation.ID, relation.SourceID, relation.TargetID, relation.Type, relation.Confidence, marshalMetadata(relation.Metadata))
		if err != nil {
			return nil, apperr.Backend("postgres.CreateRelations", err)
		}
		if tag.RowsAffected() == 0 {
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

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Backend("postgres.CreateRelations", err)
	}
	return created, nil
}

func (a *Adapter) upsertChunkForRelation(ctx context.Context, tx pgx.Tx, relation *model.Relation) error {
	chunk := graphtext.GenerateRelationChunk(relation)
	vec, embedErr := a.embedder.Embed(ctx, chunk.Text)
	if embedErr != nil {
		a.logger.Warn("postgres: embedding relation chunk failed, continuing", "relation", relation.ID, "error", embedErr)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chunks (chunk_id, kind, relationship_id, chunk_index, text, start_pos, end_pos, embedding, metadata)
		VALUES ($1, 'relationship', $2, 0, $3, 0, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET text = excluded.text, end_pos = excluded.end_pos, embedding = excluded.embedding`,
		chunk.ID, relation.ID, chunk.Text, len(chunk.Text), vectorOrNil(vec, embedErr), marshalMetadata(chunk.Metadata)); err != nil {
		return apperr.Backend("postgres.upsertChunkForRelation", err)
	}
	return nil
}

// DeleteRelations removes matching rows by (from, to, type), computed
// deterministically without a lookup.
func (a *Adapter) DeleteRelations(ctx context.Context, inputs []storage.RelationInput) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.DeleteRelations", err)
	}
	defer tx.Rollback(ctx)

	for _, in := range inputs {
		sourceID := model.EntityID(in.From)
		targetID := model.EntityID(in.To)
		relationID := model.RelationID(sourceID, in.Type, targetID)

		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE chunk_id = $1`, model.RelationChunkID(relationID)); err != nil {
			return apperr.Backend("postgres.DeleteRelations", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM relations WHERE id = $1`, relationID)
		if err != nil {
			return apperr.Backend("postgres.DeleteRelations", err)
		}
		if tag.RowsAffected() > 0 {
			if err := a.decrementMentions(ctx, tx, sourceID, 1); err != nil {
				return err
			}
			if err := a.decrementMentions(ctx, tx, targetID, 1); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Backend("postgres.DeleteRelations", err)
	}
	return nil
}
