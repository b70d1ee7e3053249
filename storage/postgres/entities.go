package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// CreateEntities inserts-or-ignores each input by name, embedding every
// newly inserted entity within the same transaction.
func (a *Adapter) CreateEntities(ctx context.Context, inputs []storage.EntityInput) ([]*model.Entity, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Backend("postgres.CreateEntities", err)
	}
	defer tx.Rollback(ctx)

	var inserted []*model.Entity
	for _, in := range inputs {
		entity := model.NewEntity(in.Name, in.Type, in.Observations)

		tag, err := tx.Exec(ctx, `
			INSERT INTO entities (id, name, entity_type, observations, mentions, metadata)
			VALUES ($1, $2, $3, $4, 0, $5)
			ON CONFLICT (name) DO NOTHING`,
			entity.ID, entity.Name, entity.Type, marshalStrings(entity.Observations), marshalMetadata(entity.Metadata))
		if err != nil {
			return nil, apperr.Backend("postgres.CreateEntities", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
			return nil, err
		}
		inserted = append(inserted, entity)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Backend("postgres.CreateEntities", err)
	}
	return inserted, nil
}

func (a *Adapter) upsertChunkForEntity(ctx context.Context, tx pgx.Tx, entity *model.Entity) error {
	chunk := graphtext.GenerateEntityChunk(entity)
	vec, embedErr := a.embedder.Embed(ctx, chunk.Text)
	if embedErr != nil {
		a.logger.Warn("postgres: embedding entity chunk failed, continuing", "entity", entity.Name, "error", embedErr)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chunks (chunk_id, kind, entity_id, chunk_index, text, start_pos, end_pos, embedding, metadata)
		VALUES ($1, 'entity', $2, 0, $3, 0, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET text = excluded.text, end_pos = excluded.end_pos, embedding = excluded.embedding`,
		chunk.ID, entity.ID, chunk.Text, len(chunk.Text), vectorOrNil(vec, embedErr), marshalMetadata(chunk.Metadata)); err != nil {
		return apperr.Backend("postgres.upsertChunkForEntity", err)
	}

	text := entity.EmbeddingText()
	entVec, entErr := a.embedder.Embed(ctx, text)
	if entErr != nil {
		a.logger.Warn("postgres: embedding entity failed, continuing", "entity", entity.Name, "error", entErr)
		return nil
	}
	if _, err := tx.Exec(ctx, `UPDATE entities SET embedding = $2, embedding_text = $3 WHERE id = $1`,
		entity.ID, serializeVector(entVec), text); err != nil {
		return apperr.Backend("postgres.upsertChunkForEntity", err)
	}
	return nil
}

// vectorOrNil returns nil (leaving the column unset) when embedding
// failed, rather than writing a meaningless zero vector.
func vectorOrNil(vec model.Vector, err error) any {
	if err != nil {
		return nil
	}
	return serializeVector(vec)
}

// AddObservations appends only not-yet-present strings to each named
// entity, re-embedding entities that changed.
func (a *Adapter) AddObservations(ctx context.Context, inputs []storage.ObservationInput) (map[string][]string, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Backend("postgres.AddObservations", err)
	}
	defer tx.Rollback(ctx)

	added := make(map[string][]string, len(inputs))
	for _, in := range inputs {
		entity, err := a.selectEntityByName(ctx, tx, in.Name)
		if err != nil {
			continue
		}
		newlyAdded := entity.AddObservations(in.Contents)
		if len(newlyAdded) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE entities SET observations = $2 WHERE id = $1`,
			entity.ID, marshalStrings(entity.Observations)); err != nil {
			return nil, apperr.Backend("postgres.AddObservations", err)
		}
		if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
			return nil, err
		}
		added[in.Name] = newlyAdded
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Backend("postgres.AddObservations", err)
	}
	return added, nil
}

// DeleteObservations removes matching strings from each named entity.
func (a *Adapter) DeleteObservations(ctx context.Context, inputs []storage.ObservationInput) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.DeleteObservations", err)
	}
	defer tx.Rollback(ctx)

	for _, in := range inputs {
		entity, err := a.selectEntityByName(ctx, tx, in.Name)
		if err != nil {
			continue
		}
		entity.RemoveObservations(in.Contents)
		if _, err := tx.Exec(ctx, `UPDATE entities SET observations = $2 WHERE id = $1`,
			entity.ID, marshalStrings(entity.Observations)); err != nil {
			return apperr.Backend("postgres.DeleteObservations", err)
		}
		if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Backend("postgres.DeleteObservations", err)
	}
	return nil
}

// DeleteEntities cascades: relations, graph chunk, and chunk-entity
// links before the entity row. Missing names are logged, not fatal.
func (a *Adapter) DeleteEntities(ctx context.Context, names []string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.DeleteEntities", err)
	}
	defer tx.Rollback(ctx)

	for _, name := range names {
		id := model.EntityID(name)

		var exists int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM entities WHERE id = $1`, id).Scan(&exists); err != nil {
			a.logger.Warn("postgres: deleteEntities: entity not found, continuing", "name", name)
			continue
		}

		rels, err := a.selectRelationsTouching(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE chunk_id = $1`, model.RelationChunkID(rel.id)); err != nil {
				return apperr.Backend("postgres.DeleteEntities", err)
			}
			other := rel.sourceID
			if other == id {
				other = rel.targetID
			}
			if other != id {
				if err := a.decrementMentions(ctx, tx, other, 1); err != nil {
					return err
				}
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM relations WHERE source_id = $1 OR target_id = $1`, id); err != nil {
			return apperr.Backend("postgres.DeleteEntities", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunk_entities WHERE entity_id = $1`, id); err != nil {
			return apperr.Backend("postgres.DeleteEntities", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE chunk_id = $1`, model.EntityChunkID(id)); err != nil {
			return apperr.Backend("postgres.DeleteEntities", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id); err != nil {
			return apperr.Backend("postgres.DeleteEntities", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Backend("postgres.DeleteEntities", err)
	}
	return nil
}

// relationEndpoints is one relation row touching an entity under
// deletion: its id plus both endpoint ids, so the cascade can remove
// the graph chunk and decrement the surviving endpoint's mentions.
type relationEndpoints struct {
	id, sourceID, targetID string
}

// selectRelationsTouching returns every relation with entityID as
// source or target, so callers can remove their graph chunks and fix up
// endpoint mention counts before the relation rows themselves are
// deleted.
func (a *Adapter) selectRelationsTouching(ctx context.Context, tx pgx.Tx, entityID string) ([]relationEndpoints, error) {
	rows, err := tx.Query(ctx, `SELECT id, source_id, target_id FROM relations WHERE source_id = $1 OR target_id = $1`, entityID)
	if err != nil {
		return nil, apperr.Backend("postgres.selectRelationsTouching", err)
	}
	defer rows.Close()

	var rels []relationEndpoints
	for rows.Next() {
		var rel relationEndpoints
		if err := rows.Scan(&rel.id, &rel.sourceID, &rel.targetID); err != nil {
			return nil, apperr.Backend("postgres.selectRelationsTouching", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (a *Adapter) selectEntityByName(ctx context.Context, tx pgx.Tx, name string) (*model.Entity, error) {
	return a.selectEntityByID(ctx, tx, model.EntityID(name))
}

func (a *Adapter) selectEntityByID(ctx context.Context, tx pgx.Tx, id string) (*model.Entity, error) {
	var e model.Entity
	var observations, metadata []byte
	row := tx.QueryRow(ctx, `SELECT id, name, entity_type, observations, mentions, metadata, created_at FROM entities WHERE id = $1`, id)
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &observations, &e.Mentions, &metadata, &e.CreatedAt); err != nil {
		return nil, apperr.NotFound("postgres.selectEntityByID", err)
	}
	e.Observations = unmarshalStrings(observations)
	e.Metadata = unmarshalMetadata(metadata)
	return &e, nil
}

// getOrCreatePlaceholder resolves name to an entity, auto-creating a
// CONCEPT-typed placeholder if it does not yet exist (§3 invariant 1).
func (a *Adapter) getOrCreatePlaceholder(ctx context.Context, tx pgx.Tx, name string) (*model.Entity, error) {
	entity, err := a.selectEntityByName(ctx, tx, name)
	if err == nil {
		return entity, nil
	}
	entity = model.NewEntity(name, model.DefaultEntityType, nil)
	if _, err := tx.Exec(ctx, `
		INSERT INTO entities (id, name, entity_type, observations, mentions, metadata)
		VALUES ($1, $2, $3, '[]', 0, NULL)
		ON CONFLICT (name) DO NOTHING`,
		entity.ID, entity.Name, entity.Type); err != nil {
		return nil, apperr.Backend("postgres.getOrCreatePlaceholder", err)
	}
	if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (a *Adapter) incrementMentions(ctx context.Context, tx pgx.Tx, entityID string, delta int) error {
	_, err := tx.Exec(ctx, `UPDATE entities SET mentions = mentions + $2 WHERE id = $1`, entityID, delta)
	if err != nil {
		return apperr.Backend("postgres.incrementMentions", err)
	}
	return nil
}

// decrementMentions lowers an entity's mention count, flooring at zero.
func (a *Adapter) decrementMentions(ctx context.Context, tx pgx.Tx, entityID string, delta int) error {
	_, err := tx.Exec(ctx, `UPDATE entities SET mentions = GREATEST(mentions - $2, 0) WHERE id = $1`, entityID, delta)
	if err != nil {
		return apperr.Backend("postgres.decrementMentions", err)
	}
	return nil
}
