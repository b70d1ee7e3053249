package sqlite

import (
	"context"
	"database/sql"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// CreateEntities inserts-or-ignores each input by name, returning the
// set actually inserted, and embeds every newly inserted entity.
func (a *Adapter) CreateEntities(ctx context.Context, inputs []storage.EntityInput) ([]*model.Entity, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Backend("sqlite.CreateEntities", err)
	}
	defer tx.Rollback()

	var inserted []*model.Entity
	for _, in := range inputs {
		entity := model.NewEntity(in.Name, in.Type, in.Observations)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, entity_type, observations, mentions, metadata)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(name) DO NOTHING`,
			entity.ID, entity.Name, entity.Type, marshalStrings(entity.Observations), marshalMetadata(entity.Metadata))
		if err != nil {
			return nil, apperr.Backend("sqlite.CreateEntities", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			continue
		}
		if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
			return nil, err
		}
		inserted = append(inserted, entity)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Backend("sqlite.CreateEntities", err)
	}
	return inserted, nil
}

// upsertChunkForEntity writes the entity's graph chunk row and, if an
// embedder is available, its vector, within an existing transaction.
func (a *Adapter) upsertChunkForEntity(ctx context.Context, tx *sql.Tx, entity *model.Entity) error {
	chunk := graphtext.GenerateEntityChunk(entity)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, kind, entity_id, chunk_index, text, start_pos, end_pos, metadata)
		VALUES (?, 'entity', ?, 0, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, end_pos = excluded.end_pos`,
		chunk.ID, entity.ID, chunk.Text, len(chunk.Text), marshalMetadata(chunk.Metadata)); err != nil {
		return apperr.Backend("sqlite.upsertChunkForEntity", err)
	}
	if err := a.upsertChunkVector(ctx, tx, chunk.ID, chunk.Text); err != nil {
		a.logger.Warn("sqlite: embedding entity chunk failed, continuing", "entity", entity.Name, "error", err)
	}
	if err := a.upsertEntityVector(ctx, tx, entity); err != nil {
		a.logger.Warn("sqlite: embedding entity failed, continuing", "entity", entity.Name, "error", err)
	}
	return nil
}

// AddObservations appends only the strings not already present to each
// named entity, re-embedding entities that changed.
func (a *Adapter) AddObservations(ctx context.Context, inputs []storage.ObservationInput) (map[string][]string, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Backend("sqlite.AddObservations", err)
	}
	defer tx.Rollback()

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
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET observations = ? WHERE id = ?`,
			marshalStrings(entity.Observations), entity.ID); err != nil {
			return nil, apperr.Backend("sqlite.AddObservations", err)
		}
		if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
			return nil, err
		}
		added[in.Name] = newlyAdded
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Backend("sqlite.AddObservations", err)
	}
	return added, nil
}

// DeleteObservations removes matching strings from each named entity;
// absent strings are not an error.
func (a *Adapter) DeleteObservations(ctx context.Context, inputs []storage.ObservationInput) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.DeleteObservations", err)
	}
	defer tx.Rollback()

	for _, in := range inputs {
		entity, err := a.selectEntityByName(ctx, tx, in.Name)
		if err != nil {
			continue
		}
		entity.RemoveObservations(in.Contents)
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET observations = ? WHERE id = ?`,
			marshalStrings(entity.Observations), entity.ID); err != nil {
			return apperr.Backend("sqlite.DeleteObservations", err)
		}
		if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Backend("sqlite.DeleteObservations", err)
	}
	return nil
}

// DeleteEntities cascades: removing the entity's relations, graph
// chunk, and chunk-entity links before the entity row itself. Missing
// names are logged, not fatal.
func (a *Adapter) DeleteEntities(ctx context.Context, names []string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.DeleteEntities", err)
	}
	defer tx.Rollback()

	for _, name := range names {
		id := model.EntityID(name)

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&exists); err != nil {
			a.logger.Warn("sqlite: deleteEntities: entity not found, continuing", "name", name)
			continue
		}

		rels, err := a.selectRelationsTouching(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			if err := a.deleteChunkRow(ctx, tx, model.RelationChunkID(rel.id)); err != nil {
				return err
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
			return apperr.Backend("sqlite.DeleteEntities", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_entities WHERE entity_id = ?`, id); err != nil {
			return apperr.Backend("sqlite.DeleteEntities", err)
		}
		chunkID := model.EntityChunkID(id)
		if err := a.deleteChunkRow(ctx, tx, chunkID); err != nil {
			return err
		}
		var entityRowid sql.NullInt64
		_ = tx.QueryRowContext(ctx, `SELECT rowid FROM entities WHERE id = ?`, id).Scan(&entityRowid)
		if entityRowid.Valid {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_entities WHERE entity_rowid = ?`, entityRowid.Int64); err != nil {
				return apperr.Backend("sqlite.DeleteEntities", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
			return apperr.Backend("sqlite.DeleteEntities", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Backend("sqlite.DeleteEntities", err)
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
func (a *Adapter) selectRelationsTouching(ctx context.Context, tx *sql.Tx, entityID string) ([]relationEndpoints, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, source_id, target_id FROM relations WHERE source_id = ? OR target_id = ?`, entityID, entityID)
	if err != nil {
		return nil, apperr.Backend("sqlite.selectRelationsTouching", err)
	}
	defer rows.Close()

	var rels []relationEndpoints
	for rows.Next() {
		var rel relationEndpoints
		if err := rows.Scan(&rel.id, &rel.sourceID, &rel.targetID); err != nil {
			return nil, apperr.Backend("sqlite.selectRelationsTouching", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (a *Adapter) deleteChunkRow(ctx context.Context, tx *sql.Tx, chunkID string) error {
	var rowid sql.NullInt64
	_ = tx.QueryRowContext(ctx, `SELECT rowid FROM chunks WHERE id = ?`, chunkID).Scan(&rowid)
	if rowid.Valid {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_rowid = ?`, rowid.Int64); err != nil {
			return apperr.Backend("sqlite.deleteChunkRow", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_entities WHERE chunk_id = ?`, chunkID); err != nil {
		return apperr.Backend("sqlite.deleteChunkRow", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, chunkID); err != nil {
		return apperr.Backend("sqlite.deleteChunkRow", err)
	}
	return nil
}

func (a *Adapter) selectEntityByName(ctx context.Context, tx *sql.Tx, name string) (*model.Entity, error) {
	return a.selectEntityByID(ctx, tx, model.EntityID(name))
}

func (a *Adapter) selectEntityByID(ctx context.Context, tx *sql.Tx, id string) (*model.Entity, error) {
	var e model.Entity
	var observations string
	var metadata sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT id, name, entity_type, observations, mentions, metadata, created_at FROM entities WHERE id = ?`, id)
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &observations, &e.Mentions, &metadata, &e.CreatedAt); err != nil {
		return nil, apperr.NotFound("sqlite.selectEntityByID", err)
	}
	e.Observations = unmarshalStrings(observations)
	e.Metadata = unmarshalMetadata(metadata)
	return &e, nil
}

// getOrCreatePlaceholder resolves name to an entity, auto-creating a
// CONCEPT-typed placeholder if it does not yet exist (§3 invariant 1).
func (a *Adapter) getOrCreatePlaceholder(ctx context.Context, tx *sql.Tx, name string) (*model.Entity, error) {
	entity, err := a.selectEntityByName(ctx, tx, name)
	if err == nil {
		return entity, nil
	}
	entity = model.NewEntity(name, model.DefaultEntityType, nil)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, name, entity_type, observations, mentions, metadata)
		VALUES (?, ?, ?, '[]', 0, NULL)
		ON CONFLICT(name) DO NOTHING`,
		entity.ID, entity.Name, entity.Type); err != nil {
		return nil, apperr.Backend("sqlite.getOrCreatePlaceholder", err)
	}
	if err := a.upsertChunkForEntity(ctx, tx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (a *Adapter) incrementMentions(ctx context.Context, tx *sql.Tx, entityID string, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE entities SET mentions = mentions + ? WHERE id = ?`, delta, entityID)
	if err != nil {
		return apperr.Backend("sqlite.incrementMentions", err)
	}
	return nil
}

// decrementMentions lowers an entity's mention count, flooring at zero.
func (a *Adapter) decrementMentions(ctx context.Context, tx *sql.Tx, entityID string, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE entities SET mentions = MAX(mentions - ?, 0) WHERE id = ?`, delta, entityID)
	if err != nil {
		return apperr.Backend("sqlite.decrementMentions", err)
	}
	return nil
}
