package postgres

import (
	"context"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/graph"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/retrieval"
	"github.com/knowgraph/ragstore/storage"
)

// ReadGraph returns every entity and relation, relations carrying
// endpoint names rather than ids.
func (a *Adapter) ReadGraph(ctx context.Context) ([]*model.Entity, []*model.Relation, error) {
	entities, err := a.allEntities(ctx)
	if err != nil {
		return nil, nil, err
	}
	relations, err := a.allRelations(ctx)
	if err != nil {
		return nil, nil, err
	}
	return entities, relations, nil
}

func (a *Adapter) allEntities(ctx context.Context) ([]*model.Entity, error) {
	rows, err := a.pool.Query(ctx, `SELECT id, name, entity_type, observations, mentions, metadata, created_at FROM entities ORDER BY name`)
	if err != nil {
		return nil, apperr.Backend("postgres.allEntities", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		var e model.Entity
		var observations, metadata []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &observations, &e.Mentions, &metadata, &e.CreatedAt); err != nil {
			return nil, apperr.Backend("postgres.allEntities", err)
		}
		e.Observations = unmarshalStrings(observations)
		e.Metadata = unmarshalMetadata(metadata)
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}

func (a *Adapter) allRelations(ctx context.Context) ([]*model.Relation, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT r.id, r.source_id, r.target_id, s.name, t.name, r.relation_type, r.confidence, r.metadata, r.created_at
		FROM relations r
		JOIN entities s ON s.id = r.source_id
		JOIN entities t ON t.id = r.target_id
		ORDER BY r.created_at`)
	if err != nil {
		return nil, apperr.Backend("postgres.allRelations", err)
	}
	defer rows.Close()

	var relations []*model.Relation
	for rows.Next() {
		var r model.Relation
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.SourceName, &r.TargetName, &r.Type, &r.Confidence, &metadata, &r.CreatedAt); err != nil {
			return nil, apperr.Backend("postgres.allRelations", err)
		}
		r.Metadata = unmarshalMetadata(metadata)
		relations = append(relations, &r)
	}
	return relations, rows.Err()
}

// OpenNodes returns the entities with exactly the given names plus the
// relations strictly between them.
func (a *Adapter) OpenNodes(ctx context.Context, names []string) ([]*model.Entity, []*model.Relation, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}
	ids := make(map[string]bool, len(names))
	var entities []*model.Entity
	for _, name := range names {
		id := model.EntityID(name)
		e, err := a.selectEntityByIDNoTx(ctx, id)
		if err != nil {
			continue
		}
		entities = append(entities, e)
		ids[id] = true
	}

	all, err := a.allRelations(ctx)
	if err != nil {
		return nil, nil, err
	}
	var relations []*model.Relation
	for _, r := range all {
		if ids[r.SourceID] && ids[r.TargetID] {
			relations = append(relations, r)
		}
	}
	return entities, relations, nil
}

// SearchNodes implements §4.3's budget-split rule: entities are drawn
// first, and document chunks receive whatever budget remains.
func (a *Adapter) SearchNodes(ctx context.Context, query string, limit int, kinds []storage.SearchKind) (storage.NodesSearchResult, error) {
	wantEntities, wantChunks := false, false
	for _, k := range kinds {
		switch k {
		case storage.SearchKindEntity:
			wantEntities = true
		case storage.SearchKindDocumentChunk:
			wantChunks = true
		}
	}

	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return storage.NodesSearchResult{}, apperr.Backend("postgres.SearchNodes", err)
	}

	var result storage.NodesSearchResult
	if wantEntities {
		entities, err := a.topKEntities(ctx, vec, limit)
		if err != nil {
			return storage.NodesSearchResult{}, err
		}
		result.Entities = entities
	}
	if wantChunks {
		chunkLimit := limit
		if wantEntities {
			chunkLimit = graph.AllocateRemaining(limit, len(result.Entities))
		}
		if chunkLimit > 0 {
			chunks, err := a.topKChunksByKind(ctx, vec, chunkLimit, "document")
			if err != nil {
				return storage.NodesSearchResult{}, err
			}
			result.Chunks = chunks
		}
	}
	return result, nil
}

func (a *Adapter) selectEntityByIDNoTx(ctx context.Context, id string) (*model.Entity, error) {
	var e model.Entity
	var observations, metadata []byte
	row := a.pool.QueryRow(ctx, `SELECT id, name, entity_type, observations, mentions, metadata, created_at FROM entities WHERE id = $1`, id)
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &observations, &e.Mentions, &metadata, &e.CreatedAt); err != nil {
		return nil, apperr.NotFound("postgres.selectEntityByIDNoTx", err)
	}
	e.Observations = unmarshalStrings(observations)
	e.Metadata = unmarshalMetadata(metadata)
	return &e, nil
}

// topKEntities runs an HNSW cosine-distance KNN query over the
// per-entity embeddings.
func (a *Adapter) topKEntities(ctx context.Context, vec model.Vector, k int) ([]*model.Entity, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, name, entity_type, observations, mentions, metadata, created_at
		FROM entities
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, serializeVector(vec), k)
	if err != nil {
		return nil, apperr.Backend("postgres.topKEntities", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		var e model.Entity
		var observations, metadata []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &observations, &e.Mentions, &metadata, &e.CreatedAt); err != nil {
			return nil, apperr.Backend("postgres.topKEntities", err)
		}
		e.Observations = unmarshalStrings(observations)
		e.Metadata = unmarshalMetadata(metadata)
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}

// topKChunksByKind runs an HNSW cosine-distance KNN query filtered to
// one chunk kind.
func (a *Adapter) topKChunksByKind(ctx context.Context, vec model.Vector, k int, kind string) ([]*model.Chunk, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT chunk_id, kind, document_id, entity_id, relationship_id, chunk_index, text, start_pos, end_pos, metadata, created_at
		FROM chunks
		WHERE kind = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`, kind, serializeVector(vec), k)
	if err != nil {
		return nil, apperr.Backend("postgres.topKChunksByKind", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	var c model.Chunk
	var kind string
	var documentID, entityID, relationID *string
	var metadata []byte
	if err := row.Scan(&c.ID, &kind, &documentID, &entityID, &relationID, &c.ChunkIndex, &c.Text, &c.StartPos, &c.EndPos, &metadata, &c.CreatedAt); err != nil {
		return nil, apperr.Backend("postgres.scanChunk", err)
	}
	c.Kind = model.ChunkKind(kind)
	if documentID != nil {
		c.DocumentID = *documentID
	}
	if entityID != nil {
		c.EntityID = *entityID
	}
	if relationID != nil {
		c.RelationID = *relationID
	}
	c.Metadata = unmarshalMetadata(metadata)
	return &c, nil
}

// --- retrieval.GraphIndex / retrieval.VectorIndex ---

// FindEntityByName looks an entity up by exact, case-insensitive name.
func (a *Adapter) FindEntityByName(ctx context.Context, name string) (*model.Entity, bool, error) {
	e, err := a.selectEntityByIDNoTx(ctx, model.EntityID(name))
	if err != nil {
		return nil, false, nil
	}
	return e, true, nil
}

// NeighborNames returns the names of entities one hop from entityID.
func (a *Adapter) NeighborNames(ctx context.Context, entityID string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT t.name FROM relations r JOIN entities t ON t.id = r.target_id WHERE r.source_id = $1
		UNION
		SELECT s.name FROM relations r JOIN entities s ON s.id = r.source_id WHERE r.target_id = $1`,
		entityID)
	if err != nil {
		return nil, apperr.Backend("postgres.NeighborNames", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Backend("postgres.NeighborNames", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// EntitiesForChunk returns the names of entities associated with a chunk.
func (a *Adapter) EntitiesForChunk(ctx context.Context, chunkID string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT e.name FROM chunk_entities ce JOIN entities e ON e.id = ce.entity_id WHERE ce.chunk_id = $1`, chunkID)
	if err != nil {
		return nil, apperr.Backend("postgres.EntitiesForChunk", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Backend("postgres.EntitiesForChunk", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DocumentTitle returns a human-facing title for documentID: the
// "title" metadata key if present, else the document id itself.
func (a *Adapter) DocumentTitle(ctx context.Context, documentID string) (string, error) {
	var metadata []byte
	row := a.pool.QueryRow(ctx, `SELECT metadata FROM documents WHERE id = $1`, documentID)
	if err := row.Scan(&metadata); err != nil {
		return documentID, nil
	}
	meta := unmarshalMetadata(metadata)
	if title, ok := meta["title"].(string); ok && title != "" {
		return title, nil
	}
	return documentID, nil
}

// TopKChunks runs an HNSW cosine-distance KNN query over every chunk kind.
func (a *Adapter) TopKChunks(ctx context.Context, query model.Vector, k int) ([]retrieval.ChunkMatch, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT chunk_id, kind, document_id, entity_id, relationship_id, chunk_index, text, start_pos, end_pos, metadata, created_at,
		       embedding <=> $1 AS distance
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, serializeVector(query), k)
	if err != nil {
		return nil, apperr.Backend("postgres.TopKChunks", err)
	}
	defer rows.Close()

	var matches []retrieval.ChunkMatch
	for rows.Next() {
		var c model.Chunk
		var kind string
		var documentID, entityID, relationID *string
		var metadata []byte
		var distance float64
		if err := rows.Scan(&c.ID, &kind, &documentID, &entityID, &relationID, &c.ChunkIndex, &c.Text, &c.StartPos, &c.EndPos, &metadata, &c.CreatedAt, &distance); err != nil {
			return nil, apperr.Backend("postgres.TopKChunks", err)
		}
		c.Kind = model.ChunkKind(kind)
		if documentID != nil {
			c.DocumentID = *documentID
		}
		if entityID != nil {
			c.EntityID = *entityID
		}
		if relationID != nil {
			c.RelationID = *relationID
		}
		c.Metadata = unmarshalMetadata(metadata)
		matches = append(matches, retrieval.ChunkMatch{Chunk: &c, Distance: distance})
	}
	return matches, rows.Err()
}
