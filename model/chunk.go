package model

import (
	"fmt"
	"time"

	"github.com/knowgraph/ragstore/apperr"
)

// ChunkKind is the tagged-variant discriminant for a Chunk: exactly one
// of a chunk's owner fields (DocumentID, EntityID, RelationID) is set,
// and it must match Kind.
type ChunkKind string

const (
	ChunkKindDocument     ChunkKind = "document"
	ChunkKindEntity       ChunkKind = "entity"
	ChunkKindRelationship ChunkKind = "relationship"
)

// Chunk is a contiguous, independently embeddable fragment of text: a
// slice of a document, or a rendered entity/relation description.
type Chunk struct {
	ID         string    `json:"chunk_id"`
	Kind       ChunkKind `json:"kind"`
	DocumentID string    `json:"document_id,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	RelationID string    `json:"relationship_id,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	StartPos   int       `json:"start_pos"`
	EndPos     int       `json:"end_pos"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Similarity is populated by retrieval queries; it is never persisted.
	Similarity *float64 `json:"similarity,omitempty"`
}

// DocumentChunkID derives the id of the index-th chunk of a document.
func DocumentChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// EntityChunkID derives the id of an entity's synthesized graph chunk.
func EntityChunkID(entityID string) string {
	return "kg_entity_" + entityID
}

// RelationChunkID derives the id of a relation's synthesized graph
// chunk.
func RelationChunkID(relationID string) string {
	return "kg_relationship_" + relationID
}

// NewDocumentChunk builds a document chunk with consistent owner
// references.
func NewDocumentChunk(documentID string, index int, text string, start, end int) *Chunk {
	return &Chunk{
		ID:         DocumentChunkID(documentID, index),
		Kind:       ChunkKindDocument,
		DocumentID: documentID,
		ChunkIndex: index,
		Text:       text,
		StartPos:   start,
		EndPos:     end,
		Metadata:   Metadata{},
	}
}

// NewEntityChunk builds an entity graph chunk. Positions are undefined
// for graph chunks and set to the span of the rendered text.
func NewEntityChunk(entityID, text string) *Chunk {
	return &Chunk{
		ID:       EntityChunkID(entityID),
		Kind:     ChunkKindEntity,
		EntityID: entityID,
		Text:     text,
		StartPos: 0,
		EndPos:   len(text),
		Metadata: Metadata{},
	}
}

// NewRelationChunk builds a relationship graph chunk.
func NewRelationChunk(relationID, text string) *Chunk {
	return &Chunk{
		ID:         RelationChunkID(relationID),
		Kind:       ChunkKindRelationship,
		RelationID: relationID,
		Text:       text,
		StartPos:   0,
		EndPos:     len(text),
		Metadata:   Metadata{},
	}
}

// Validate checks that exactly one owner field is set and that it
// matches Kind.
func (c *Chunk) Validate() error {
	switch c.Kind {
	case ChunkKindDocument:
		if c.DocumentID == "" || c.EntityID != "" || c.RelationID != "" {
			return apperr.Validation("Chunk.Validate", fmt.Errorf("document chunk %q must set document_id only", c.ID))
		}
	case ChunkKindEntity:
		if c.EntityID == "" || c.DocumentID != "" || c.RelationID != "" {
			return apperr.Validation("Chunk.Validate", fmt.Errorf("entity chunk %q must set entity_id only", c.ID))
		}
	case ChunkKindRelationship:
		if c.RelationID == "" || c.DocumentID != "" || c.EntityID != "" {
			return apperr.Validation("Chunk.Validate", fmt.Errorf("relationship chunk %q must set relationship_id only", c.ID))
		}
	default:
		return apperr.Validation("Chunk.Validate", fmt.Errorf("chunk %q has unknown kind %q", c.ID, c.Kind))
	}
	return nil
}
