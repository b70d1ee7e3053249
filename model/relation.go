package model

import (
	"strings"
	"time"
)

// Relation is a directed, typed edge between two entities.
type Relation struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	SourceName string    `json:"source_name,omitempty"`
	TargetName string    `json:"target_name,omitempty"`
	Type       string    `json:"relation_type"`
	Confidence float64   `json:"confidence"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RelationID derives the deterministic id for a relation: uniqueness is
// by this id, so creating the same (source, type, target) twice is a
// no-op insert-or-ignore.
func RelationID(sourceID, relationType, targetID string) string {
	return "rel_" + sourceID + "_" + strings.ToLower(relationType) + "_" + targetID
}

// NewRelation constructs a relation between two already-resolved entity
// ids.
func NewRelation(sourceID, targetID, sourceName, targetName, relationType string, confidence float64) *Relation {
	return &Relation{
		ID:         RelationID(sourceID, relationType, targetID),
		SourceID:   sourceID,
		TargetID:   targetID,
		SourceName: sourceName,
		TargetName: targetName,
		Type:       relationType,
		Confidence: confidence,
		Metadata:   Metadata{},
	}
}

// EmbeddingText synthesizes the canonical text used to embed the
// relation's graph chunk.
func (r *Relation) EmbeddingText() string {
	return r.SourceName + " " + RelationTypeWords(r.Type) + " " + r.TargetName
}

// RelationTypeWords turns a SCREAMING_SNAKE relation type like
// "PART_OF" into lowercase, space-separated words: "part of".
func RelationTypeWords(relationType string) string {
	return strings.ToLower(strings.ReplaceAll(relationType, "_", " "))
}
