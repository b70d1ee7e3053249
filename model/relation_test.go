package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelationID(t *testing.T) {
	id := RelationID("entity_react", "USES", "entity_javascript")
	assert.Equal(t, "rel_entity_react_uses_entity_javascript", id)
}

func TestRelationTypeWords(t *testing.T) {
	assert.Equal(t, "part of", RelationTypeWords("PART_OF"))
	assert.Equal(t, "uses", RelationTypeWords("USES"))
}

func TestRelation_EmbeddingText(t *testing.T) {
	r := NewRelation("entity_react", "entity_javascript", "React", "JavaScript", "USES", 1.0)
	assert.Equal(t, "React uses JavaScript", r.EmbeddingText())
}
