package model

import (
	"strings"
	"time"
)

// DefaultEntityType is assigned to entities created without an explicit
// type, and to placeholder entities auto-created by a relation whose
// endpoint does not yet exist.
const DefaultEntityType = "CONCEPT"

// Entity is a named node in the knowledge graph.
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"entity_type"`
	Observations []string  `json:"observations"`
	Mentions     int       `json:"mentions"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EntityID derives the deterministic id for an entity name: "entity_"
// plus the lowercased name with every run of characters other than ASCII
// letters and digits collapsed to a single underscore; leading and
// trailing runs are dropped. Two names that normalize to the same id are
// the same entity.
func EntityID(name string) string {
	return "entity_" + normalizeForID(name)
}

func normalizeForID(s string) string {
	var b strings.Builder
	lastWasUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasUnderscore = false
		default:
			if !lastWasUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastWasUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// NewEntity constructs an entity with a default type and deduplicated
// observations, ready for insertion.
func NewEntity(name, entityType string, observations []string) *Entity {
	if entityType == "" {
		entityType = DefaultEntityType
	}
	e := &Entity{
		ID:       EntityID(name),
		Name:     name,
		Type:     entityType,
		Metadata: Metadata{},
	}
	e.AddObservations(observations)
	return e
}

// AddObservations appends only the strings not already present,
// preserving insertion order, and returns the ones actually added.
func (e *Entity) AddObservations(contents []string) []string {
	seen := make(map[string]struct{}, len(e.Observations))
	for _, o := range e.Observations {
		seen[o] = struct{}{}
	}

	var added []string
	for _, c := range contents {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		e.Observations = append(e.Observations, c)
		added = append(added, c)
	}
	return added
}

// RemoveObservations removes matching strings; absent strings are
// ignored rather than treated as an error.
func (e *Entity) RemoveObservations(contents []string) []string {
	toRemove := make(map[string]struct{}, len(contents))
	for _, c := range contents {
		toRemove[c] = struct{}{}
	}

	var removed []string
	kept := e.Observations[:0]
	for _, o := range e.Observations {
		if _, ok := toRemove[o]; ok {
			removed = append(removed, o)
			continue
		}
		kept = append(kept, o)
	}
	e.Observations = kept
	return removed
}

// EmbeddingText synthesizes the canonical text used to embed the
// entity, cached by callers in entity_embedding_text.
func (e *Entity) EmbeddingText() string {
	return e.Name + ". Type: " + e.Type + ". " + strings.Join(e.Observations, ". ")
}
