// Package embedding turns entity, relationship, and chunk text into unit
// vectors. The embedding model itself (the Oracle) is an external
// concern; this package defines the narrow interface an Oracle
// implements and a deterministic fallback used when no Oracle is
// configured.
package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/knowgraph/ragstore/model"
)

// Oracle is the external embedding model. Implementations call out to a
// model server or local runtime; this package never implements one.
type Oracle interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder produces unit-norm vectors for entity, relationship, and
// chunk text, using an Oracle when configured and otherwise falling
// back to a deterministic, hash-based feature vector. The fallback
// vectors are not semantically meaningful: only their determinism and
// unit norm are guaranteed (Open Question (c)).
type Embedder struct {
	oracle Oracle
	dims   int
}

// New builds an Embedder. oracle may be nil, in which case every call
// uses the deterministic fallback.
func New(oracle Oracle, dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{oracle: oracle, dims: dims}
}

// Embed returns a unit vector for text, via the Oracle if configured.
func (e *Embedder) Embed(ctx context.Context, text string) (model.Vector, error) {
	if e.oracle != nil {
		v, err := e.oracle.Embed(ctx, text)
		if err == nil {
			return model.Normalize(v), nil
		}
	}
	return e.fallback(text), nil
}

// fallback hashes overlapping word trigrams and individual words of
// text into a fixed-size feature vector, then L2-normalizes it. Two
// calls with the same text always produce the same vector; unrelated
// text produces vectors without meaningful semantic geometry.
func (e *Embedder) fallback(text string) model.Vector {
	features := make([]float32, e.dims)

	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		e.scatter(features, w)
	}
	for i := 0; i+2 < len(words); i++ {
		trigram := words[i] + " " + words[i+1] + " " + words[i+2]
		e.scatter(features, trigram)
	}
	if len(words) == 0 {
		e.scatter(features, text)
	}

	return model.Normalize(features)
}

func (e *Embedder) scatter(features []float32, token string) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	idx := int(sum) % len(features)
	if idx < 0 {
		idx += len(features)
	}
	sign := float32(1)
	if sum&1 == 1 {
		sign = -1
	}
	features[idx] += sign
}

// EntityText returns the text embedded for an entity, per §4.5.
func EntityText(e *model.Entity) string {
	return e.EmbeddingText()
}

// RelationText returns the text embedded for a relation, per §4.5.
func RelationText(r *model.Relation) string {
	return r.EmbeddingText()
}

// ChunkText returns the text embedded for a chunk: its own stored text.
func ChunkText(c *model.Chunk) string {
	return c.Text
}
