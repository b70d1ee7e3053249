// Package retrieval implements the hybrid-search scoring pipeline of
// §4.7: vector k-NN fused with graph proximity and a query-conditioned
// extractive summarizer. The engine is backend-agnostic; it operates
// over the narrow VectorIndex and GraphIndex interfaces each storage
// backend satisfies with its own ANN query and adjacency lookup.
package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/knowgraph/ragstore/embedding"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/model"
)

// ChunkMatch is one vector-index hit: a chunk and its cosine distance to
// the query (ascending = closer).
type ChunkMatch struct {
	Chunk    *model.Chunk
	Distance float64
}

// EntityMatch is one entity vector-index hit.
type EntityMatch struct {
	Entity   *model.Entity
	Distance float64
}

// VectorIndex is the ANN surface a storage backend exposes to the
// retrieval engine.
type VectorIndex interface {
	// TopKChunks searches the union of all chunk kinds (document,
	// entity, relationship), ascending distance.
	TopKChunks(ctx context.Context, query model.Vector, k int) ([]ChunkMatch, error)
}

// GraphIndex is the graph adjacency surface the retrieval engine needs
// for the graph-boost and context steps.
type GraphIndex interface {
	// FindEntityByName looks an entity up by exact, case-insensitive name.
	FindEntityByName(ctx context.Context, name string) (*model.Entity, bool, error)
	// NeighborNames returns the names of entities one hop from entityID.
	NeighborNames(ctx context.Context, entityID string) ([]string, error)
	// EntitiesForChunk returns the names of entities associated with a chunk.
	EntitiesForChunk(ctx context.Context, chunkID string) ([]string, error)
	// DocumentTitle returns a human-facing title for a document id.
	DocumentTitle(ctx context.Context, documentID string) (string, error)
}

const (
	defaultLimit        = 5
	vectorPhaseMultiple = 3

	boostEntityChunk       = 0.15
	boostRelationshipChunk = 0.25
	boostExactTermMatch    = 0.30
	boostConnectedEntity   = 0.15

	bumpEntityMention = 0.10
	bumpHasDigit      = 0.05
	bumpSignalWord    = 0.03

	minSentenceLength = 10
)

var signalWords = []string{"important", "key", "main", "primary", "essential", "critical", "significant"}

// Engine runs hybrid search against a backend's VectorIndex/GraphIndex.
type Engine struct {
	Vectors  VectorIndex
	Graph    GraphIndex
	Embedder *embedding.Embedder
}

// New builds an Engine.
func New(vectors VectorIndex, graph GraphIndex, embedder *embedding.Embedder) *Engine {
	return &Engine{Vectors: vectors, Graph: graph, Embedder: embedder}
}

// Search runs the 7-step hybrid-search algorithm of §4.7. Empty result
// sets are returned as an empty (not nil-error) slice.
func (e *Engine) Search(ctx context.Context, query string, limit int, useGraph bool) ([]model.RetrievalResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	// Step 1: embed the query.
	q, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Step 2: vector phase, top 3*limit candidates.
	matches, err := e.Vectors.TopKChunks(ctx, q, vectorPhaseMultiple*limit)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []model.RetrievalResult{}, nil
	}

	// Step 3: candidate entity set from query terms.
	queryTerms := graphtext.ExtractTerms(query, graphtext.DefaultExtractOptions(), nil)
	termSet := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		termSet[strings.ToLower(t)] = true
	}

	connected := make(map[string]bool)
	if useGraph {
		for _, t := range queryTerms {
			entity, ok, err := e.Graph.FindEntityByName(ctx, t)
			if err != nil || !ok {
				continue
			}
			names, err := e.Graph.NeighborNames(ctx, entity.ID)
			if err != nil {
				continue
			}
			for _, n := range names {
				connected[strings.ToLower(n)] = true
			}
		}
	}

	results := make([]model.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		result, err := e.scoreChunk(ctx, q, m, termSet, connected, useGraph)
		if err != nil {
			continue
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) scoreChunk(ctx context.Context, q model.Vector, m ChunkMatch, termSet, connected map[string]bool, useGraph bool) (model.RetrievalResult, error) {
	chunk := m.Chunk
	vecSim := 1.0 / (1.0 + m.Distance)

	var entityNames []string
	if e.Graph != nil {
		entityNames, _ = e.Graph.EntitiesForChunk(ctx, chunk.ID)
	}

	var graphBoost float64
	if useGraph {
		switch chunk.Kind {
		case model.ChunkKindEntity:
			graphBoost += boostEntityChunk
		case model.ChunkKindRelationship:
			graphBoost += boostRelationshipChunk
		}
		for _, name := range entityNames {
			lower := strings.ToLower(name)
			if termSet[lower] {
				graphBoost += boostExactTermMatch
			}
			if connected[lower] {
				graphBoost += boostConnectedEntity
			}
		}
	}

	keyHighlight, contentSummary, bestSentenceSim := e.summarize(ctx, q, chunk, entityNames)

	finalScore := vecSim
	if bestSentenceSim > finalScore {
		finalScore = bestSentenceSim
	}
	finalScore += graphBoost

	sourceID := chunk.DocumentID
	if sourceID == "" {
		sourceID = chunk.EntityID
	}
	if sourceID == "" {
		sourceID = chunk.RelationID
	}

	var title string
	if e.Graph != nil && chunk.DocumentID != "" {
		title, _ = e.Graph.DocumentTitle(ctx, chunk.DocumentID)
	}

	var boostPtr *float64
	if useGraph {
		boostPtr = &graphBoost
	}

	return model.RetrievalResult{
		RelevanceScore:        finalScore,
		KeyHighlight:          keyHighlight,
		ContentSummary:        contentSummary,
		ChunkID:               chunk.ID,
		DocumentTitle:         title,
		Entities:              entityNames,
		VectorSimilarity:      vecSim,
		GraphBoost:            boostPtr,
		FullContextAvailable:  chunk.Kind == model.ChunkKindDocument,
		ChunkType:             string(chunk.Kind),
		SourceID:              sourceID,
	}, nil
}

type scoredSentence struct {
	text  string
	index int
	score float64
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
var hasDigit = regexp.MustCompile(`\d`)

func splitSummarySentences(text string) []string {
	var sentences []string
	var b strings.Builder
	flush := func() {
		s := listMarker.ReplaceAllString(strings.TrimSpace(b.String()), "")
		if len(s) >= minSentenceLength {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '?' || r == '!' {
			flush()
		}
	}
	if strings.TrimSpace(b.String()) != "" {
		flush()
	}
	return sentences
}

// summarize computes, for N preferring non-adjacent sentences, the key
// highlight and reordered content summary, per step 5.
func (e *Engine) summarize(ctx context.Context, q model.Vector, chunk *model.Chunk, entityNames []string) (string, string, float64) {
	sentences := splitSummarySentences(chunk.Text)
	if len(sentences) == 0 {
		return "", "", 0
	}

	n := 2
	if chunk.Kind == model.ChunkKindRelationship {
		n = 1
	}

	scored := make([]scoredSentence, 0, len(sentences))
	for i, s := range sentences {
		vec, err := e.Embedder.Embed(ctx, s)
		if err != nil {
			continue
		}
		sim := model.CosineSimilarity(q, vec)
		sim += contextualBumps(s, entityNames)
		scored = append(scored, scoredSentence{text: s, index: i, score: sim})
	}
	if len(scored) == 0 {
		return "", "", 0
	}

	ranked := append([]scoredSentence(nil), scored...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var picked []scoredSentence
	for _, cand := range ranked {
		if len(picked) >= n {
			break
		}
		adjacent := false
		for _, p := range picked {
			if abs(p.index-cand.index) <= 1 {
				adjacent = true
				break
			}
		}
		if adjacent && len(picked) > 0 {
			continue
		}
		picked = append(picked, cand)
	}
	if len(picked) == 0 {
		picked = append(picked, ranked[0])
	}
	// Too few non-adjacent sentences: fill up to n in rank order.
	for _, cand := range ranked {
		if len(picked) >= n {
			break
		}
		taken := false
		for _, p := range picked {
			if p.index == cand.index {
				taken = true
				break
			}
		}
		if !taken {
			picked = append(picked, cand)
		}
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = p.text
	}

	return ranked[0].text, strings.Join(parts, " [...] "), ranked[0].score
}

func contextualBumps(sentence string, entityNames []string) float64 {
	var bump float64
	lower := strings.ToLower(sentence)
	for _, name := range entityNames {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			bump += bumpEntityMention
		}
	}
	if hasDigit.MatchString(sentence) {
		bump += bumpHasDigit
	}
	for _, w := range signalWords {
		if strings.Contains(lower, w) {
			bump += bumpSignalWord
			break
		}
	}
	return bump
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
