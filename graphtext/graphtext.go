// Package graphtext renders graph entities and relations into short
// synthetic chunks so they become part of the searchable corpus
// alongside document chunks (the Graph-Chunk Synthesizer), and extracts
// candidate entity-name terms from free text (the Term Extractor).
package graphtext

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/knowgraph/ragstore/model"
)

// EntityChunkText renders an entity as its graph-chunk text:
// "{name} is a {type}. {observations}".
func EntityChunkText(e *model.Entity) string {
	obs := strings.Join(e.Observations, ". ")
	text := fmt.Sprintf("%s is a %s.", e.Name, e.Type)
	if obs != "" {
		text += " " + obs
	}
	return text
}

// RelationChunkText renders a relation as its graph-chunk text:
// "{source} {type as words} {target}".
func RelationChunkText(r *model.Relation) string {
	source := r.SourceName
	if source == "" {
		source = r.SourceID
	}
	target := r.TargetName
	if target == "" {
		target = r.TargetID
	}
	return fmt.Sprintf("%s %s %s", source, model.RelationTypeWords(r.Type), target)
}

// GenerateEntityChunk builds the graph chunk for one entity.
func GenerateEntityChunk(e *model.Entity) *model.Chunk {
	return model.NewEntityChunk(e.ID, EntityChunkText(e))
}

// GenerateRelationChunk builds the graph chunk for one relation.
func GenerateRelationChunk(r *model.Relation) *model.Chunk {
	return model.NewRelationChunk(r.ID, RelationChunkText(r))
}

var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// ExtractOptions parameterizes extractTerms; defaults are minLength=3,
// includeCapitalized=true, no custom patterns.
type ExtractOptions struct {
	MinLength          int
	IncludeCapitalized bool
	CustomPatterns     []string
}

// DefaultExtractOptions returns the spec default options.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{MinLength: 3, IncludeCapitalized: true}
}

// ExtractTerms returns a de-duplicated, insertion-ordered list of
// candidate terms found in text. Invalid custom regexes are logged and
// skipped rather than treated as fatal.
func ExtractTerms(text string, opts ExtractOptions, logger *slog.Logger) []string {
	minLength := opts.MinLength
	if minLength <= 0 {
		minLength = 3
	}

	seen := make(map[string]bool)
	var terms []string
	add := func(candidates []string) {
		for _, c := range candidates {
			if len(c) < minLength {
				continue
			}
			key := strings.ToLower(c)
			if seen[key] {
				continue
			}
			seen[key] = true
			terms = append(terms, c)
		}
	}

	if opts.IncludeCapitalized {
		add(capitalizedPhrase.FindAllString(text, -1))
	}

	for _, pattern := range opts.CustomPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			if logger != nil {
				logger.Warn("graphtext: skipping invalid custom pattern", "pattern", pattern, "error", err)
			}
			continue
		}
		add(re.FindAllString(text, -1))
	}

	return terms
}

// SortedTerms returns a copy of terms in sorted order, for callers that
// want a deterministic (rather than insertion-ordered) output.
func SortedTerms(terms []string) []string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	return sorted
}
