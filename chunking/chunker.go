// Package chunking splits document text into an ordered sequence of
// character-addressed spans. It implements the sentence-bounded
// algorithm: the external Tokenizer is out of scope, so token counts are
// approximated as ⌈len/4⌉ rather than encoded exactly.
package chunking

import (
	"fmt"
	"strings"

	"github.com/knowgraph/ragstore/apperr"
)

// Options parameterizes chunking; defaults are (200, 20) per the
// contract.
type Options struct {
	MaxTokens int
	Overlap   int
}

// DefaultOptions returns the spec default (maxTokens=200, overlap=20).
func DefaultOptions() Options {
	return Options{MaxTokens: 200, Overlap: 20}
}

// Validate rejects nonsensical option combinations at the boundary
// instead of producing confusing chunker output.
func (o Options) Validate() error {
	if o.MaxTokens <= 0 {
		return apperr.Validation("chunking.Options.Validate", fmt.Errorf("maxTokens must be positive, got %d", o.MaxTokens))
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxTokens {
		return apperr.Validation("chunking.Options.Validate", fmt.Errorf("overlap must be in [0, maxTokens), got %d", o.Overlap))
	}
	return nil
}

// Span is one chunk of the source text, with half-open character
// positions [Start, End).
type Span struct {
	Index int
	Text  string
	Start int
	End   int
}

// approxTokens estimates token count as defined by the spec: ⌈len/4⌉.
func approxTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

type sentence struct {
	text       string
	start, end int
}

// splitSentences splits text on '.', '?', '!' boundaries, recording the
// character offsets of each sentence within the original text.
func splitSentences(text string) []sentence {
	var sentences []sentence
	start := 0
	for i, r := range text {
		if r == '.' || r == '?' || r == '!' {
			end := i + 1
			raw := text[start:end]
			trimmed := strings.TrimSpace(raw)
			if trimmed != "" {
				offset := strings.Index(raw, trimmed)
				sentences = append(sentences, sentence{
					text:  trimmed,
					start: start + offset,
					end:   start + offset + len(trimmed),
				})
			}
			start = end
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		offset := strings.Index(text[start:], tail)
		sentences = append(sentences, sentence{
			text:  tail,
			start: start + offset,
			end:   start + offset + len(tail),
		})
	}
	return sentences
}

// Split splits text into an ordered, contiguous, 0-based sequence of
// chunks. Chunks accumulate whole sentences until adding the next would
// exceed opts.MaxTokens (approximated); the next chunk begins by
// re-including trailing sentences from the previous chunk up to
// opts.Overlap tokens, per §4.4. When opts.Overlap is positive the
// previous chunk's last sentence is always re-included, even if it alone
// exceeds opts.Overlap, so a chunk can exceed opts.MaxTokens.
func Split(text string, opts Options) ([]Span, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var spans []Span
	var current []sentence
	currentTokens := 0
	idx := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		start := current[0].start
		end := current[len(current)-1].end
		spans = append(spans, Span{
			Index: idx,
			Text:  text[start:end],
			Start: start,
			End:   end,
		})
		idx++
	}

	overlapTail := func(sentences []sentence) []sentence {
		if opts.Overlap == 0 {
			return nil
		}
		var tail []sentence
		tokens := 0
		for i := len(sentences) - 1; i >= 0; i-- {
			t := approxTokens(sentences[i].text)
			if tokens+t > opts.Overlap && len(tail) > 0 {
				break
			}
			tail = append([]sentence{sentences[i]}, tail...)
			tokens += t
		}
		return tail
	}

	for _, s := range sentences {
		t := approxTokens(s.text)
		if len(current) > 0 && currentTokens+t > opts.MaxTokens {
			flush()
			current = overlapTail(current)
			currentTokens = 0
			for _, c := range current {
				currentTokens += approxTokens(c.text)
			}
		}
		current = append(current, s)
		currentTokens += t
	}
	flush()

	return spans, nil
}
