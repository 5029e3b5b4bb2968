package tender

import (
	"context"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// LexicalEmbedder builds log-scaled term-frequency vectors over the
// vocabulary of a single Embed call. It needs no model and is used when
// hosted embeddings are disabled.
type LexicalEmbedder struct {
	// MinTokenLength drops shorter tokens such as articles and numbering.
	MinTokenLength int
}

// NewLexicalEmbedder returns an embedder ignoring tokens shorter than three runes.
func NewLexicalEmbedder() *LexicalEmbedder {
	return &LexicalEmbedder{MinTokenLength: 3}
}

func (e *LexicalEmbedder) Name() string { return "lexical" }

func (e *LexicalEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vocab := make(map[string]int)
	counts := make([]map[string]int, len(texts))
	for i, text := range texts {
		counts[i] = make(map[string]int)
		for _, token := range e.tokens(text) {
			if _, ok := vocab[token]; !ok {
				vocab[token] = len(vocab)
			}
			counts[i][token]++
		}
	}

	vectors := make([][]float64, len(texts))
	for i := range texts {
		vec := make([]float64, len(vocab))
		for token, n := range counts[i] {
			vec[vocab[token]] = 1 + math.Log(float64(n))
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *LexicalEmbedder) tokens(text string) []string {
	folded := cases.Fold().String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= e.MinTokenLength {
			out = append(out, f)
		}
	}
	return out
}
