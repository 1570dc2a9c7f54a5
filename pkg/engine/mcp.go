package engine

import (
	"context"
	"math/rand"
	"strings"

	"github.com/wantee/connlm-go/pkg/vocab"
)

// MCPBackend adapts an Engine to pkg/mcpserve's Backend interface, so a
// trained model can be served over MCP in addition to the CLI eval/gen
// verbs. It shares the same tokenization convention as pkg/reader: words
// are space-separated, out-of-vocabulary words map to vocab.Unk, and every
// line is implicitly SentEnd-terminated.
type MCPBackend struct {
	e   *Engine
	rng *rand.Rand
}

// NewMCPBackend wraps e for serving. e must not be used for concurrent
// training while serving, since both read and write its shared forward
// scratch buffers.
func NewMCPBackend(e *Engine, rng *rand.Rand) *MCPBackend {
	return &MCPBackend{e: e, rng: rng}
}

func tokenizeLine(v *vocab.Vocab, line string) []int {
	fields := strings.Fields(line)
	words := make([]int, 0, len(fields)+1)
	for _, f := range fields {
		words = append(words, v.GetID(f))
	}
	words = append(words, vocab.SentEnd)
	return words
}

// Eval scores text (one sentence per line), returning per-sentence and
// aggregate log-probability/entropy/perplexity.
func (b *MCPBackend) Eval(_ context.Context, text string) (map[string]any, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	sentences := make([]map[string]any, 0, len(lines))
	var totalLogProb float64
	var totalWords int
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		words := tokenizeLine(b.e.Vocab, line)
		lp, err := b.e.ScoreSentence(words, false)
		if err != nil {
			return nil, err
		}
		sentences = append(sentences, map[string]any{
			"text":       line,
			"logProb":    lp,
			"numWords":   len(words),
			"entropy":    Entropy(lp, len(words)),
			"perplexity": Perplexity(lp, len(words)),
		})
		totalLogProb += lp
		totalWords += len(words)
	}

	return map[string]any{
		"sentences":        sentences,
		"totalLogProb":     totalLogProb,
		"totalWords":       totalWords,
		"averageEntropy":   Entropy(totalLogProb, totalWords),
		"averagePerplexity": Perplexity(totalLogProb, totalWords),
	}, nil
}

// Generate samples numSents sentences, optionally seeded by prefix (one
// word per line; the same prefix seeds every sentence).
func (b *MCPBackend) Generate(_ context.Context, numSents int, prefix string) (map[string]any, error) {
	var prefixWords []int
	if strings.TrimSpace(prefix) != "" {
		for _, f := range strings.Fields(prefix) {
			prefixWords = append(prefixWords, b.e.Vocab.GetID(f))
		}
	}

	const maxLen = 256
	sentences := make([]string, 0, numSents)
	for i := 0; i < numSents; i++ {
		words, err := b.e.GenerateSentence(prefixWords, maxLen, b.rng)
		if err != nil {
			return nil, err
		}
		toks := make([]string, len(words))
		for j, w := range words {
			toks[j] = b.e.Vocab.GetWord(w)
		}
		sentences = append(sentences, strings.Join(toks, " "))
	}

	return map[string]any{"sentences": sentences}, nil
}
