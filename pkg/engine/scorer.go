package engine

import "math"

// Scorer adapts an Engine to pkg/fst's Scorer interface: state is a plain
// hidden-activation snapshot, Predict reads the output projection without
// mutating state, and Advance is the only operation that actually runs
// the recurrent forward step (via the engine's shared scratch buffer,
// copied in and out so callers never observe partial mutation).
type Scorer struct {
	e *Engine
}

// NewScorer wraps e for use by pkg/fst.Converter. e must not be shared
// with any concurrently running forward/backward pass.
func NewScorer(e *Engine) *Scorer { return &Scorer{e: e} }

// VocabSize returns the full vocabulary size, including SentEnd/Unk.
func (s *Scorer) VocabSize() int { return s.e.Vocab.Size() }

// InitialState returns the hidden state at the very start of a sentence:
// the all-zero state advanced through one virtual step consuming
// vocab.SentEnd as a beginning-of-sentence marker, matching the
// convention ScoreSentence uses for its first word.
func (s *Scorer) InitialState() interface{} {
	zero := make([]float64, s.e.HiddenSize())
	state, err := s.e.advanceState(zero, sentEndWord)
	if err != nil {
		// ForwardStep cannot fail once an Engine's dimensions are fixed at
		// construction; a non-nil error here means the topology itself is
		// malformed, which New would already have rejected.
		panic(err)
	}
	return state
}

// Predict returns log p(w|history) for each candidate, given the hidden
// state resulting from history. It never calls ForwardStep, so it never
// mutates the engine's shared activation buffer.
func (s *Scorer) Predict(state interface{}, candidates []int) ([]float64, error) {
	hidden := state.([]float64)
	outW, outBias := s.e.OutProj.Weight(), s.e.OutProj.Bias()

	logits := make([]float64, len(candidates))
	for i, w := range candidates {
		wrow := outW.Row(w)
		var sum float64
		for k, hv := range hidden {
			sum += hv * wrow[k]
		}
		logits[i] = sum + outBias.At(w)
	}
	return logSoftmaxOverFullVocab(s.e, hidden, candidates, logits), nil
}

// Advance consumes word against state, returning the resulting hidden
// state for use as a child FST state's cache entry.
func (s *Scorer) Advance(state interface{}, word int) (interface{}, error) {
	hidden := state.([]float64)
	return s.e.advanceState(hidden, word)
}

const sentEndWord = 0 // vocab.SentEnd, duplicated here to avoid importing vocab just for one constant

// advanceState runs one ForwardStep with word's embedding injected into a
// copy of state, returning the resulting hidden activation as a fresh
// slice (the shared cu buffer is only used as scratch).
func (e *Engine) advanceState(state []float64, word int) ([]float64, error) {
	h := e.CU.LayerActivation(HiddenLayer)
	copy(h, state)
	embed := e.Embed.Weight().Row(word)
	for k := range h {
		h[k] += embed[k]
	}
	if _, err := e.CU.ForwardStep(); err != nil {
		return nil, err
	}
	out := make([]float64, len(h))
	copy(out, h)
	return out, nil
}

// logSoftmaxOverFullVocab converts raw logits for an arbitrary candidate
// subset into natural-log probabilities under the FULL vocabulary's
// softmax, computed from hidden directly (candidates may be a strict
// subset of the vocab, so the normalizer must sum over every word, not
// just the candidates given).
func logSoftmaxOverFullVocab(e *Engine, hidden []float64, candidates []int, candidateLogits []float64) []float64 {
	outW, outBias := e.OutProj.Weight(), e.OutProj.Bias()
	v := e.Vocab.Size()

	maxLogit := math.Inf(-1)
	full := make([]float64, v)
	for w := 0; w < v; w++ {
		wrow := outW.Row(w)
		var sum float64
		for k, hv := range hidden {
			sum += hv * wrow[k]
		}
		full[w] = sum + outBias.At(w)
		if full[w] > maxLogit {
			maxLogit = full[w]
		}
	}
	var denom float64
	for _, lv := range full {
		denom += math.Exp(lv - maxLogit)
	}
	logDenom := maxLogit + math.Log(denom)

	out := make([]float64, len(candidates))
	for i := range candidates {
		out[i] = candidateLogits[i] - logDenom
	}
	return out
}
