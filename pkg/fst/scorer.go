package fst

// Scorer drives a trained model forward one word at a time, producing
// the next-word distribution and an opaque resumable state. pkg/fst
// depends only on this interface (accept-interfaces idiom) so the
// converter never imports pkg/update's component wiring directly; a
// concrete Scorer built from a loaded pkg/model.Model and the component
// updaters of pkg/update is supplied by the CLI layer.
type Scorer interface {
	// VocabSize returns V, the full vocabulary size including SentEnd and
	// Unk; the converter draws candidate words from ids [0, V).
	VocabSize() int

	// InitialState returns the hidden state at the very start of a
	// sentence (before any word has been consumed) — the state cached
	// for the sentence-start bootstrap state.
	InitialState() interface{}

	// Predict returns log p(w | history) for each w in candidates,
	// given state (the hidden state resulting from history), in the
	// same order as candidates. It does not mutate state.
	Predict(state interface{}, candidates []int) (logProbs []float64, err error)

	// Advance consumes word against state, returning the resulting
	// hidden state after word (used to seed a newly created child
	// state's cache entry).
	Advance(state interface{}, word int) (next interface{}, err error)
}
