package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/wantee/connlm-go/pkg/tree"
	"github.com/wantee/connlm-go/pkg/vocab"
)

// smallEngine builds an Engine over a 4-word flat-tree vocabulary (ids 0-3
// are SentEnd, Unk, and two learned words), small enough for fast,
// deterministic unit tests.
func smallEngine(t *testing.T) (*Engine, *vocab.Vocab) {
	t.Helper()
	v := vocab.FromParts([]string{"</s>", "<unk>", "the", "cat"}, []uint64{0, 0, 1, 1})

	tr := tree.NewFlat(4)
	hp := Hyperparams{
		HiddenSize: 3,
		LR:         0.5,
		BPTT:       4,
		BPTTDelay:  0,
		ErCutoff:   5.0,
	}
	rng := rand.New(rand.NewSource(1))
	e, err := New(v, tr, hp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.InitRandom(rng, 0.1)
	return e, v
}

func TestNewEngineBuildsComponentAndUpdaters(t *testing.T) {
	e, _ := smallEngine(t)
	if e.HiddenSize() != 3 {
		t.Fatalf("HiddenSize() = %d, want 3", e.HiddenSize())
	}
	if e.Comp.Name != ComponentName {
		t.Errorf("component name = %q, want %q", e.Comp.Name, ComponentName)
	}
	w, b := e.CU.GlueWeights(RecurrentGlue)
	if w == nil || b == nil {
		t.Fatalf("expected recurrent glue weights to exist after construction")
	}
}

func TestScoreSentenceProducesFiniteNegativeLogProb(t *testing.T) {
	e, _ := smallEngine(t)
	words := []int{2, 3, vocab.SentEnd}

	lp, err := e.ScoreSentence(words, false)
	if err != nil {
		t.Fatalf("ScoreSentence: %v", err)
	}
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		t.Fatalf("log-prob is not finite: %v", lp)
	}
	if lp >= 0 {
		t.Errorf("expected a negative log-probability, got %v", lp)
	}
}

func TestScoreSentenceTrainingReducesLossOverRepeats(t *testing.T) {
	e, _ := smallEngine(t)
	words := []int{2, 3, vocab.SentEnd}

	first, err := e.ScoreSentence(words, true)
	if err != nil {
		t.Fatalf("ScoreSentence (train 1): %v", err)
	}
	var last float64
	for i := 0; i < 20; i++ {
		last, err = e.ScoreSentence(words, true)
		if err != nil {
			t.Fatalf("ScoreSentence (train loop): %v", err)
		}
	}
	if last <= first {
		t.Errorf("expected log-prob of a repeatedly-trained sentence to increase: first=%v last=%v", first, last)
	}
}

func TestExportLoadWeightsRoundTrip(t *testing.T) {
	e, v := smallEngine(t)
	tr := tree.NewFlat(4)

	_, err := e.ScoreSentence([]int{2, 3, vocab.SentEnd}, true)
	if err != nil {
		t.Fatalf("ScoreSentence: %v", err)
	}
	snapshot := e.ExportWeights()

	fresh, err := New(v, tr, Hyperparams{HiddenSize: 3, LR: 0.5, BPTT: 4, ErCutoff: 5.0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fresh.LoadWeights(snapshot); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}

	want, err := e.ScoreSentence([]int{2, 3, vocab.SentEnd}, false)
	if err != nil {
		t.Fatalf("ScoreSentence (original): %v", err)
	}
	got, err := fresh.ScoreSentence([]int{2, 3, vocab.SentEnd}, false)
	if err != nil {
		t.Fatalf("ScoreSentence (restored): %v", err)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("restored engine scored %v, want %v", got, want)
	}
}

func TestGenerateSentenceTerminates(t *testing.T) {
	e, _ := smallEngine(t)
	rng := rand.New(rand.NewSource(7))

	words, err := e.GenerateSentence(nil, 8, rng)
	if err != nil {
		t.Fatalf("GenerateSentence: %v", err)
	}
	if len(words) > 8 {
		t.Errorf("GenerateSentence produced %d words, want <= 8", len(words))
	}
	for _, w := range words {
		if w == vocab.SentEnd {
			t.Errorf("generated sequence should not include SentEnd itself")
		}
	}
}

func TestScorerPredictReturnsLogProbsAndAdvanceReturnsState(t *testing.T) {
	e, _ := smallEngine(t)
	s := NewScorer(e)

	if got, want := s.VocabSize(), e.Vocab.Size(); got != want {
		t.Fatalf("VocabSize() = %d, want %d", got, want)
	}

	state := s.InitialState()
	candidates := []int{0, 1, 2, 3}
	logProbs, err := s.Predict(state, candidates)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(logProbs) != len(candidates) {
		t.Fatalf("Predict returned %d entries, want %d", len(logProbs), len(candidates))
	}
	var sum float64
	for _, lp := range logProbs {
		if lp > 0 {
			t.Errorf("log-probability %v should be <= 0", lp)
		}
		sum += math.Exp(lp)
	}
	if sum > 1.0+1e-6 {
		t.Errorf("candidate probabilities should sum to at most 1 (full vocab covers all candidates here), got %v", sum)
	}

	next, err := s.Advance(state, 2)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next == nil {
		t.Fatalf("Advance returned nil state")
	}
}
