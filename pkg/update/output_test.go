package update

import (
	"math"
	"math/rand"
	"testing"

	"github.com/wantee/connlm-go/pkg/tree"
)

// fixedLogits hands back a deterministic per-node, per-target logit row so
// Activate's softmax math can be checked by hand.
func fixedLogits(vals map[int][]float64) LogitFiller {
	return func(targetIdx int, step tree.PathStep, row []float64) {
		src := vals[step.Node]
		copy(row, src)
	}
}

func TestActivatePathSumMatchesWordLogProb(t *testing.T) {
	tr := tree.NewFlat(4)
	ou := New(tr, 3)

	targets := []int{2}
	if err := ou.Prepare(targets); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	logits := map[int][]float64{
		tr.Root(): {1, 2, 3, 0},
	}
	logps := make([]float64, 1)
	if err := ou.Activate(fixedLogits(logits), logps); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	row := []float64{1, 2, 3, 0}
	maxv := row[0]
	for _, v := range row[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	exps := make([]float64, len(row))
	for i, v := range row {
		exps[i] = math.Exp(v - maxv)
		sum += exps[i]
	}
	want := math.Log(exps[2] / sum)

	if math.Abs(logps[0]-want) > 1e-9 {
		t.Errorf("logps[0] = %v, want %v", logps[0], want)
	}
}

func TestLossCrossEntropyGradient(t *testing.T) {
	tr := tree.NewFlat(3)
	ou := New(tr, 9) // unkWord out of range: no word is UNK

	targets := []int{1}
	if err := ou.Prepare(targets); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	logits := map[int][]float64{
		tr.Root(): {0, 0, 0},
	}
	logps := make([]float64, 1)
	if err := ou.Activate(fixedLogits(logits), logps); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := ou.Loss(); err != nil {
		t.Fatalf("Loss: %v", err)
	}

	errs := ou.Errs(tr.Root()).Row(0)
	// uniform softmax over 3 -> a = 1/3 each; target col 1 -> 1-a; others -> -a
	want := []float64{-1.0 / 3, 2.0 / 3, -1.0 / 3}
	for c := range want {
		if math.Abs(errs[c]-want[c]) > 1e-9 {
			t.Errorf("errs[%d] = %v, want %v", c, errs[c], want[c])
		}
	}
}

func TestSampleRejectsUnkWord(t *testing.T) {
	tr := tree.NewFlat(3)
	unkWord := 1
	ou := New(tr, unkWord)

	// heavily favor the UNK word's logit so a naive sampler would almost
	// always draw it; Sample must never return it.
	logits := []float64{-10, 10, -10}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		word, err := ou.Sample(tr.Root(), logits, rng)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if word == unkWord {
			t.Fatalf("Sample returned UNK word %d", unkWord)
		}
	}
}

func TestSampleDimMismatch(t *testing.T) {
	tr := tree.NewFlat(3)
	ou := New(tr, 0)
	rng := rand.New(rand.NewSource(1))
	if _, err := ou.Sample(tr.Root(), []float64{1, 2}, rng); err == nil {
		t.Fatalf("expected DimMismatch error for wrong-length logits")
	}
}

func TestComputeUnkOnlyMarksClassSubtree(t *testing.T) {
	counts := []uint64{10, 10, 10, 10}
	tr, err := tree.NewClassBased(counts, 2)
	if err != nil {
		t.Fatalf("NewClassBased: %v", err)
	}
	// Word 0 becomes UNK; its leaf is UNK-only but its parent class node
	// (which also holds word 1, not UNK) must not be marked unkOnly.
	unkOnly := computeUnkOnly(tr, 0)
	leaf0 := tr.Word2Leaf(0)
	if !unkOnly[leaf0] {
		t.Errorf("expected leaf for UNK word to be marked unkOnly")
	}
	parent := -1
	if err := tr.WalkPath(0, func(step tree.PathStep) { parent = step.Node }); err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if unkOnly[parent] {
		t.Errorf("class node containing non-UNK siblings must not be marked unkOnly")
	}
}
