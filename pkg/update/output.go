package update

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/numeric"
	"github.com/wantee/connlm-go/pkg/tree"
)

// LogitFiller supplies the pre-softmax activations for one (target,
// internal node) pair, writing them into row. Populating row is the
// component/BPTT updater's job (C7) — it runs the actual neural forward
// pass; OutputUpdater only owns the softmax/cross-entropy/sampling math
// shared by every tree shape.
type LogitFiller func(targetIdx int, step tree.PathStep, row []float64)

// OutputUpdater is the C6 output updater of spec.md §4.6: per tree node,
// two matrices sized (visits × children) for activations and errors, plus
// the visit-counting bookkeeping that ties mini-batch rows to specific
// (target, node) pairs across Prepare/Activate/Loss.
type OutputUpdater struct {
	tr      *tree.Tree
	unkOnly []bool

	acts map[int]*numeric.Matrix
	errs map[int]*numeric.Matrix

	// rowCursor replays the same target-by-target, node-by-node walk
	// order across Prepare, Activate, and Loss so each call assigns rows
	// to the same (target, node) pairs as every other call this batch.
	rowCursor map[int]int
	targets   []int
}

// New builds an output updater bound to tr; unkWord identifies the
// reserved unknown-word id used by Sample's UNK-subtree rejection.
func New(tr *tree.Tree, unkWord int) *OutputUpdater {
	return &OutputUpdater{
		tr:      tr,
		unkOnly: computeUnkOnly(tr, unkWord),
		acts:    map[int]*numeric.Matrix{},
		errs:    map[int]*numeric.Matrix{},
	}
}

func computeUnkOnly(tr *tree.Tree, unkWord int) []bool {
	n := tr.NumNodes()
	out := make([]bool, n)
	if n == 0 {
		return out
	}
	var visit func(node int) bool
	visit = func(node int) bool {
		if tr.IsLeaf(node) {
			out[node] = tr.Leaf2Word(node) == unkWord
			return out[node]
		}
		s, e := tr.SChildren(node), tr.EChildren(node)
		all := true
		for c := s; c < e; c++ {
			if !visit(c) {
				all = false
			}
		}
		out[node] = all
		return all
	}
	if tr.Root() >= 0 {
		visit(tr.Root())
	}
	return out
}

func (o *OutputUpdater) resetCursor() { o.rowCursor = map[int]int{} }

// Prepare counts visits per node across all targets' root-to-leaf paths
// and (re)sizes each visited node's activation/error matrices to
// (visit count × num children).
func (o *OutputUpdater) Prepare(targets []int) error {
	visitCount := map[int]int{}
	for _, w := range targets {
		if err := o.tr.WalkPath(w, func(step tree.PathStep) {
			visitCount[step.Node]++
		}); err != nil {
			return err
		}
	}
	for node, n := range visitCount {
		cols := o.tr.EChildren(node) - o.tr.SChildren(node)
		o.acts[node] = numeric.NewMatrix(n, cols)
		o.errs[node] = numeric.NewMatrix(n, cols)
	}
	o.targets = targets
	o.resetCursor()
	return nil
}

// Activate runs the forward pass: for each target, walk its path; at
// each internal node, fillLogits supplies the pre-softmax row, softmax is
// applied in place, and log p(child_on_path) accumulates into logps[i].
func (o *OutputUpdater) Activate(fillLogits LogitFiller, logps []float64) error {
	if len(logps) != len(o.targets) {
		return connerr.New(connerr.KindDimMismatch, "OutputUpdater.Activate", nil)
	}
	o.resetCursor()
	for i, w := range o.targets {
		logps[i] = 0
		err := o.tr.WalkPath(w, func(step tree.PathStep) {
			row := o.rowCursor[step.Node]
			o.rowCursor[step.Node]++
			m := o.acts[step.Node]
			fillLogits(i, step, m.Row(row))
			m.SoftmaxRow(row)
			childCol := step.ChildTaken - step.S
			p := m.At(row, childCol)
			logps[i] += math.Log(p)
		})
		if err != nil {
			return err
		}
		if math.IsNaN(logps[i]) || math.IsInf(logps[i], 0) {
			return connerr.New(connerr.KindNumericalInvariant, "OutputUpdater.Activate", nil)
		}
	}
	return nil
}

// Loss runs the backward pass: writes (−a) into every column and (1−a)
// into the target column of each visited node's error row — the softmax
// + cross-entropy gradient.
func (o *OutputUpdater) Loss() error {
	o.resetCursor()
	for _, w := range o.targets {
		err := o.tr.WalkPath(w, func(step tree.PathStep) {
			row := o.rowCursor[step.Node]
			o.rowCursor[step.Node]++
			acts := o.acts[step.Node].Row(row)
			errs := o.errs[step.Node].Row(row)
			childCol := step.ChildTaken - step.S
			for c, a := range acts {
				errs[c] = -a
			}
			errs[childCol] = 1 - acts[childCol]
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Errs returns the error matrix accumulated for node (valid after Loss).
func (o *OutputUpdater) Errs(node int) *numeric.Matrix { return o.errs[node] }

// Acts returns the activation matrix for node (valid after Activate).
func (o *OutputUpdater) Acts(node int) *numeric.Matrix { return o.acts[node] }

const maxSampleTries = 64

// Sample walks the cumulative softmax over node's children built from
// logits with u drawn uniformly over the non-UNK mass, so the UNK leaf
// and UNK-only subtrees are never chosen (the same distribution as
// rejecting UNK draws and redrawing). When rounding leaves the walk on an
// UNK child it redraws, giving up with NumericalInvariant after
// maxSampleTries draws.
func (o *OutputUpdater) Sample(node int, logits []float64, rng *rand.Rand) (int, error) {
	s, e := o.tr.SChildren(node), o.tr.EChildren(node)
	n := e - s
	if len(logits) != n {
		return 0, connerr.New(connerr.KindDimMismatch, "OutputUpdater.Sample", nil)
	}
	probs := softmaxCopy(logits)
	var mass float64
	for idx := range probs {
		if o.unkOnly[s+idx] {
			probs[idx] = 0
		}
		mass += probs[idx]
	}

	for try := 0; try < maxSampleTries; try++ {
		u := rng.Float64() * mass
		var cum float64
		chosen := e - 1
		for idx, p := range probs {
			cum += p
			if u <= cum {
				chosen = s + idx
				break
			}
		}
		if !o.unkOnly[chosen] {
			return chosen, nil
		}
	}
	return 0, connerr.New(connerr.KindNumericalInvariant, "OutputUpdater.Sample",
		fmt.Errorf("no non-UNK sample drawn after %d tries", maxSampleTries))
}

func softmaxCopy(logits []float64) []float64 {
	out := make([]float64, len(logits))
	copy(out, logits)
	m := numeric.NewMatrix(1, len(logits))
	for i, v := range out {
		m.Set(0, i, v)
	}
	m.SoftmaxRow(0)
	for i := range out {
		out[i] = m.At(0, i)
	}
	return out
}
