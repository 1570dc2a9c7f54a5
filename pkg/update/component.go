package update

import (
	"github.com/wantee/connlm-go/pkg/component"
	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/numeric"
)

// GlueUpdater wraps one glue's weight updater with the lightweight
// forward/backward implementation of spec.md §4.7: a dense linear map
// followed by a sigmoid squash, sized by the concatenated width of its
// input/output layers. One instance exists per (component, glue, worker
// thread) — no state here crosses a goroutine boundary.
type GlueUpdater struct {
	glue *component.Glue
	upd  *Updater

	inW, outW int

	// pendingIn/pendingErr accumulate one row per unrolled backward step
	// within the current block; they are committed to the weight updater
	// as a single batched UpdateFull at block end, then cleared.
	pendingIn  [][]float64
	pendingErr [][]float64

	// dirty coalesces word-indexed one-shot rows touched more than once
	// inside a block, so each dirty row is applied exactly once at commit.
	dirty map[int][]float64
}

// NewGlueUpdater builds a glue updater whose weight matrix is
// outW×inW, using the full tag unless oneShot requests the word-indexed
// one-shot path (e.g. an embedding-lookup glue).
func NewGlueUpdater(gl *component.Glue, inW, outW int, p Params, oneShot bool) *GlueUpdater {
	tag := TagFull
	if oneShot {
		tag = TagOneShot
	}
	return &GlueUpdater{
		glue:  gl,
		upd:   NewFull(tag, outW, inW, p),
		inW:   inW,
		outW:  outW,
		dirty: map[int][]float64{},
	}
}

// Forward computes out = sigmoid(W·in + bias) for the current time step.
func (gu *GlueUpdater) Forward(in []float64) ([]float64, error) {
	if len(in) != gu.inW {
		return nil, connerr.New(connerr.KindDimMismatch, "GlueUpdater.Forward", nil)
	}
	inM := numeric.NewMatrix(1, gu.inW)
	copy(inM.Row(0), in)
	outM := numeric.NewMatrix(1, gu.outW)
	if err := outM.MulAdd(1.0, false, inM, true, gu.upd.Weight(), 0); err != nil {
		return nil, err
	}
	out := outM.Row(0)
	for c := range out {
		out[c] += gu.upd.Bias().At(c)
	}
	outM.Sigmoid()
	result := make([]float64, gu.outW)
	copy(result, outM.Row(0))
	return result, nil
}

// Backward propagates outErr (the pre-activation gradient at this glue's
// output layer, i.e. already multiplied by the sigmoid derivative) back
// through W to produce the input layer's error, clipping outErr to
// ±erCutoff first (spec.md §4.7 gradient hygiene) and queuing (in, outErr)
// for the block-end commit.
func (gu *GlueUpdater) Backward(in, outErr []float64, erCutoff float64, wordID int, isOneShot bool) ([]float64, error) {
	if len(in) != gu.inW || len(outErr) != gu.outW {
		return nil, connerr.New(connerr.KindDimMismatch, "GlueUpdater.Backward", nil)
	}
	clipped := make([]float64, gu.outW)
	for c, v := range outErr {
		clipped[c] = clipErr(v, erCutoff)
	}

	outErrM := numeric.NewMatrix(1, gu.outW)
	copy(outErrM.Row(0), clipped)
	inErrM := numeric.NewMatrix(1, gu.inW)
	if err := inErrM.MulAdd(1.0, false, outErrM, false, gu.upd.Weight(), 0); err != nil {
		return nil, err
	}

	if isOneShot {
		gu.dirty[wordID] = clipped
	} else {
		gu.pendingIn = append(gu.pendingIn, in)
		gu.pendingErr = append(gu.pendingErr, clipped)
	}

	inErr := make([]float64, gu.inW)
	copy(inErr, inErrM.Row(0))
	return inErr, nil
}

func clipErr(v, cutoff float64) float64 {
	if cutoff <= 0 {
		return v
	}
	if v > cutoff {
		return cutoff
	}
	if v < -cutoff {
		return -cutoff
	}
	return v
}

// CommitBlock applies every queued dense row and every coalesced
// one-shot row accumulated since the last commit, then clears both.
func (gu *GlueUpdater) CommitBlock() error {
	if len(gu.pendingIn) > 0 {
		b := len(gu.pendingIn)
		inM := numeric.NewMatrix(b, gu.inW)
		errM := numeric.NewMatrix(b, gu.outW)
		for i := 0; i < b; i++ {
			copy(inM.Row(i), gu.pendingIn[i])
			copy(errM.Row(i), gu.pendingErr[i])
		}
		if err := gu.upd.UpdateFull(inM, errM); err != nil {
			return err
		}
		gu.pendingIn = nil
		gu.pendingErr = nil
	}
	if len(gu.dirty) > 0 {
		entries := make([]numeric.OneShotEntry, 0, len(gu.dirty))
		errM := numeric.NewMatrix(len(gu.dirty), gu.outW)
		row := 0
		for wordID, errRow := range gu.dirty {
			copy(errM.Row(row), errRow)
			entries = append(entries, numeric.OneShotEntry{RowInBatch: row, InputID: wordID, Scale: 1.0})
			row++
		}
		if err := gu.upd.UpdateOneShot(errM, entries); err != nil {
			return err
		}
		gu.dirty = map[int][]float64{}
	}
	return nil
}

// ComponentUpdater holds, per component and per worker thread, one
// GlueUpdater per glue and one BPTTRing per detected recurrent cycle —
// exactly the per-component, per-thread state spec.md §4.7 describes.
type ComponentUpdater struct {
	comp  *component.Component
	glues map[string]*GlueUpdater
	rings map[string]*BPTTRing

	bpttDelay int
	erCutoff  float64

	layerAct map[string][]float64
}

// NewComponentUpdater builds a component updater. layerWidth supplies each
// layer's activation width (by name); oneShot marks which glues use the
// word-indexed one-shot weight path; bptt/bpttDelay size each cycle's ring
// to bptt+bpttDelay-1 per spec.md §3.
func NewComponentUpdater(comp *component.Component, layerWidth map[string]int, oneShot map[string]bool, bptt, bpttDelay int, erCutoff float64, p Params) (*ComponentUpdater, error) {
	cu := &ComponentUpdater{
		comp:      comp,
		glues:     map[string]*GlueUpdater{},
		rings:     map[string]*BPTTRing{},
		bpttDelay: bpttDelay,
		erCutoff:  erCutoff,
		layerAct:  map[string][]float64{},
	}
	for _, l := range comp.Layers {
		cu.layerAct[l.Name] = make([]float64, layerWidth[l.Name])
	}
	for _, gl := range comp.Glues {
		inW, outW := 0, 0
		for _, n := range gl.In {
			inW += layerWidth[n]
		}
		for _, n := range gl.Out {
			outW += layerWidth[n]
		}
		if inW == 0 || outW == 0 {
			return nil, connerr.New(connerr.KindDimMismatch, "NewComponentUpdater", nil)
		}
		cu.glues[gl.Name] = NewGlueUpdater(gl, inW, outW, p, oneShot[gl.Name])
	}
	ringCap := bptt + bpttDelay - 1
	if ringCap < 1 {
		ringCap = 1
	}
	for _, cyc := range comp.Cycles {
		recurrentGlue := cu.glues[cyc.GlueNames[0]]
		cu.rings[cyc.GlueNames[0]] = NewBPTTRing(ringCap, recurrentGlue.outW)
	}
	return cu, nil
}

// LayerActivation returns the current activation row for a layer.
func (cu *ComponentUpdater) LayerActivation(name string) []float64 { return cu.layerAct[name] }

// GlueWeights exposes the named glue's underlying weight matrix and bias
// vector, for checkpointing into a model.Model after training. Returns
// nil, nil if name does not name a glue of this component.
func (cu *ComponentUpdater) GlueWeights(name string) (*numeric.Matrix, *numeric.Vector) {
	gu, ok := cu.glues[name]
	if !ok {
		return nil, nil
	}
	return gu.upd.Weight(), gu.upd.Bias()
}

// SetGlueWeights overwrites the named glue's weight matrix and bias
// vector in place, for restoring a previously saved checkpoint. A
// dimension mismatch against the glue's own sizing is an error.
func (cu *ComponentUpdater) SetGlueWeights(name string, w *numeric.Matrix, bias *numeric.Vector) error {
	gu, ok := cu.glues[name]
	if !ok {
		return connerr.New(connerr.KindOpt, "ComponentUpdater.SetGlueWeights", nil)
	}
	if w.Rows() != gu.outW || w.Cols() != gu.inW || bias.Size() != gu.outW {
		return connerr.New(connerr.KindDimMismatch, "ComponentUpdater.SetGlueWeights", nil)
	}
	gu.upd.w = w
	gu.upd.bias = bias
	return nil
}

// ForwardStep runs one time step: for every glue in comp.Glues order (the
// order the topology declared them), concatenate its input layers' current
// activations, run its forward kernel, and scatter the result back into
// its output layers' activation rows. A recurrent glue's output is
// additionally pushed onto its cycle's BPTT ring; Push's return value (block boundary reached) is surfaced to
// the caller so it can trigger BackwardBlock at the right cadence.
func (cu *ComponentUpdater) ForwardStep() (blockBoundary bool, err error) {
	for _, gl := range cu.comp.Glues {
		gu := cu.glues[gl.Name]
		in := concatLayers(cu.layerAct, gl.In)
		out, ferr := gu.Forward(in)
		if ferr != nil {
			return false, ferr
		}
		scatterLayers(cu.layerAct, gl.Out, out)
		if ring, ok := cu.rings[gl.Name]; ok {
			if ring.Push(out, cu.bpttDelay) {
				blockBoundary = true
			}
		}
	}
	return blockBoundary, nil
}

// BackwardBlock walks every recurrent cycle's ring up to its filled
// depth (capped at bptt+bptt_delay-1) and queues one Backward row per
// step for the cycle's recurrent glue, then commits every glue's
// accumulated delta via its weight updater and clears the block's
// accumulators. Only the most recent step receives outputErr; older steps
// are queued with a zero error, and the input error each Backward returns
// is not carried to the step before it, so no error propagates back
// through time. Glues outside a recurrent cycle get no Backward call.
func (cu *ComponentUpdater) BackwardBlock(outputErr map[string][]float64) error {
	for name, ring := range cu.rings {
		gu := cu.glues[name]
		steps := ring.Filled()
		carry := outputErr[name]
		for s := 0; s < steps; s++ {
			act, _ := ring.At(s)
			if carry == nil {
				carry = make([]float64, gu.outW)
			}
			in := act.Data()
			if _, err := gu.Backward(in, carry, cu.erCutoff, 0, false); err != nil {
				return err
			}
			carry = nil // only the freshest step carries external output error
		}
		ring.ResetBlock()
	}
	for _, gu := range cu.glues {
		if err := gu.CommitBlock(); err != nil {
			return err
		}
	}
	return nil
}

func concatLayers(act map[string][]float64, names []string) []float64 {
	var out []float64
	for _, n := range names {
		out = append(out, act[n]...)
	}
	return out
}

func scatterLayers(act map[string][]float64, names []string, vals []float64) {
	off := 0
	for _, n := range names {
		dst := act[n]
		copy(dst, vals[off:off+len(dst)])
		off += len(dst)
	}
}
