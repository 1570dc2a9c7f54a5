// Package update implements the weight updater (C5), output updater
// (C6), and component/BPTT updater (C7) of spec.md §4.5-§4.7.
//
// Concurrency follows the teacher's per-instance-owned-state pattern
// (concurrency.BrainWorker owning its private state, touched only by its
// own goroutine): each Updater owns its weight storage and momentum
// buffer outright; only the optional shared master copy crosses a
// goroutine boundary, and only under its own mutex.
package update

import (
	"sync"

	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/numeric"
)

// Tag selects which of the four update paths an Updater runs (spec.md
// §4.5).
type Tag int

const (
	TagFull Tag = iota
	TagPart
	TagSegment
	TagOneShot
)

// Params holds the hyperparameters shared by every update path.
type Params struct {
	LR        float64 // η
	L2        float64 // λ
	Momentum  float64 // μ
	MiniBatch int     // B
	SyncSize  int     // S; 0 disables shared-copy sync
	L2Gap     int     // g; apply λ every g steps, <=1 means every step
}

func (p Params) effLR() float64 {
	if p.Momentum != 0 {
		return p.LR * (1 - p.Momentum)
	}
	return p.LR
}

func (p Params) l2Due(step int) bool {
	if p.L2Gap <= 1 {
		return true
	}
	return step%p.L2Gap == 0
}

// Updater is one weight updater instance, per spec.md §4.5. A full/
// segment updater owns a 2-D weight matrix and bias vector; a part
// updater owns a 1-D weight vector addressed by hash-band slices.
type Updater struct {
	tag    Tag
	params Params

	w    *numeric.Matrix // full/segment: [outRows x inCols]
	bias *numeric.Vector // full/segment: length outRows
	mom  *numeric.Matrix
	momV *numeric.Vector

	wv *numeric.Vector // part: 1-D hash band weight vector

	steps int

	shared   *numeric.Matrix
	sharedMu sync.Mutex
}

// NewFull creates a full/segment-tagged updater over an outRows×inCols
// weight matrix with an outRows-length bias.
func NewFull(tag Tag, outRows, inCols int, p Params) *Updater {
	u := &Updater{
		tag: tag, params: p,
		w:    numeric.NewMatrix(outRows, inCols),
		bias: numeric.NewVector(outRows),
		mom:  numeric.NewMatrix(outRows, inCols),
		momV: numeric.NewVector(outRows),
	}
	return u
}

// NewPart creates a part-tagged updater over a 1-D weight vector of the
// given size (the hash-band table).
func NewPart(size int, p Params) *Updater {
	return &Updater{
		tag: TagPart, params: p,
		wv: numeric.NewVector(size),
	}
}

// Weight exposes the full/segment weight matrix (nil for a part updater).
func (u *Updater) Weight() *numeric.Matrix { return u.w }

// Bias exposes the full/segment bias vector (nil for a part updater).
func (u *Updater) Bias() *numeric.Vector { return u.bias }

// PartWeight exposes the part updater's 1-D hash-band weight vector.
func (u *Updater) PartWeight() *numeric.Vector { return u.wv }

// SetWeights overwrites a full/segment/one-shot updater's weight matrix
// and bias vector in place, for restoring a previously saved checkpoint.
// A dimension mismatch against the updater's own sizing is an error.
func (u *Updater) SetWeights(w *numeric.Matrix, bias *numeric.Vector) error {
	if u.w == nil || u.bias == nil {
		return connerr.New(connerr.KindOpt, "Updater.SetWeights", nil)
	}
	if w.Rows() != u.w.Rows() || w.Cols() != u.w.Cols() || bias.Size() != u.bias.Size() {
		return connerr.New(connerr.KindDimMismatch, "Updater.SetWeights", nil)
	}
	u.w = w
	u.bias = bias
	return nil
}

// AttachShared wires an optional shared master copy, synced every
// params.SyncSize steps via atomic replacement (spec.md §4.5 "per-worker
// copies; optional shared master copy synced every sync_size steps").
func (u *Updater) AttachShared(shared *numeric.Matrix) { u.shared = shared }

// UpdateFull applies the full-tag path: ΔW ← (η_eff/b)·errᵀ·in, optionally
// blended with a momentum buffer, W ← W + M − λ·W; bias updated with the
// column-sum of err.
func (u *Updater) UpdateFull(in, err *numeric.Matrix) error {
	if u.tag != TagFull {
		return connerr.New(connerr.KindOpt, "Updater.UpdateFull", nil)
	}
	b := err.Rows()
	if b == 0 || in.Rows() != b || in.Cols() != u.w.Cols() || err.Cols() != u.w.Rows() {
		return connerr.New(connerr.KindDimMismatch, "Updater.UpdateFull", nil)
	}

	etaEff := u.params.effLR()
	delta := numeric.NewMatrix(u.w.Rows(), u.w.Cols())
	if err := delta.MulAdd(etaEff/float64(b), true, err, false, in, 0); err != nil {
		return err
	}

	u.steps++
	if err := u.applyDelta(delta); err != nil {
		return err
	}
	return numeric.ColSum(etaEff, err, 1, u.bias)
}

// applyDelta blends delta into the momentum buffer (if momentum is in
// use: M ← delta + μ·M, W ← W + M) or adds it directly, then applies the
// L2-gapped weight decay. Shared by UpdateFull.
func (u *Updater) applyDelta(delta *numeric.Matrix) error {
	if u.params.Momentum != 0 {
		u.mom.ScaleInPlace(u.params.Momentum)
		if err := u.mom.AddElem(delta); err != nil {
			return err
		}
		if err := u.w.AddElem(u.mom); err != nil {
			return err
		}
	} else {
		if err := u.w.AddElem(delta); err != nil {
			return err
		}
	}
	if u.params.L2 != 0 && u.params.l2Due(u.steps) {
		u.w.ScaleInPlace(1 - u.params.L2)
	}
	return nil
}

// UpdatePart applies the part-tag path: a single example updates the
// contiguous hash-band slice [s, s+n) of the 1-D weight vector, wrapping
// around the vector's length.
func (u *Updater) UpdatePart(s, n int, errSlice []float64) error {
	if u.tag != TagPart {
		return connerr.New(connerr.KindOpt, "Updater.UpdatePart", nil)
	}
	if n != len(errSlice) {
		return connerr.New(connerr.KindDimMismatch, "Updater.UpdatePart", nil)
	}
	etaEff := u.params.effLR()
	size := u.wv.Size()
	if size == 0 {
		return connerr.New(connerr.KindDimMismatch, "Updater.UpdatePart", nil)
	}
	u.steps++
	applyL2 := u.params.L2 != 0 && u.params.l2Due(u.steps)
	for i := 0; i < n; i++ {
		idx := (s + i) % size
		v := u.wv.At(idx) + etaEff*errSlice[i]
		if applyL2 {
			v -= u.params.L2 * u.wv.At(idx)
		}
		u.wv.Set(idx, v)
	}
	return nil
}

// UpdateSegment applies the segment-tag path: err is dense [b x outRows],
// touched says which rows of W each example's output segment covers.
// Each touched row is updated with the same blended rule as UpdateFull,
// restricted to that row; bias is updated per touched row only.
func (u *Updater) UpdateSegment(in, err *numeric.Matrix, touched *numeric.CSC) error {
	if u.tag != TagSegment {
		return connerr.New(connerr.KindOpt, "Updater.UpdateSegment", nil)
	}
	b := err.Rows()
	if in.Rows() != b || in.Cols() != u.w.Cols() || err.Cols() != u.w.Rows() || touched.Cols() != b {
		return connerr.New(connerr.KindDimMismatch, "Updater.UpdateSegment", nil)
	}
	etaEff := u.params.effLR()
	u.steps++
	applyL2 := u.params.L2 != 0 && u.params.l2Due(u.steps)

	for i := 0; i < b; i++ {
		rows := touched.TouchedRows(i)
		inRow := in.Row(i)
		for _, r := range rows {
			e := err.At(i, r)
			wrow := u.w.Row(r)
			for c, iv := range inRow {
				d := etaEff * e * iv
				if u.params.Momentum != 0 {
					mrow := u.mom.Row(r)
					mrow[c] = d + u.params.Momentum*mrow[c]
					wrow[c] += mrow[c]
				} else {
					wrow[c] += d
				}
				if applyL2 {
					wrow[c] -= u.params.L2 * wrow[c]
				}
			}
			u.bias.Set(r, u.bias.At(r)+etaEff*e)
		}
	}
	return nil
}

// UpdateOneShot applies the one-shot-tag path: err is dense [b x cols],
// entries carry (row_in_batch, input_id, scale). For each entry, row
// input_id of W receives η_eff·scale·err_row − λ·W_row.
func (u *Updater) UpdateOneShot(err *numeric.Matrix, entries []numeric.OneShotEntry) error {
	if u.tag != TagOneShot {
		return connerr.New(connerr.KindOpt, "Updater.UpdateOneShot", nil)
	}
	if err.Cols() != u.w.Cols() {
		return connerr.New(connerr.KindDimMismatch, "Updater.UpdateOneShot", nil)
	}
	etaEff := u.params.effLR()
	u.steps++
	applyL2 := u.params.L2 != 0 && u.params.l2Due(u.steps)
	for _, e := range entries {
		if e.RowInBatch < 0 || e.RowInBatch >= err.Rows() || e.InputID < 0 || e.InputID >= u.w.Rows() {
			return connerr.New(connerr.KindDimMismatch, "Updater.UpdateOneShot", nil)
		}
		errRow := err.Row(e.RowInBatch)
		wrow := u.w.Row(e.InputID)
		for c, ev := range errRow {
			wrow[c] += etaEff * e.Scale * ev
			if applyL2 {
				wrow[c] -= u.params.L2 * wrow[c]
			}
		}
	}
	return nil
}

// MaybeSync averages this updater's weight with the shared master copy
// every params.SyncSize steps, under the shared copy's own lock, then
// overwrites the local copy with the averaged result so forward passes
// see the synced value (spec.md §4.5).
func (u *Updater) MaybeSync() error {
	if u.shared == nil || u.params.SyncSize <= 0 || u.steps%u.params.SyncSize != 0 {
		return nil
	}
	u.sharedMu.Lock()
	defer u.sharedMu.Unlock()
	if u.w.Rows() != u.shared.Rows() || u.w.Cols() != u.shared.Cols() {
		return connerr.New(connerr.KindDimMismatch, "Updater.MaybeSync", nil)
	}
	for r := 0; r < u.w.Rows(); r++ {
		local := u.w.Row(r)
		shared := u.shared.Row(r)
		for c := range local {
			avg := (local[c] + shared[c]) / 2
			local[c] = avg
			shared[c] = avg
		}
	}
	return nil
}
