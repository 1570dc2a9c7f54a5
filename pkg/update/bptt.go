package update

import "github.com/wantee/connlm-go/pkg/numeric"

// BPTTRing is the fixed circular buffer of spec.md §3/§4.7: for one
// recurrent cycle, one thread, it holds the last `bptt+bptt_delay-1` steps'
// (input-activation, output-error) pairs. Rotation is by index arithmetic —
// the slots are pre-allocated once and never reallocated or memmoved.
type BPTTRing struct {
	cap       int
	acts      []*numeric.Vector
	errs      []*numeric.Vector
	cursor    int
	blockStep int
	filled    int // number of valid entries currently in the ring
}

// NewBPTTRing pre-allocates a ring of the given capacity, each slot sized
// to hold one time step's activation/error vector of length width.
func NewBPTTRing(capacity, width int) *BPTTRing {
	r := &BPTTRing{
		cap:  capacity,
		acts: make([]*numeric.Vector, capacity),
		errs: make([]*numeric.Vector, capacity),
	}
	for i := 0; i < capacity; i++ {
		r.acts[i] = numeric.NewVector(width)
		r.errs[i] = numeric.NewVector(width)
	}
	return r
}

// Cap returns the ring's fixed capacity (bptt + bptt_delay - 1).
func (r *BPTTRing) Cap() int { return r.cap }

// Push records one forward step's post-activation output at the current
// cursor, advances the cursor, and bumps the block-step counter. Returns
// true when bptt_delay steps have elapsed since the last block boundary,
// signalling the caller should run a block-backward.
func (r *BPTTRing) Push(act []float64, bpttDelay int) bool {
	slot := r.acts[r.cursor]
	copy(slot.Data(), act)
	// clear the paired error slot; backward fills it in as it unrolls.
	errSlot := r.errs[r.cursor]
	for i := range errSlot.Data() {
		errSlot.Set(i, 0)
	}
	r.cursor = (r.cursor + 1) % r.cap
	if r.filled < r.cap {
		r.filled++
	}
	r.blockStep++
	if r.blockStep >= bpttDelay {
		r.blockStep = 0
		return true
	}
	return false
}

// At returns the activation/error slots stepsBack steps behind the current
// cursor (0 = most recently pushed step), for the block-backward unroll.
func (r *BPTTRing) At(stepsBack int) (act, err *numeric.Vector) {
	idx := ((r.cursor-1-stepsBack)%r.cap + r.cap) % r.cap
	return r.acts[idx], r.errs[idx]
}

// Filled returns how many valid steps the ring currently holds (bounded by
// Cap()), so a block-backward at a sentence boundary near the start of the
// stream doesn't unroll into uninitialized slots.
func (r *BPTTRing) Filled() int { return r.filled }

// ResetBlock clears the block-step counter without discarding history —
// used at a hard sentence boundary, which forces a block-backward but does
// not itself reset the ring's content.
func (r *BPTTRing) ResetBlock() { r.blockStep = 0 }
