// Package numeric implements the dense/sparse matrix and vector
// primitives, activation kernels, and the quantized/zero-compressed binary
// blob format of spec.md §4.1 (component C1).
package numeric

import (
	"math"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// Vector is a resizable dense vector of float64s.
type Vector struct {
	data []float64
}

// NewVector creates a vector of the given size, zero-initialized.
func NewVector(size int) *Vector {
	return &Vector{data: make([]float64, size)}
}

// Size returns the vector length.
func (v *Vector) Size() int { return len(v.data) }

// At returns element i.
func (v *Vector) At(i int) float64 { return v.data[i] }

// Set assigns element i.
func (v *Vector) Set(i int, val float64) { v.data[i] = val }

// Data exposes the underlying backing slice (read/write).
func (v *Vector) Data() []float64 { return v.data }

// Resize grows or shrinks capacity by reallocation; it may be called
// repeatedly. init == NaN leaves existing contents for the overlapping
// range and zero-fills new elements instead of filling them with init
// (mat_resize contract, spec.md §4.1).
func (v *Vector) Resize(size int, init float64) {
	nd := make([]float64, size)
	copy(nd, v.data)
	if size > len(v.data) && !math.IsNaN(init) {
		for i := len(v.data); i < size; i++ {
			nd[i] = init
		}
	}
	v.data = nd
}

// AddScaled computes v ← α·other + β·v element-wise.
func (v *Vector) AddScaled(alpha float64, other *Vector, beta float64) error {
	if v.Size() != other.Size() {
		return connerr.New(connerr.KindDimMismatch, "Vector.AddScaled", nil)
	}
	for i := range v.data {
		v.data[i] = alpha*other.data[i] + beta*v.data[i]
	}
	return nil
}

// Clone returns a deep copy.
func (v *Vector) Clone() *Vector {
	nd := make([]float64, len(v.data))
	copy(nd, v.data)
	return &Vector{data: nd}
}
