package numeric

import (
	"math"

	"github.com/klauspost/cpuid/v2"
	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/numeric/blasload"
	"gonum.org/v1/gonum/mat"
)

// hasAVX2 reports whether gonum's internally vectorized kernels have
// AVX2/FMA3 to work with on this machine; computed once at package init.
var hasAVX2 = cpuid.CPU.Supports(cpuid.AVX2) && cpuid.CPU.Supports(cpuid.FMA3)

// AVX2Available reports whether the running CPU supports AVX2+FMA3,
// surfaced by the supplemented `connlm blas-info` CLI verb alongside
// blasload.Available() so operators can see which acceleration path a
// build will actually take.
func AVX2Available() bool { return hasAVX2 }

// simdAlign is the stride padding (in float64 elements) every matrix row is
// rounded up to, so each row begins aligned to a typical SIMD vector width.
const simdAlign = 8

// Matrix is a row-major dense matrix. Every row begins at a stride-aligned
// offset in the backing storage so that row-wise SIMD/BLAS kernels can
// operate on naturally aligned data. A Matrix obtained from SubMat is a
// non-owning *view*: it shares storage with its parent and may not be
// resized.
type Matrix struct {
	rows, cols     int
	stride         int
	rowOff, colOff int
	data           []float64
	isView         bool
}

func paddedStride(cols int) int {
	if cols <= 0 {
		return 0
	}
	return ((cols + simdAlign - 1) / simdAlign) * simdAlign
}

// NewMatrix allocates a zero-initialized rows×cols owning matrix.
func NewMatrix(rows, cols int) *Matrix {
	m := &Matrix{rows: rows, cols: cols, stride: paddedStride(cols)}
	m.data = make([]float64, rows*m.stride)
	return m
}

// Rows returns the row count.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the column count.
func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) index(r, c int) int {
	return (m.rowOff+r)*m.stride + m.colOff + c
}

// At returns element (r,c).
func (m *Matrix) At(r, c int) float64 { return m.data[m.index(r, c)] }

// Set assigns element (r,c).
func (m *Matrix) Set(r, c int, v float64) { m.data[m.index(r, c)] = v }

// Row returns the backing slice for row r. For a padded owning matrix, the
// slice is exactly Cols() long (padding beyond cols is not exposed); for a
// view sharing storage, contiguity is only guaranteed when colOff+cols
// equals the parent's column count, matching connLM's own "rows of a view
// are only contiguous if the view spans full width" tradeoff.
func (m *Matrix) Row(r int) []float64 {
	start := m.index(r, 0)
	return m.data[start : start+m.cols]
}

// Resize grows the matrix's logical rows×cols by reallocation; it may be
// called repeatedly. init == NaN leaves existing contents and zero-fills
// any newly exposed elements (mat_resize contract, spec.md §4.1). Resize
// on a view is an error since views may not be resized.
func (m *Matrix) Resize(rows, cols int, init float64) error {
	if m.isView {
		return connerr.New(connerr.KindDimMismatch, "Matrix.Resize", nil)
	}
	nstride := paddedStride(cols)
	ndata := make([]float64, rows*nstride)
	if !math.IsNaN(init) {
		for i := range ndata {
			ndata[i] = init
		}
	}
	copyRows := min(m.rows, rows)
	copyCols := min(m.cols, cols)
	for r := 0; r < copyRows; r++ {
		srcStart := r * m.stride
		dstStart := r * nstride
		copy(ndata[dstStart:dstStart+copyCols], m.data[srcStart:srcStart+copyCols])
	}
	m.rows, m.cols, m.stride = rows, cols, nstride
	m.data = ndata
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SubMat returns a non-owning view over the half-open row/col ranges
// [r0,r1)×[c0,c1) sharing storage with m. Views may not be resized.
func (m *Matrix) SubMat(r0, r1, c0, c1 int) *Matrix {
	return &Matrix{
		rows: r1 - r0, cols: c1 - c0,
		stride: m.stride,
		rowOff: m.rowOff + r0, colOff: m.colOff + c0,
		data:   m.data,
		isView: true,
	}
}

// IsView reports whether m is a non-owning submatrix view.
func (m *Matrix) IsView() bool { return m.isView }

// Fill sets every element to v.
func (m *Matrix) Fill(v float64) {
	for r := 0; r < m.rows; r++ {
		row := m.Row(r)
		for c := range row {
			row[c] = v
		}
	}
}

// Clone returns a deep, owning copy.
func (m *Matrix) Clone() *Matrix {
	nm := NewMatrix(m.rows, m.cols)
	for r := 0; r < m.rows; r++ {
		copy(nm.Row(r), m.Row(r))
	}
	return nm
}

// AddElem computes m ← m + other element-wise.
func (m *Matrix) AddElem(other *Matrix) error {
	if m.rows != other.rows || m.cols != other.cols {
		return connerr.New(connerr.KindDimMismatch, "Matrix.AddElem", nil)
	}
	for r := 0; r < m.rows; r++ {
		dst, src := m.Row(r), other.Row(r)
		for c := range dst {
			dst[c] += src[c]
		}
	}
	return nil
}

// ScaleInPlace multiplies every element by factor.
func (m *Matrix) ScaleInPlace(factor float64) {
	for r := 0; r < m.rows; r++ {
		row := m.Row(r)
		for c := range row {
			row[c] *= factor
		}
	}
}

// MulElem computes m ← m ⊙ other element-wise (Hadamard product).
func (m *Matrix) MulElem(other *Matrix) error {
	if m.rows != other.rows || m.cols != other.cols {
		return connerr.New(connerr.KindDimMismatch, "Matrix.MulElem", nil)
	}
	for r := 0; r < m.rows; r++ {
		dst, src := m.Row(r), other.Row(r)
		for c := range dst {
			dst[c] *= src[c]
		}
	}
	return nil
}

// isContiguous reports whether the matrix's logical width equals its
// storage stride, so its backing rows form one unbroken run — a
// precondition for handing the raw slice to a native BLAS call.
func (m *Matrix) isContiguous() bool {
	return !m.isView && m.cols == m.stride
}

// MulAdd computes m ← α·op(A)·op(B) + β·m, the core C1 contract
// (spec.md §4.1). transA/transB select whether A/B are used transposed.
// Dimension mismatches fail with DimMismatch. When A and B are both
// contiguous and a native BLAS library was found (pkg/numeric/blasload),
// cblas_dgemm computes the product directly into a scratch buffer;
// otherwise a gonum mat.Dense multiply is used. The AVX2/FMA3 cpuid probe
// is not consulted here; it is only reported through AVX2Available.
func (m *Matrix) MulAdd(alpha float64, transA bool, a *Matrix, transB bool, b *Matrix, beta float64) error {
	ar, ac := a.rows, a.cols
	if transA {
		ar, ac = ac, ar
	}
	br, bc := b.rows, b.cols
	if transB {
		br, bc = bc, br
	}
	if ac != br || ar != m.rows || bc != m.cols {
		return connerr.New(connerr.KindDimMismatch, "Matrix.MulAdd", nil)
	}

	if product, ok := m.tryBLASProduct(transA, a, transB, b, ar, bc, ac); ok {
		m.blendProduct(alpha, product, ar, bc, beta)
		return nil
	}

	product := mat.NewDense(ar, bc, nil)
	ma := denseOf(a)
	mb := denseOf(b)
	var av, bv mat.Matrix = ma, mb
	if transA {
		av = ma.T()
	}
	if transB {
		bv = mb.T()
	}
	product.Mul(av, bv)

	for r := 0; r < m.rows; r++ {
		dst := m.Row(r)
		for c := 0; c < m.cols; c++ {
			dst[c] = alpha*product.At(r, c) + beta*dst[c]
		}
	}
	return nil
}

// tryBLASProduct attempts the multiply via the native cblas_dgemm
// backend, returning the row-major m×n product and true on success. It
// requires a and b to be contiguous so their backing slices can be handed
// to the C call directly.
func (m *Matrix) tryBLASProduct(transA bool, a *Matrix, transB bool, b *Matrix, mRows, nCols, kDim int) ([]float64, bool) {
	if !blasload.Available() || !a.isContiguous() || !b.isContiguous() {
		return nil, false
	}
	out := make([]float64, mRows*nCols)
	if err := blasload.Dgemm(transA, transB, mRows, nCols, kDim,
		1.0, a.data, a.stride, b.data, b.stride, 0.0, out, nCols); err != nil {
		return nil, false
	}
	return out, true
}

func (m *Matrix) blendProduct(alpha float64, product []float64, rows, cols int, beta float64) {
	for r := 0; r < rows; r++ {
		dst := m.Row(r)
		src := product[r*cols : r*cols+cols]
		for c := 0; c < cols; c++ {
			dst[c] = alpha*src[c] + beta*dst[c]
		}
	}
}

// denseOf copies m's logical contents into a gonum mat.Dense. Views and
// padded storage both make a raw slice handoff unsafe, so a defensive copy
// is used — the O(rows·cols) copy cost is negligible next to the O(rows·
// cols·inner) cost of the multiply itself.
func denseOf(m *Matrix) *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for r := 0; r < m.rows; r++ {
		row := m.Row(r)
		for c, v := range row {
			d.Set(r, c, v)
		}
	}
	return d
}

// clipExp is the ±50 bound spec.md §4.1 places on pre-activation values
// before they reach exp(), so a runaway forward pass produces a large
// finite number instead of +Inf/NaN.
const clipExp = 50.0

func clip(x float64) float64 {
	if x > clipExp {
		return clipExp
	}
	if x < -clipExp {
		return -clipExp
	}
	return x
}

// Sigmoid applies the logistic function element-wise in place, clipping
// the argument to ±50 first.
func (m *Matrix) Sigmoid() {
	for r := 0; r < m.rows; r++ {
		row := m.Row(r)
		for c, v := range row {
			row[c] = 1.0 / (1.0 + math.Exp(-clip(v)))
		}
	}
}

// Softmax applies row-wise softmax in place: each row is shifted by its
// own max before exponentiation (for numerical stability) and the
// exponent argument is clipped to ±50.
func (m *Matrix) Softmax() {
	for r := 0; r < m.rows; r++ {
		m.SoftmaxRow(r)
	}
}

// SoftmaxRow applies softmax in place to row r only, leaving the other
// rows untouched — used when rows of a mini-batch matrix become ready at
// different times (spec.md §4.6's per-target, per-node activation fill).
func (m *Matrix) SoftmaxRow(r int) {
	row := m.Row(r)
	if len(row) == 0 {
		return
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for c, v := range row {
		e := math.Exp(clip(v - max))
		row[c] = e
		sum += e
	}
	if sum > 0 {
		for c := range row {
			row[c] /= sum
		}
	}
}

// ColSum computes vec ← α·colsum(mat) + β·vec (spec.md §4.1).
func ColSum(alpha float64, m *Matrix, beta float64, vec *Vector) error {
	if vec.Size() != m.cols {
		return connerr.New(connerr.KindDimMismatch, "ColSum", nil)
	}
	for c := 0; c < m.cols; c++ {
		var sum float64
		for r := 0; r < m.rows; r++ {
			sum += m.At(r, c)
		}
		vec.data[c] = alpha*sum + beta*vec.data[c]
	}
	return nil
}
