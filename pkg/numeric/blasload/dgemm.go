package blasload

import (
	"fmt"
	"unsafe"
)

// Dgemm computes c ← alpha·op(a)·op(b) + beta·c using the bound native
// BLAS cblas_dgemm, where a is m×k (or k×m if transA), b is k×n (or n×k
// if transB), and c is m×n, all row-major. It returns an error if no
// native backend was found; callers should fall back to the gonum path
// in that case.
func Dgemm(transA, transB bool, m, n, k int, alpha float64, a []float64, lda int, b []float64, ldb int, beta float64, c []float64, ldc int) error {
	if err := initLibrary(); err != nil {
		return err
	}
	ta, tb := cblasNoTrans, cblasNoTrans
	if transA {
		ta = cblasTrans
	}
	if transB {
		tb = cblasTrans
	}
	cblasDgemm(cblasRowMajor, ta, tb,
		int32(m), int32(n), int32(k),
		alpha, uintptr(unsafe.Pointer(&a[0])), int32(lda),
		uintptr(unsafe.Pointer(&b[0])), int32(ldb),
		beta, uintptr(unsafe.Pointer(&c[0])), int32(ldc))
	return nil
}

// SelfTest runs a small, known-answer 2x2 matrix multiply through the
// bound native backend and checks the result, for the supplemented
// `connlm blas-info` CLI verb (spec.md SPEC_FULL supplemented features,
// grounded on the original C project's blas-test.c).
func SelfTest() error {
	if err := initLibrary(); err != nil {
		return err
	}
	// [[1 2] [3 4]] * [[5 6] [7 8]] = [[19 22] [43 50]]
	a := []float64{1, 2, 3, 4}
	b := []float64{5, 6, 7, 8}
	c := make([]float64, 4)
	if err := Dgemm(false, false, 2, 2, 2, 1, a, 2, b, 2, 0, c, 2); err != nil {
		return err
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if c[i] != want[i] {
			return fmt.Errorf("blas self-test mismatch at %d: got %v want %v", i, c[i], want[i])
		}
	}
	return nil
}
