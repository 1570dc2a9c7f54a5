package numeric

import (
	"math"
	"testing"
)

func TestMatrixAtSet(t *testing.T) {
	m := NewMatrix(3, 5)
	m.Set(1, 2, 4.5)
	if got := m.At(1, 2); got != 4.5 {
		t.Fatalf("At(1,2) = %v, want 4.5", got)
	}
	if m.At(0, 0) != 0 || m.At(2, 4) != 0 {
		t.Fatalf("expected zero-initialized elements elsewhere")
	}
}

func TestMatrixResizePreservesOverlap(t *testing.T) {
	m := NewMatrix(2, 2)
	m.Set(0, 0, 1)
	m.Set(0, 1, 2)
	m.Set(1, 0, 3)
	m.Set(1, 1, 4)

	if err := m.Resize(3, 3, 0); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if m.At(0, 0) != 1 || m.At(0, 1) != 2 || m.At(1, 0) != 3 || m.At(1, 1) != 4 {
		t.Fatalf("Resize lost overlapping contents")
	}
	if m.At(2, 2) != 0 {
		t.Fatalf("Resize should zero-fill new elements with init=0")
	}
}

func TestMatrixResizeNaNLeavesNewZero(t *testing.T) {
	m := NewMatrix(1, 1)
	m.Set(0, 0, 9)
	if err := m.Resize(2, 2, math.NaN()); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if m.At(0, 0) != 9 {
		t.Fatalf("NaN-init resize must preserve existing contents")
	}
	if m.At(1, 1) != 0 {
		t.Fatalf("NaN-init resize should zero-fill new elements, got %v", m.At(1, 1))
	}
}

func TestMatrixResizeOnViewFails(t *testing.T) {
	m := NewMatrix(3, 3)
	view := m.SubMat(0, 2, 0, 2)
	if err := view.Resize(4, 4, 0); err == nil {
		t.Fatalf("expected error resizing a view")
	}
}

func TestSubMatSharesStorage(t *testing.T) {
	m := NewMatrix(4, 4)
	view := m.SubMat(1, 3, 1, 3)
	view.Set(0, 0, 7)
	if m.At(1, 1) != 7 {
		t.Fatalf("SubMat should share storage with parent")
	}
}

func TestMulAddIdentity(t *testing.T) {
	a := NewMatrix(2, 2)
	a.Set(0, 0, 1)
	a.Set(0, 1, 2)
	a.Set(1, 0, 3)
	a.Set(1, 1, 4)
	b := NewMatrix(2, 2)
	b.Set(0, 0, 1)
	b.Set(1, 1, 1)

	c := NewMatrix(2, 2)
	if err := c.MulAdd(1, false, a, false, b, 0); err != nil {
		t.Fatalf("MulAdd: %v", err)
	}
	for r := 0; r < 2; r++ {
		for col := 0; col < 2; col++ {
			if c.At(r, col) != a.At(r, col) {
				t.Errorf("MulAdd by identity changed element (%d,%d)", r, col)
			}
		}
	}
}

func TestMulAddDimMismatch(t *testing.T) {
	a := NewMatrix(2, 3)
	b := NewMatrix(2, 2)
	c := NewMatrix(2, 2)
	if err := c.MulAdd(1, false, a, false, b, 0); err == nil {
		t.Fatalf("expected DimMismatch error")
	}
}

func TestMulAddTransposed(t *testing.T) {
	a := NewMatrix(3, 2) // 3x2
	for r := 0; r < 3; r++ {
		for c := 0; c < 2; c++ {
			a.Set(r, c, float64(r*2+c+1))
		}
	}
	b := NewMatrix(3, 2)
	for r := 0; r < 3; r++ {
		for c := 0; c < 2; c++ {
			b.Set(r, c, float64(r*2+c+1))
		}
	}
	// a^T (2x3) * b (3x2) = 2x2
	c := NewMatrix(2, 2)
	if err := c.MulAdd(1, true, a, false, b, 0); err != nil {
		t.Fatalf("MulAdd transposed: %v", err)
	}
	// manual check of (0,0): sum_k a(k,0)*b(k,0) = 1*1+3*3+5*5=35
	if got, want := c.At(0, 0), 35.0; got != want {
		t.Errorf("transposed MulAdd (0,0) = %v, want %v", got, want)
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	m := NewMatrix(2, 3)
	m.Set(0, 0, 1)
	m.Set(0, 1, 2)
	m.Set(0, 2, 3)
	m.Set(1, 0, 100)
	m.Set(1, 1, 100)
	m.Set(1, 2, 100)
	m.Softmax()
	for r := 0; r < 2; r++ {
		var sum float64
		for c := 0; c < 3; c++ {
			sum += m.At(r, c)
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("row %d sums to %v, want 1", r, sum)
		}
	}
}

func TestSigmoidClipsExtremes(t *testing.T) {
	m := NewMatrix(1, 2)
	m.Set(0, 0, 1000)
	m.Set(0, 1, -1000)
	m.Sigmoid()
	if m.At(0, 0) <= 0.999999 {
		t.Errorf("sigmoid(clipped large) should saturate near 1, got %v", m.At(0, 0))
	}
	if m.At(0, 1) >= 0.000001 {
		t.Errorf("sigmoid(clipped very negative) should saturate near 0, got %v", m.At(0, 1))
	}
}

func TestColSum(t *testing.T) {
	m := NewMatrix(3, 2)
	for r := 0; r < 3; r++ {
		m.Set(r, 0, float64(r+1))
		m.Set(r, 1, float64(2 * (r + 1)))
	}
	vec := NewVector(2)
	if err := ColSum(1, m, 0, vec); err != nil {
		t.Fatalf("ColSum: %v", err)
	}
	if vec.At(0) != 6 || vec.At(1) != 12 {
		t.Errorf("ColSum = [%v %v], want [6 12]", vec.At(0), vec.At(1))
	}
}
