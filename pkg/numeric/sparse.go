package numeric

import "sort"

// SparseEntry is a single (row, col, value) triple of a COO matrix.
type SparseEntry struct {
	Row, Col int
	Val      float64
}

// COO is a coordinate-format sparse matrix that supports incremental
// append; it is the only sparse format built directly, CSR/CSC are
// derived from it (spec.md §4.1: "only the combinations actually
// consumed by C5 updates need to be implementable").
type COO struct {
	rows, cols int
	entries    []SparseEntry
}

// NewCOO creates an empty rows×cols COO matrix.
func NewCOO(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols}
}

// Append adds one (row, col, val) entry. Duplicate (row,col) pairs are
// allowed and accumulate on conversion to CSR/CSC, matching the
// append-only semantics of an incremental batch accumulator.
func (c *COO) Append(row, col int, val float64) {
	c.entries = append(c.entries, SparseEntry{row, col, val})
}

// Rows returns the logical row count.
func (c *COO) Rows() int { return c.rows }

// Cols returns the logical column count.
func (c *COO) Cols() int { return c.cols }

// Entries returns the accumulated (row,col,val) triples in append order.
func (c *COO) Entries() []SparseEntry { return c.entries }

// Reset discards all entries while keeping the logical shape, so a COO
// accumulator can be reused across mini-batches without reallocating.
func (c *COO) Reset() { c.entries = c.entries[:0] }

// CSR is a row-compressed sparse matrix: RowPtr has Rows()+1 entries,
// ColIdx/Vals are parallel arrays of length RowPtr[Rows()].
type CSR struct {
	rows, cols int
	RowPtr     []int
	ColIdx     []int
	Vals       []float64
}

func (m *CSR) Rows() int { return m.rows }
func (m *CSR) Cols() int { return m.cols }

// ToCSR builds a row-compressed matrix from the COO entries, summing
// duplicate (row,col) contributions, with columns sorted within each row.
func (c *COO) ToCSR() *CSR {
	sorted := append([]SparseEntry(nil), c.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	out := &CSR{rows: c.rows, cols: c.cols, RowPtr: make([]int, c.rows+1)}
	i := 0
	for r := 0; r < c.rows; r++ {
		out.RowPtr[r] = len(out.Vals)
		for i < len(sorted) && sorted[i].Row == r {
			col := sorted[i].Col
			val := sorted[i].Val
			for i+1 < len(sorted) && sorted[i+1].Row == r && sorted[i+1].Col == col {
				i++
				val += sorted[i].Val
			}
			out.ColIdx = append(out.ColIdx, col)
			out.Vals = append(out.Vals, val)
			i++
		}
	}
	out.RowPtr[c.rows] = len(out.Vals)
	return out
}

// RowTouched reports whether any entries touch logical row r, and returns
// their column indices — the CSC-style "which rows each example touches"
// index query the segment update path needs (spec.md §4.5).
func (m *CSR) RowTouched(r int) ([]int, bool) {
	start, end := m.RowPtr[r], m.RowPtr[r+1]
	if start == end {
		return nil, false
	}
	return m.ColIdx[start:end], true
}

// CSC is a column-compressed sparse matrix: ColPtr has Cols()+1 entries,
// RowIdx/Vals are parallel arrays of length ColPtr[Cols()].
type CSC struct {
	rows, cols int
	ColPtr     []int
	RowIdx     []int
	Vals       []float64
}

func (m *CSC) Rows() int { return m.rows }
func (m *CSC) Cols() int { return m.cols }

// ToCSC builds a column-compressed matrix from the COO entries, summing
// duplicate (row,col) contributions, with rows sorted within each column.
func (c *COO) ToCSC() *CSC {
	sorted := append([]SparseEntry(nil), c.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Col != sorted[j].Col {
			return sorted[i].Col < sorted[j].Col
		}
		return sorted[i].Row < sorted[j].Row
	})

	out := &CSC{rows: c.rows, cols: c.cols, ColPtr: make([]int, c.cols+1)}
	i := 0
	for cc := 0; cc < c.cols; cc++ {
		out.ColPtr[cc] = len(out.Vals)
		for i < len(sorted) && sorted[i].Col == cc {
			row := sorted[i].Row
			val := sorted[i].Val
			for i+1 < len(sorted) && sorted[i+1].Col == cc && sorted[i+1].Row == row {
				i++
				val += sorted[i].Val
			}
			out.RowIdx = append(out.RowIdx, row)
			out.Vals = append(out.Vals, val)
			i++
		}
	}
	out.ColPtr[c.cols] = len(out.Vals)
	return out
}

// TouchedRows returns the column c's touched row indices — the segment
// update's "which rows each example touches" lookup (spec.md §4.5).
func (m *CSC) TouchedRows(c int) []int {
	start, end := m.ColPtr[c], m.ColPtr[c+1]
	return m.RowIdx[start:end]
}

// OneShotEntry is a single (row_in_batch, input_id, scale) triple of the
// one-shot update path's sparse error carrier (spec.md §4.5): for each
// entry the update adds η_eff·scale·err_row − λ·W_row to row input_id.
type OneShotEntry struct {
	RowInBatch int
	InputID    int
	Scale      float64
}
