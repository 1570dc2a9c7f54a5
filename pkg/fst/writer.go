package fst

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// Writer emits the FST text format of spec.md §6: one arc per line
// `src dst ilabel olabel weight`, final states on their own line.
// Concurrent workers share one Writer, so every emit is mutex-guarded
// (spec.md §4.11: "Writing to fst_fp ... with a locked mutex").
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	symbols func(word int) string
}

// NewWriter wraps w. symbols, if non-nil, renders a word id as a symbol
// name (--PRINT_SYMS); nil prints raw ids.
func NewWriter(w io.Writer, symbols func(int) string) *Writer {
	return &Writer{w: w, symbols: symbols}
}

func (wr *Writer) label(word int) string {
	if wr.symbols != nil {
		return wr.symbols(word)
	}
	return strconv.Itoa(word)
}

// Arc emits one transition line.
func (wr *Writer) Arc(src, dst, ilabel, olabel int, weight float64) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	_, err := fmt.Fprintf(wr.w, "%d %d %s %s %.10g\n", src, dst, wr.label(ilabel), wr.label(olabel), weight)
	if err != nil {
		return connerr.New(connerr.KindIO, "Writer.Arc", err)
	}
	return nil
}

// PhiArc emits a back-off failure arc: ilabel/olabel render as "<phi>"/
// "<eps>" regardless of the symbols function, since phi/eps are not
// ordinary vocabulary words.
func (wr *Writer) PhiArc(src, dst int, weight float64) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	_, err := fmt.Fprintf(wr.w, "%d %d <phi> <eps> %.10g\n", src, dst, weight)
	if err != nil {
		return connerr.New(connerr.KindIO, "Writer.PhiArc", err)
	}
	return nil
}

// Final marks state as accepting.
func (wr *Writer) Final(state int) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	_, err := fmt.Fprintf(wr.w, "%d\n", state)
	if err != nil {
		return connerr.New(connerr.KindIO, "Writer.Final", err)
	}
	return nil
}

// WriteSymbols writes a symbol table (`<eps>=0`, `<phi>=V+1`, then each
// word) in the conventional `symbol id` per line format.
func WriteSymbols(w io.Writer, words []string) error {
	lines := []string{"<eps> 0"}
	for i, word := range words {
		lines = append(lines, fmt.Sprintf("%s %d", word, i+1))
	}
	lines = append(lines, fmt.Sprintf("<phi> %d", len(words)+1))
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return connerr.New(connerr.KindIO, "WriteSymbols", err)
		}
	}
	return nil
}
