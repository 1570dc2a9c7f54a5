package model

import (
	"fmt"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// Merge structurally combines models loaded from separate filtered files
// (spec.md §4.10's `merge` verb): all inputs must share the same
// vocabulary and output tree — any component present in a model depends
// only on V and T, never on another component (spec.md §3's Model
// invariant) — and no two inputs may contribute the same component name.
func Merge(models []*Model) (*Model, error) {
	if len(models) == 0 {
		return nil, connerr.New(connerr.KindOpt, "model.Merge", fmt.Errorf("no models given"))
	}
	out := New()
	for i, m := range models {
		if m.Vocab != nil {
			if out.Vocab == nil {
				out.Vocab = m.Vocab
			} else if !out.Vocab.Equal(m.Vocab) {
				return nil, connerr.New(connerr.KindInvalidFormat, "model.Merge",
					fmt.Errorf("input %d has a different vocabulary", i))
			}
		}
		if m.Tree != nil {
			if out.Tree == nil {
				out.Tree = m.Tree
			} else if !sameTreeShape(out.Tree, m.Tree) {
				return nil, connerr.New(connerr.KindInvalidFormat, "model.Merge",
					fmt.Errorf("input %d has a different output tree", i))
			}
		}
		for _, c := range m.Components {
			if out.ComponentByName(c.Name) != nil {
				return nil, connerr.New(connerr.KindInvalidFormat, "model.Merge",
					fmt.Errorf("duplicate component %q across merge inputs", c.Name))
			}
			out.Components = append(out.Components, c)
			out.Weights[c.Name] = m.Weights[c.Name]
		}
	}
	return out, nil
}

// sameTreeShape compares two trees by node count and leaf count only,
// since Tree has no Equal method of its own; child ranges and
// leaf-to-word assignments are not compared.
func sameTreeShape(a, b interface {
	NumNodes() int
	NumLeaves() int
}) bool {
	return a.NumNodes() == b.NumNodes() && a.NumLeaves() == b.NumLeaves()
}
