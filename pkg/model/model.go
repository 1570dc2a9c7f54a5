// Package model implements the model container and binary wire format of
// spec.md §4.10 (component C10): a versioned, magic-guarded file bundling
// a vocabulary, an output tree, and zero or more components, each
// sub-block binary and framed by its own magic, and the model filter
// grammar for partial save/load/merge. Text sub-blocks (the `"    "`
// sentinel) are neither written nor read: Load rejects any sub-block
// whose magic it does not recognize with InvalidFormat.
//
// Grounded on the teacher's pkg/persistence/codec.go: a magic+version
// header framing a msgpack-encoded body, generalized from one flat
// struct to several independently-selectable, independently-framed
// sub-blocks.
package model

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/wantee/connlm-go/pkg/component"
	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/numeric"
	"github.com/wantee/connlm-go/pkg/tree"
	"github.com/wantee/connlm-go/pkg/vocab"
)

// FileVersion is the format version this package writes; Load accepts
// any version in [MinFileVersion, FileVersion] (spec.md §4.10).
const (
	FileMagic      = "CLM\x01"
	FileVersion    = 3
	MinFileVersion = 3
)

var (
	vocabMagic     = [4]byte{'V', 'O', 'C', '1'}
	outputMagic    = [4]byte{'O', 'U', 'T', '1'}
	componentMagic = [4]byte{'C', 'M', 'P', '1'}
)

// GlueWeights holds one glue's learned parameters, keyed by glue name
// within its component — the payload a weight updater would flush back
// into the model container at checkpoint time.
type GlueWeights struct {
	W    *numeric.Matrix
	Bias *numeric.Vector
}

// Model is the in-memory container: vocabulary, output tree, parsed
// component topologies, and each component's glue weights.
type Model struct {
	Vocab      *vocab.Vocab
	Tree       *tree.Tree
	Components []*component.Component
	Weights    map[string]map[string]*GlueWeights // component name -> glue name -> weights
}

// New builds an empty model container.
func New() *Model {
	return &Model{Weights: map[string]map[string]*GlueWeights{}}
}

// ComponentByName returns the named component, or nil.
func (m *Model) ComponentByName(name string) *component.Component {
	for _, c := range m.Components {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- msgpack-friendly snapshots for the non-numeric sub-blocks ---

type vocabSnapshot struct {
	Words  []string `msgpack:"words"`
	Counts []uint64 `msgpack:"counts"`
}

type treeSnapshot struct {
	NumWords   int    `msgpack:"num_words"`
	Root       int    `msgpack:"root"`
	IsLeaf     []bool `msgpack:"is_leaf"`
	LeafWord   []int  `msgpack:"leaf_word"`
	ChildStart []int  `msgpack:"child_start"`
	ChildEnd   []int  `msgpack:"child_end"`
	Parent     []int  `msgpack:"parent"`
	Word2Leaf  []int  `msgpack:"word2leaf"`
}

func snapshotTree(t *tree.Tree) treeSnapshot {
	n := t.NumNodes()
	s := treeSnapshot{
		NumWords: t.NumLeaves(), Root: t.Root(),
		IsLeaf: make([]bool, n), LeafWord: make([]int, n),
		ChildStart: make([]int, n), ChildEnd: make([]int, n), Parent: make([]int, n),
		Word2Leaf: make([]int, t.NumLeaves()),
	}
	for i := 0; i < n; i++ {
		s.IsLeaf[i] = t.IsLeaf(i)
		s.ChildStart[i] = t.SChildren(i)
		s.ChildEnd[i] = t.EChildren(i)
		s.Parent[i] = t.Parent(i)
		if t.IsLeaf(i) {
			s.LeafWord[i] = t.Leaf2Word(i)
		}
	}
	for w := 0; w < t.NumLeaves(); w++ {
		s.Word2Leaf[w] = t.Word2Leaf(w)
	}
	return s
}

func (s treeSnapshot) rebuild() *tree.Tree {
	return tree.FromArena(s.NumWords, s.Root, s.IsLeaf, s.LeafWord, s.ChildStart, s.ChildEnd, s.Parent, s.Word2Leaf)
}

type componentSnapshot struct {
	Name       string            `msgpack:"name"`
	Properties map[string]string `msgpack:"properties"`
	Layers     []component.Layer `msgpack:"layers"`
	Glues      []component.Glue  `msgpack:"glues"`
	Cycles     []component.Cycle `msgpack:"cycles"`
	TopoOrder  []string          `msgpack:"topo_order"`
	GlueOrder  []string          `msgpack:"glue_order"`
}

// Save writes every sub-block filter selects into w, framed with the file
// header. Save buffers the whole body first so it can record an accurate
// real_size field in the header, matching spec.md §4.10's layout.
func Save(w io.Writer, m *Model, filter Filter, shortQuantize, zeroCompress bool) error {
	var body bytes.Buffer

	if filter.IncludesVocab() {
		if err := writeVocabBlock(&body, m.Vocab); err != nil {
			return err
		}
	}
	if filter.IncludesOutput() {
		if err := writeOutputBlock(&body, m.Tree); err != nil {
			return err
		}
	}
	for _, c := range m.Components {
		if !filter.IncludesComponent(c.Name) {
			continue
		}
		if err := writeComponentBlock(&body, c, m.Weights[c.Name], shortQuantize, zeroCompress); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, [4]byte{FileMagic[0], FileMagic[1], FileMagic[2], FileMagic[3]}); err != nil {
		return connerr.New(connerr.KindIO, "model.Save", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(FileVersion)); err != nil {
		return connerr.New(connerr.KindIO, "model.Save", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(body.Len())); err != nil {
		return connerr.New(connerr.KindIO, "model.Save", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return connerr.New(connerr.KindIO, "model.Save", err)
	}
	return nil
}

func writeVocabBlock(w io.Writer, v *vocab.Vocab) error {
	if _, err := w.Write(vocabMagic[:]); err != nil {
		return connerr.New(connerr.KindIO, "model.writeVocabBlock", err)
	}
	data, err := msgpack.Marshal(vocabSnapshot{Words: v.Words(), Counts: v.Counts()})
	if err != nil {
		return connerr.New(connerr.KindInvalidFormat, "model.writeVocabBlock", err)
	}
	return writeLenPrefixed(w, data)
}

func writeOutputBlock(w io.Writer, t *tree.Tree) error {
	if _, err := w.Write(outputMagic[:]); err != nil {
		return connerr.New(connerr.KindIO, "model.writeOutputBlock", err)
	}
	data, err := msgpack.Marshal(snapshotTree(t))
	if err != nil {
		return connerr.New(connerr.KindInvalidFormat, "model.writeOutputBlock", err)
	}
	return writeLenPrefixed(w, data)
}

func writeComponentBlock(w io.Writer, c *component.Component, weights map[string]*GlueWeights, shortQuantize, zeroCompress bool) error {
	if _, err := w.Write(componentMagic[:]); err != nil {
		return connerr.New(connerr.KindIO, "model.writeComponentBlock", err)
	}

	snap := componentSnapshot{
		Name: c.Name, Properties: c.Properties, TopoOrder: c.TopoOrder, Cycles: c.Cycles,
		Layers: exportLayers(c.Layers), Glues: exportGlues(c.Glues),
	}
	for name := range weights {
		snap.GlueOrder = append(snap.GlueOrder, name)
	}

	header, err := msgpack.Marshal(snap)
	if err != nil {
		return connerr.New(connerr.KindInvalidFormat, "model.writeComponentBlock", err)
	}
	if err := writeLenPrefixed(w, header); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(snap.GlueOrder))); err != nil {
		return connerr.New(connerr.KindIO, "model.writeComponentBlock", err)
	}
	for _, name := range snap.GlueOrder {
		gw := weights[name]
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(gw.W.Rows())); err != nil {
			return connerr.New(connerr.KindIO, "model.writeComponentBlock", err)
		}
		if err := binary.Write(w, binary.BigEndian, uint32(gw.W.Cols())); err != nil {
			return connerr.New(connerr.KindIO, "model.writeComponentBlock", err)
		}
		flat := make([]float64, gw.W.Rows()*gw.W.Cols())
		for r := 0; r < gw.W.Rows(); r++ {
			copy(flat[r*gw.W.Cols():], gw.W.Row(r))
		}
		if err := numeric.EncodeFloats(w, flat, shortQuantize, zeroCompress); err != nil {
			return err
		}
		if err := numeric.EncodeFloats(w, gw.Bias.Data(), shortQuantize, zeroCompress); err != nil {
			return err
		}
	}
	return nil
}

func exportLayers(ls []*component.Layer) []component.Layer {
	out := make([]component.Layer, len(ls))
	for i, l := range ls {
		out[i] = *l
	}
	return out
}

func exportGlues(gs []*component.Glue) []component.Glue {
	out := make([]component.Glue, len(gs))
	for i, g := range gs {
		out[i] = *g
	}
	return out
}

func writeLenPrefixed(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return connerr.New(connerr.KindIO, "model.writeLenPrefixed", err)
	}
	if _, err := w.Write(data); err != nil {
		return connerr.New(connerr.KindIO, "model.writeLenPrefixed", err)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	return writeLenPrefixed(w, []byte(s))
}

// Load reads a model file written by Save. File version must fall within
// [MinFileVersion, FileVersion]; any other value is InvalidFormat.
func Load(r io.Reader) (*Model, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, connerr.New(connerr.KindIO, "model.Load", err)
	}
	if string(magic[:]) != FileMagic {
		return nil, connerr.New(connerr.KindInvalidFormat, "model.Load", fmt.Errorf("bad magic"))
	}
	var version, size uint32
	if err := binary.Read(br, binary.BigEndian, &version); err != nil {
		return nil, connerr.New(connerr.KindIO, "model.Load", err)
	}
	if version < MinFileVersion || version > FileVersion {
		return nil, connerr.New(connerr.KindInvalidFormat, "model.Load", fmt.Errorf("unsupported version %d", version))
	}
	if err := binary.Read(br, binary.BigEndian, &size); err != nil {
		return nil, connerr.New(connerr.KindIO, "model.Load", err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, connerr.New(connerr.KindIO, "model.Load", err)
	}

	m := New()
	buf := bytes.NewReader(body)
	for buf.Len() > 0 {
		var blockMagic [4]byte
		if _, err := io.ReadFull(buf, blockMagic[:]); err != nil {
			return nil, connerr.New(connerr.KindIO, "model.Load", err)
		}
		switch blockMagic {
		case vocabMagic:
			data, err := readLenPrefixed(buf)
			if err != nil {
				return nil, err
			}
			var snap vocabSnapshot
			if err := msgpack.Unmarshal(data, &snap); err != nil {
				return nil, connerr.New(connerr.KindInvalidFormat, "model.Load", err)
			}
			m.Vocab = vocab.FromParts(snap.Words, snap.Counts)
		case outputMagic:
			data, err := readLenPrefixed(buf)
			if err != nil {
				return nil, err
			}
			var snap treeSnapshot
			if err := msgpack.Unmarshal(data, &snap); err != nil {
				return nil, connerr.New(connerr.KindInvalidFormat, "model.Load", err)
			}
			m.Tree = snap.rebuild()
		case componentMagic:
			c, weights, err := readComponentBlock(buf)
			if err != nil {
				return nil, err
			}
			m.Components = append(m.Components, c)
			m.Weights[c.Name] = weights
		default:
			return nil, connerr.New(connerr.KindInvalidFormat, "model.Load", fmt.Errorf("unknown sub-block magic %v", blockMagic))
		}
	}
	return m, nil
}

func readComponentBlock(buf *bytes.Reader) (*component.Component, map[string]*GlueWeights, error) {
	header, err := readLenPrefixed(buf)
	if err != nil {
		return nil, nil, err
	}
	var snap componentSnapshot
	if err := msgpack.Unmarshal(header, &snap); err != nil {
		return nil, nil, connerr.New(connerr.KindInvalidFormat, "model.readComponentBlock", err)
	}

	c := &component.Component{
		Name: snap.Name, Properties: snap.Properties,
		Cycles: snap.Cycles, TopoOrder: snap.TopoOrder,
	}
	for i := range snap.Layers {
		l := snap.Layers[i]
		c.Layers = append(c.Layers, &l)
	}
	for i := range snap.Glues {
		g := snap.Glues[i]
		c.Glues = append(c.Glues, &g)
	}

	var numGlues uint32
	if err := binary.Read(buf, binary.BigEndian, &numGlues); err != nil {
		return nil, nil, connerr.New(connerr.KindIO, "model.readComponentBlock", err)
	}
	weights := make(map[string]*GlueWeights, numGlues)
	for i := uint32(0); i < numGlues; i++ {
		nameBytes, err := readLenPrefixed(buf)
		if err != nil {
			return nil, nil, err
		}
		var rows, cols uint32
		if err := binary.Read(buf, binary.BigEndian, &rows); err != nil {
			return nil, nil, connerr.New(connerr.KindIO, "model.readComponentBlock", err)
		}
		if err := binary.Read(buf, binary.BigEndian, &cols); err != nil {
			return nil, nil, connerr.New(connerr.KindIO, "model.readComponentBlock", err)
		}
		flat, err := numeric.DecodeFloats(buf)
		if err != nil {
			return nil, nil, err
		}
		biasData, err := numeric.DecodeFloats(buf)
		if err != nil {
			return nil, nil, err
		}
		w := numeric.NewMatrix(int(rows), int(cols))
		for r := 0; r < int(rows); r++ {
			copy(w.Row(r), flat[r*int(cols):(r+1)*int(cols)])
		}
		bias := numeric.NewVector(len(biasData))
		copy(bias.Data(), biasData)
		weights[string(nameBytes)] = &GlueWeights{W: w, Bias: bias}
	}
	return c, weights, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, connerr.New(connerr.KindIO, "model.readLenPrefixed", err)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, connerr.New(connerr.KindIO, "model.readLenPrefixed", err)
	}
	return data, nil
}
