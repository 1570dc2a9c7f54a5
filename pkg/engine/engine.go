// Package engine wires the independently-tested core packages (vocab,
// tree, component, update, reader, driver, model) into the single
// concrete recurrent language model cmd/connlm's train/eval/gen/converter
// verbs operate on.
//
// Scope: one component ("lm"), one hidden layer, one glue declared
// recurrent — an Elman-style RNN. Two additional weight matrices live
// outside the component topology entirely: a word-embedding table and an
// output projection, each a plain update.Updater keyed by a synthetic
// glue name under the "lm" component in the saved model (pkg/model's
// writeComponentBlock persists whatever the Weights map holds, not just
// glue names the topology declares, so this round-trips cleanly). See
// DESIGN.md for why these two matrices aren't modeled as ordinary glues.
package engine

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/wantee/connlm-go/pkg/component"
	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/model"
	"github.com/wantee/connlm-go/pkg/numeric"
	"github.com/wantee/connlm-go/pkg/tree"
	"github.com/wantee/connlm-go/pkg/update"
	"github.com/wantee/connlm-go/pkg/vocab"
)

const (
	// ComponentName is the single component every engine-built model uses.
	ComponentName = "lm"
	// HiddenLayer is the component's sole layer.
	HiddenLayer = "hidden"
	// RecurrentGlue is the component's sole (recurrent) glue.
	RecurrentGlue = "g_rec"
	// EmbedGlue names the synthetic embedding-table weight entry.
	EmbedGlue = "embed_in"
	// OutputGlue names the synthetic output-projection weight entry.
	OutputGlue = "output_proj"
)

// Topology returns the component topology text for a hiddenSize-wide
// Elman RNN, in the grammar pkg/component.Parse accepts.
func Topology(hiddenSize int) string {
	return fmt.Sprintf(`<component>
property name=%s
layer name=%s type=sigmoid size=%d
glue name=%s type=full in=%s out=%s recurrent=true
</component>
`, ComponentName, HiddenLayer, hiddenSize, RecurrentGlue, HiddenLayer, HiddenLayer)
}

// ParseTopology builds the single component from Topology(hiddenSize).
func ParseTopology(hiddenSize int) (*component.Component, error) {
	g, err := component.Parse(strings.NewReader(Topology(hiddenSize)))
	if err != nil {
		return nil, err
	}
	c := g.ComponentByName(ComponentName)
	if c == nil {
		return nil, connerr.New(connerr.KindInvalidTopology, "engine.ParseTopology", fmt.Errorf("component %q missing after parse", ComponentName))
	}
	return c, nil
}

// Hyperparams holds the training/runtime knobs an Engine is built with.
type Hyperparams struct {
	HiddenSize int

	LR       float64
	L2       float64
	Momentum float64

	MiniBatch int
	SyncSize  int
	L2Gap     int

	BPTT      int
	BPTTDelay int
	ErCutoff  float64
}

func (h Hyperparams) params() update.Params {
	return update.Params{
		LR: h.LR, L2: h.L2, Momentum: h.Momentum,
		MiniBatch: h.MiniBatch, SyncSize: h.SyncSize, L2Gap: h.L2Gap,
	}
}

// Engine bundles one worker's private forward/backward state: a
// component updater for the recurrent glue, plus the embedding and
// output-projection updaters that live outside the component graph.
type Engine struct {
	Vocab *vocab.Vocab
	Tree  *tree.Tree
	Comp  *component.Component

	CU      *update.ComponentUpdater
	Embed   *update.Updater
	OutProj *update.Updater
	OU      *update.OutputUpdater

	hiddenSize int
}

// New builds a fresh Engine sized for v/tr. Weight matrices start at zero;
// call InitRandom before training from scratch, or LoadWeights to restore
// a checkpoint.
func New(v *vocab.Vocab, tr *tree.Tree, hp Hyperparams) (*Engine, error) {
	comp, err := ParseTopology(hp.HiddenSize)
	if err != nil {
		return nil, err
	}
	cu, err := update.NewComponentUpdater(comp, map[string]int{HiddenLayer: hp.HiddenSize}, nil, hp.BPTT, hp.BPTTDelay, hp.ErCutoff, hp.params())
	if err != nil {
		return nil, err
	}
	return &Engine{
		Vocab:      v,
		Tree:       tr,
		Comp:       comp,
		CU:         cu,
		Embed:      update.NewFull(update.TagOneShot, v.Size(), hp.HiddenSize, hp.params()),
		OutProj:    update.NewFull(update.TagFull, v.Size(), hp.HiddenSize, hp.params()),
		OU:         update.New(tr, vocab.Unk),
		hiddenSize: hp.HiddenSize,
	}, nil
}

// HiddenSize returns the engine's hidden-layer width.
func (e *Engine) HiddenSize() int { return e.hiddenSize }

// InitRandom jitters every weight matrix/bias with small uniform noise
// around zero, breaking the symmetry a zero-initialized network would
// otherwise never escape.
func (e *Engine) InitRandom(rng *rand.Rand, scale float64) {
	w, b := e.CU.GlueWeights(RecurrentGlue)
	jitterMatrix(w, rng, scale)
	jitterVector(b, rng, scale)
	jitterMatrix(e.Embed.Weight(), rng, scale)
	jitterVector(e.Embed.Bias(), rng, scale)
	jitterMatrix(e.OutProj.Weight(), rng, scale)
	jitterVector(e.OutProj.Bias(), rng, scale)
}

func jitterMatrix(m *numeric.Matrix, rng *rand.Rand, scale float64) {
	for r := 0; r < m.Rows(); r++ {
		row := m.Row(r)
		for c := range row {
			row[c] = scale * (2*rng.Float64() - 1)
		}
	}
}

func jitterVector(v *numeric.Vector, rng *rand.Rand, scale float64) {
	for i := 0; i < v.Size(); i++ {
		v.Set(i, scale*(2*rng.Float64()-1))
	}
}

// ExportWeights snapshots the engine's three weight matrices into the
// map shape model.Model.Weights expects for ComponentName.
func (e *Engine) ExportWeights() map[string]*model.GlueWeights {
	w, b := e.CU.GlueWeights(RecurrentGlue)
	return map[string]*model.GlueWeights{
		RecurrentGlue: {W: w, Bias: b},
		EmbedGlue:     {W: e.Embed.Weight(), Bias: e.Embed.Bias()},
		OutputGlue:    {W: e.OutProj.Weight(), Bias: e.OutProj.Bias()},
	}
}

// LoadWeights restores a previously exported snapshot, when present.
// Missing entries are left at their current (typically random-inited)
// values, so partial checkpoints degrade gracefully.
func (e *Engine) LoadWeights(weights map[string]*model.GlueWeights) error {
	if gw, ok := weights[RecurrentGlue]; ok {
		if err := e.CU.SetGlueWeights(RecurrentGlue, gw.W, gw.Bias); err != nil {
			return err
		}
	}
	if gw, ok := weights[EmbedGlue]; ok {
		if err := e.Embed.SetWeights(gw.W, gw.Bias); err != nil {
			return err
		}
	}
	if gw, ok := weights[OutputGlue]; ok {
		if err := e.OutProj.SetWeights(gw.W, gw.Bias); err != nil {
			return err
		}
	}
	return nil
}

// NewModel builds an empty model.Model around v/tr with this engine's
// topology and an empty weight map, ready for ExportWeights to populate
// (the `init` verb does so right after InitRandom, before any training).
func NewModel(v *vocab.Vocab, tr *tree.Tree, hp Hyperparams) (*model.Model, error) {
	comp, err := ParseTopology(hp.HiddenSize)
	if err != nil {
		return nil, err
	}
	m := model.New()
	m.Vocab = v
	m.Tree = tr
	m.Components = []*component.Component{comp}
	return m, nil
}

// resetHidden zeroes the hidden layer's activation, for the start of a
// new sentence.
func (e *Engine) resetHidden() {
	h := e.CU.LayerActivation(HiddenLayer)
	for i := range h {
		h[i] = 0
	}
}

// step runs one forward step consuming prevWord's embedding into the
// hidden state, then fills logits for target via the output projection,
// returning the word's log-probability. When train is true it also runs
// the backward pass and applies weight updates.
func (e *Engine) step(prevWord, target int, train bool) (float64, error) {
	embed := e.Embed.Weight().Row(prevWord)
	hidden := e.CU.LayerActivation(HiddenLayer)
	for k := range hidden {
		hidden[k] += embed[k]
	}

	if _, err := e.CU.ForwardStep(); err != nil {
		return 0, err
	}
	hiddenNow := e.CU.LayerActivation(HiddenLayer)

	outW, outBias := e.OutProj.Weight(), e.OutProj.Bias()
	fillLogits := func(_ int, step tree.PathStep, row []float64) {
		for c := range row {
			wrow := outW.Row(step.S + c)
			var sum float64
			for k, hv := range hiddenNow {
				sum += hv * wrow[k]
			}
			row[c] = sum + outBias.At(step.S+c)
		}
	}

	if err := e.OU.Prepare([]int{target}); err != nil {
		return 0, err
	}
	logps := make([]float64, 1)
	if err := e.OU.Activate(fillLogits, logps); err != nil {
		return 0, err
	}
	if !train {
		return logps[0], nil
	}

	if err := e.OU.Loss(); err != nil {
		return 0, err
	}
	errs := e.OU.Errs(e.Tree.Root())
	errRow := errs.Row(0)

	inM := numeric.NewMatrix(1, e.hiddenSize)
	copy(inM.Row(0), hiddenNow)
	if err := e.OutProj.UpdateFull(inM, errs); err != nil {
		return 0, err
	}

	dHidden := make([]float64, e.hiddenSize)
	for c, ev := range errRow {
		wrow := outW.Row(c)
		for k := range dHidden {
			dHidden[k] += ev * wrow[k]
		}
	}
	for k, hv := range hiddenNow {
		dHidden[k] *= hv * (1 - hv)
	}

	if err := e.CU.BackwardBlock(map[string][]float64{RecurrentGlue: dHidden}); err != nil {
		return 0, err
	}

	embedErr := numeric.NewMatrix(1, e.hiddenSize)
	copy(embedErr.Row(0), dHidden)
	if err := e.Embed.UpdateOneShot(embedErr, []numeric.OneShotEntry{{RowInBatch: 0, InputID: prevWord, Scale: 1.0}}); err != nil {
		return 0, err
	}

	return logps[0], nil
}

// ScoreSentence runs the forward (and, if train, backward) pass over one
// tokenized sentence (already SentEnd-terminated by pkg/reader),
// returning its total log-probability. vocab.SentEnd doubles as the
// start-of-sentence context for the first word.
func (e *Engine) ScoreSentence(words []int, train bool) (float64, error) {
	e.resetHidden()
	prev := vocab.SentEnd
	var total float64
	for _, w := range words {
		lp, err := e.step(prev, w, train)
		if err != nil {
			return 0, err
		}
		total += lp
		prev = w
	}
	return total, nil
}

// GenerateSentence samples a sentence word-by-word from the model,
// optionally seeded by a fixed prefix (fed through the forward pass
// without being resampled), stopping at vocab.SentEnd or maxLen words.
func (e *Engine) GenerateSentence(prefix []int, maxLen int, rng *rand.Rand) ([]int, error) {
	e.resetHidden()
	prev := vocab.SentEnd
	out := make([]int, 0, maxLen)

	emit := func(w int) error {
		if _, err := e.step(prev, w, false); err != nil {
			return err
		}
		prev = w
		return nil
	}
	for _, w := range prefix {
		if err := emit(w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}

	for len(out) < maxLen {
		embed := e.Embed.Weight().Row(prev)
		hidden := e.CU.LayerActivation(HiddenLayer)
		for k := range hidden {
			hidden[k] += embed[k]
		}
		if _, err := e.CU.ForwardStep(); err != nil {
			return nil, err
		}
		hiddenNow := e.CU.LayerActivation(HiddenLayer)

		root := e.Tree.Root()
		n := e.Tree.EChildren(root) - e.Tree.SChildren(root)
		logits := make([]float64, n)
		outW, outBias := e.OutProj.Weight(), e.OutProj.Bias()
		s := e.Tree.SChildren(root)
		for c := 0; c < n; c++ {
			wrow := outW.Row(s + c)
			var sum float64
			for k, hv := range hiddenNow {
				sum += hv * wrow[k]
			}
			logits[c] = sum + outBias.At(s+c)
		}

		chosen, err := e.OU.Sample(root, logits, rng)
		if err != nil {
			return nil, err
		}
		word := e.Tree.Leaf2Word(chosen)
		if word == vocab.SentEnd {
			return out, nil
		}
		out = append(out, word)
		prev = word
	}
	return out, nil
}

// Perplexity/entropy helpers shared by eval reporting and MCP responses.

// Entropy converts a total natural-log probability over wordCount words
// into bits/word.
func Entropy(totalLogProb float64, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	return -totalLogProb / (float64(wordCount) * math.Ln2)
}

// Perplexity converts a total natural-log probability over wordCount
// words into exp(-logProb/words).
func Perplexity(totalLogProb float64, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	return math.Exp(-totalLogProb / float64(wordCount))
}
