package fst

import (
	"math"
	"sort"
	"sync"

	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/vocab"
)

// Options configures one conversion run (spec.md §6 CLI flags).
type Options struct {
	MaxGram      int
	NumWorkers   int
	Method       SelectionMethod
	Threshold    float64 // beam width (log-prob) or majority cumulative mass
	Bloom        *BloomFilter
	CacheSize    int // 0 = unbounded
	PrintSymbols bool
}

// Converter runs the breadth-first, order-by-order WFST expansion of
// spec.md §4.11 against a Scorer.
type Converter struct {
	scorer Scorer
	opt    Options
	vocab  int // full vocab size from Scorer.VocabSize, SentEnd/Unk included

	arena *Arena
	cache *StateCache
}

// NewConverter builds a converter over scorer with the given options.
func NewConverter(scorer Scorer, opt Options) *Converter {
	if opt.NumWorkers <= 0 {
		opt.NumWorkers = 1
	}
	return &Converter{
		scorer: scorer,
		opt:    opt,
		vocab:  scorer.VocabSize(),
		arena:  NewArena(),
		cache:  NewStateCache(opt.CacheSize, func() interface{} { return scorer.InitialState() }),
	}
}

// Convert runs the full expansion, writing arcs/final states to w.
func (c *Converter) Convert(w *Writer) error {
	c.cache.Put(StateSentStart, c.scorer.InitialState())
	c.cache.Put(StateWildcardRoot, c.scorer.InitialState())

	if err := w.Arc(StateInit, StateSentStart, vocab.SentEnd, vocab.SentEnd, 0); err != nil {
		return err
	}

	if err := c.expand(w, StateWildcardRoot); err != nil {
		return err
	}
	if err := c.expand(w, StateSentStart); err != nil {
		return err
	}

	order := 1
	for order <= c.opt.MaxGram || c.opt.MaxGram <= 0 {
		frontier := c.statesOfOrder(order)
		if len(frontier) == 0 {
			break
		}
		if err := c.expandFrontier(w, frontier); err != nil {
			return err
		}
		order++
	}
	return nil
}

// statesOfOrder scans the arena for unexpanded states at exactly order,
// used as the work-list for one breadth-first round. A production
// converter would track a live frontier queue rather than rescanning;
// this is the simple form that still satisfies the "no state of order
// k+1 starts before every state of order k finishes" invariant, since
// each round only admits states of the round's own order.
func (c *Converter) statesOfOrder(order int) []int {
	var out []int
	n := c.arena.NumStates()
	for id := 4; id < n; id++ {
		s := c.arena.Get(id)
		if s.Order == order && !c.arena.IsExpanded(id) {
			out = append(out, id)
		}
	}
	return out
}

// expandFrontier expands every state in frontier using opt.NumWorkers
// goroutines pulling from a shared channel, and waits for all to finish
// before returning (the order barrier).
func (c *Converter) expandFrontier(w *Writer, frontier []int) error {
	work := make(chan int, len(frontier))
	for _, id := range frontier {
		work <- id
	}
	close(work)

	var wg sync.WaitGroup
	errs := make(chan error, c.opt.NumWorkers)
	for i := 0; i < c.opt.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				if err := c.expand(w, id); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// expand materializes state s's out-arcs: word arcs to new (or final)
// child states plus one phi back-off arc, per spec.md §4.11's algorithm.
func (c *Converter) expand(w *Writer, s int) error {
	if c.arena.IsExpanded(s) {
		return nil
	}

	history, root := c.arena.History(s)
	state := c.cache.Fetch(s)
	defer c.cache.Release(s)

	candidates := c.candidateWords(history, root)
	if len(candidates) == 0 {
		c.arena.SetChildren(s, c.arena.NumStates(), 0)
		return nil
	}

	logProbs, err := c.scorer.Predict(state, candidates)
	if err != nil {
		return err
	}
	probs := make([]float64, len(logProbs))
	for i, lp := range logProbs {
		probs[i] = math.Exp(lp)
	}

	selIdx := SelectWords(candidates, probs, c.opt.Method, c.opt.Threshold)
	sort.Slice(selIdx, func(a, b int) bool { return candidates[selIdx[a]] < candidates[selIdx[b]] })

	backoff := c.findBackoff(history)
	var selSum float64
	for _, i := range selIdx {
		selSum += probs[i]
	}
	if selSum > 1+1e-6 || selSum < -1e-6 {
		return connerr.New(connerr.KindNumericalInvariant, "Converter.expand", nil)
	}
	// A fully-covered distribution (selSum == 1, the common case when
	// every candidate was selected) needs no back-off: there is no
	// leftover probability mass to redirect, and backoff may equal s
	// itself at the wildcard root, where num/den would be the
	// meaningless 0/0.
	num := 1 - selSum
	needsPhi := num > 1e-12
	var den float64
	if needsPhi {
		den = 1 - c.backoffMass(backoff, candidates, selIdx)
		if err := checkRatio(num, den); err != nil {
			return err
		}
	}

	newStates := make([]State, len(selIdx))
	childIDs := make([]int, len(selIdx))
	for j, i := range selIdx {
		word := candidates[i]
		order := len(history) + 1
		newStates[j] = State{WordID: word, Parent: s, ModelStateID: -1, Order: order}
		if word == vocab.SentEnd {
			childIDs[j] = StateFinal
		}
	}
	firstChild := 0
	needAlloc := 0
	for j := range newStates {
		if childIDs[j] != StateFinal {
			needAlloc++
		}
	}
	if needAlloc > 0 {
		allocStates := make([]State, 0, needAlloc)
		for j := range newStates {
			if childIDs[j] != StateFinal {
				allocStates = append(allocStates, newStates[j])
			}
		}
		firstChild = c.arena.Alloc(allocStates)
	}
	cursor := firstChild
	for j := range newStates {
		if childIDs[j] == StateFinal {
			continue
		}
		childIDs[j] = cursor
		cursor++
	}

	for j, i := range selIdx {
		word := candidates[i]
		dst := childIDs[j]
		weight := -math.Log(probs[i])
		if err := w.Arc(s, dst, word, word, weight); err != nil {
			return err
		}
		if word == vocab.SentEnd {
			if err := w.Final(dst); err != nil {
				return err
			}
			continue
		}
		next, err := c.scorer.Advance(state, word)
		if err != nil {
			return err
		}
		c.cache.Put(dst, next)
	}

	if needsPhi {
		phiWeight := -math.Log(num / den)
		if err := w.PhiArc(s, backoff, phiWeight); err != nil {
			return err
		}
	}

	if needAlloc > 0 {
		c.arena.SetChildren(s, firstChild, cursor-firstChild)
	} else {
		c.arena.SetChildren(s, c.arena.NumStates(), 0)
	}
	return nil
}

// candidateWords returns the candidate next-word set for a state whose
// history/root were just computed: every non-UNK word if the history
// bottoms out at the wildcard root (no prior context to filter on),
// otherwise (a sentence-start history) every non-UNK word whose
// (history+w) n-gram passes the bloom filter (or every non-UNK word, if
// no filter is configured).
func (c *Converter) candidateWords(history []int, root int) []int {
	if root == StateWildcardRoot {
		out := make([]int, 0, c.vocab-1)
		for w := 0; w < c.vocab; w++ {
			if w != vocab.Unk {
				out = append(out, w)
			}
		}
		return out
	}
	var out []int
	ngram := make([]int, len(history)+1)
	copy(ngram, history)
	for w := 0; w < c.vocab; w++ {
		if w == vocab.Unk {
			continue
		}
		if c.opt.Bloom == nil {
			out = append(out, w)
			continue
		}
		ngram[len(history)] = w
		if c.opt.Bloom.Test(ngram) {
			out = append(out, w)
		}
	}
	return out
}

// findBackoff locates the state reached by dropping history's leftmost
// (oldest) word, walking down from the wildcard root; if no such state
// exists (a gap in the tree), it drops the next-leftmost word and
// retries, bottoming out at the wildcard root itself.
func (c *Converter) findBackoff(history []int) int {
	for len(history) > 0 {
		suffix := history[1:]
		if id, ok := c.walkFromRoot(suffix); ok {
			return id
		}
		history = suffix
	}
	return StateWildcardRoot
}

func (c *Converter) walkFromRoot(words []int) (int, bool) {
	cur := StateWildcardRoot
	for _, w := range words {
		next, ok := c.arena.ChildByWord(cur, w)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// backoffMass computes Σ p_b(selected) by querying the model at the
// back-off state for the same selected word set.
func (c *Converter) backoffMass(backoff int, candidates []int, selIdx []int) float64 {
	if len(selIdx) == 0 {
		return 0
	}
	words := make([]int, len(selIdx))
	for j, i := range selIdx {
		words[j] = candidates[i]
	}
	state := c.cache.Fetch(backoff)
	defer c.cache.Release(backoff)
	logProbs, err := c.scorer.Predict(state, words)
	if err != nil {
		return 0
	}
	var sum float64
	for _, lp := range logProbs {
		sum += math.Exp(lp)
	}
	return sum
}

// checkRatio enforces spec.md §8's FST-consistency property:
// (1 − Σp(selected)) / (1 − Σp_b(selected)) must fall in [0,1].
func checkRatio(num, den float64) error {
	if den == 0 {
		return connerr.New(connerr.KindNumericalInvariant, "Converter.expand", nil)
	}
	ratio := num / den
	if ratio < -1e-6 || ratio > 1+1e-6 {
		return connerr.New(connerr.KindNumericalInvariant, "Converter.expand", nil)
	}
	return nil
}
