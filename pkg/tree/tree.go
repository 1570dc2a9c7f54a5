// Package tree implements the output tree of spec.md §4.3 (component
// C3): a once-built partition of the vocabulary into a root-to-leaf path
// structure driving hierarchical-softmax-style output updates. Three
// constructions are supported: flat softmax (one level), class-based
// softmax with K classes (two levels), and Huffman coding (variable
// depth, weighted by word count).
//
// Nodes — both internal and leaf — live in one ID-indexed arena, in the
// same id-indexed-arena idiom the teacher uses for its adjacency lists,
// rather than as a pointer-chased tree. A node's children always occupy a
// contiguous, disjoint id range, which is what makes SChildren/EChildren
// cheap range lookups instead of list walks.
package tree

import (
	"container/heap"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// Tree is a built output tree. The zero value is not usable.
type Tree struct {
	numWords int
	root     int

	isLeaf     []bool
	leafWord   []int // valid when isLeaf[id]; -1 otherwise
	childStart []int // valid when !isLeaf[id]; -1 otherwise
	childEnd   []int
	parent     []int // -1 for root

	word2leaf []int
}

// NumLeaves returns the number of leaves, which always equals the
// vocabulary size the tree was built from.
func (t *Tree) NumLeaves() int { return t.numWords }

// NumNodes returns the total arena size (leaves plus internal nodes).
func (t *Tree) NumNodes() int { return len(t.isLeaf) }

// Root returns the root node id.
func (t *Tree) Root() int { return t.root }

// IsLeaf reports whether node is a leaf.
func (t *Tree) IsLeaf(node int) bool { return t.isLeaf[node] }

// SChildren returns the start (inclusive) of node's child range.
func (t *Tree) SChildren(node int) int { return t.childStart[node] }

// EChildren returns the end (exclusive) of node's child range.
func (t *Tree) EChildren(node int) int { return t.childEnd[node] }

// Parent returns node's parent id, or -1 if node is the root. Exposed
// alongside the other arena accessors so a model writer can snapshot the
// whole tree without walking every word's path.
func (t *Tree) Parent(node int) int { return t.parent[node] }

// Leaf2Word returns the word id a leaf node stands for.
func (t *Tree) Leaf2Word(leaf int) int { return t.leafWord[leaf] }

// Word2Leaf returns the leaf node id standing for word.
func (t *Tree) Word2Leaf(word int) int { return t.word2leaf[word] }

// PathStep is one internal node crossed on a root-to-leaf walk: the
// internal node's own id, the child id taken out of it, and that node's
// full child range.
type PathStep struct {
	Node       int
	ChildTaken int
	S, E       int
}

// WalkPath calls visitor once per internal node on the root-to-leaf path
// for word, in root-to-leaf order. Returns DimMismatch if word is out of
// vocabulary range.
func (t *Tree) WalkPath(word int, visitor func(step PathStep)) error {
	if word < 0 || word >= t.numWords {
		return connerr.New(connerr.KindDimMismatch, "Tree.WalkPath", nil)
	}
	leaf := t.word2leaf[word]

	var steps []PathStep
	cur := leaf
	for t.parent[cur] != -1 {
		p := t.parent[cur]
		steps = append(steps, PathStep{Node: p, ChildTaken: cur, S: t.childStart[p], E: t.childEnd[p]})
		cur = p
	}
	for i := len(steps) - 1; i >= 0; i-- {
		visitor(steps[i])
	}
	return nil
}

// FromArena rebuilds a Tree directly from previously-saved arena arrays,
// used by the model loader's round-trip (spec.md §8 save/load invariant).
// Callers are trusted to supply arrays captured from a valid Tree.
func FromArena(numWords, root int, isLeaf []bool, leafWord, childStart, childEnd, parent, word2leaf []int) *Tree {
	return &Tree{
		numWords:   numWords,
		root:       root,
		isLeaf:     isLeaf,
		leafWord:   leafWord,
		childStart: childStart,
		childEnd:   childEnd,
		parent:     parent,
		word2leaf:  word2leaf,
	}
}

func newArena(total int) *Tree {
	t := &Tree{
		isLeaf:     make([]bool, total),
		leafWord:   make([]int, total),
		childStart: make([]int, total),
		childEnd:   make([]int, total),
		parent:     make([]int, total),
	}
	for i := 0; i < total; i++ {
		t.leafWord[i] = -1
		t.childStart[i] = -1
		t.childEnd[i] = -1
		t.parent[i] = -1
	}
	return t
}

// NewFlat builds a one-level tree: a single root whose V children are the
// V leaves, in word-id order (the plain softmax case).
func NewFlat(vocabSize int) *Tree {
	if vocabSize <= 0 {
		return &Tree{root: -1}
	}
	t := newArena(vocabSize + 1)
	t.numWords = vocabSize
	t.word2leaf = make([]int, vocabSize)
	root := vocabSize

	t.childStart[root] = 0
	t.childEnd[root] = vocabSize
	for w := 0; w < vocabSize; w++ {
		t.isLeaf[w] = true
		t.leafWord[w] = w
		t.word2leaf[w] = w
		t.parent[w] = root
	}
	t.root = root
	return t
}

// NewClassBased builds a two-level tree: numClasses class nodes under the
// root, each holding a contiguous run of leaves. Leaves must already be in
// descending-count order (the vocabulary invariant, spec.md §3/§4.2), so
// that contiguous leaf ranges correspond to the standard class-based LM
// partition: classes are cut so each accumulates a roughly equal share of
// total count, greedily scanning in vocabulary order.
func NewClassBased(counts []uint64, numClasses int) (*Tree, error) {
	vocabSize := len(counts)
	if numClasses <= 0 || numClasses > vocabSize {
		return nil, connerr.New(connerr.KindOpt, "tree.NewClassBased", nil)
	}

	var total uint64
	for _, c := range counts {
		total += c
	}

	bounds := make([]int, 0, numClasses+1)
	bounds = append(bounds, 0)
	if total == 0 {
		// No count information: split evenly by index.
		for k := 1; k < numClasses; k++ {
			bounds = append(bounds, (vocabSize*k)/numClasses)
		}
	} else {
		targetPerClass := total / uint64(numClasses)
		var cum uint64
		classesSoFar := 1
		for w := 0; w < vocabSize && classesSoFar < numClasses; w++ {
			cum += counts[w]
			if cum >= uint64(classesSoFar)*targetPerClass && w+1 < vocabSize {
				bounds = append(bounds, w+1)
				classesSoFar++
			}
		}
		for len(bounds) < numClasses {
			bounds = append(bounds, vocabSize)
		}
	}
	bounds = append(bounds, vocabSize)

	total2 := vocabSize + numClasses + 1
	t := newArena(total2)
	t.numWords = vocabSize
	t.word2leaf = make([]int, vocabSize)

	root := vocabSize + numClasses
	t.childStart[root] = vocabSize
	t.childEnd[root] = vocabSize + numClasses

	for w := 0; w < vocabSize; w++ {
		t.isLeaf[w] = true
		t.leafWord[w] = w
		t.word2leaf[w] = w
	}
	for k := 0; k < numClasses; k++ {
		classNode := vocabSize + k
		s, e := bounds[k], bounds[k+1]
		t.childStart[classNode] = s
		t.childEnd[classNode] = e
		t.parent[classNode] = root
		for w := s; w < e; w++ {
			t.parent[w] = classNode
		}
	}
	t.root = root
	return t, nil
}

// huffNode is the intermediate binary-tree representation built by the
// classic merge-two-smallest algorithm, before BFS renumbering assigns
// the arena's contiguous child-range ids.
type huffNode struct {
	isLeaf      bool
	word        int
	count       uint64
	left, right *huffNode
	seq         int // insertion order, breaks count ties deterministically
}

type huffHeap []*huffNode

func (h huffHeap) Len() int { return len(h) }
func (h huffHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	return h[i].seq < h[j].seq
}
func (h huffHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *huffHeap) Push(x interface{}) { *h = append(*h, x.(*huffNode)) }
func (h *huffHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewHuffman builds a variable-depth binary tree by repeatedly merging
// the two lowest-count nodes (classic Huffman coding), then renumbers the
// resulting binary tree breadth-first so every node's two children land
// at contiguous, disjoint arena ids.
func NewHuffman(counts []uint64) *Tree {
	vocabSize := len(counts)
	if vocabSize == 0 {
		return &Tree{root: -1}
	}
	if vocabSize == 1 {
		t := newArena(1)
		t.numWords = 1
		t.word2leaf = []int{0}
		t.isLeaf[0] = true
		t.leafWord[0] = 0
		t.root = 0
		return t
	}

	h := make(huffHeap, vocabSize)
	for w, c := range counts {
		h[w] = &huffNode{isLeaf: true, word: w, count: c, seq: w}
	}
	heap.Init(&h)

	seq := vocabSize
	for h.Len() > 1 {
		a := heap.Pop(&h).(*huffNode)
		b := heap.Pop(&h).(*huffNode)
		merged := &huffNode{left: a, right: b, count: a.count + b.count, seq: seq}
		seq++
		heap.Push(&h, merged)
	}
	root := heap.Pop(&h).(*huffNode)

	total := 2*vocabSize - 1
	t := newArena(total)
	t.numWords = vocabSize
	t.word2leaf = make([]int, vocabSize)

	ids := map[*huffNode]int{root: 0}
	t.root = 0
	queue := []*huffNode{root}
	nextID := 1
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		id := ids[n]

		if n.isLeaf {
			t.isLeaf[id] = true
			t.leafWord[id] = n.word
			t.word2leaf[n.word] = id
			continue
		}

		leftID, rightID := nextID, nextID+1
		nextID += 2
		ids[n.left] = leftID
		ids[n.right] = rightID
		t.childStart[id] = leftID
		t.childEnd[id] = rightID + 1
		t.parent[leftID] = id
		t.parent[rightID] = id
		queue = append(queue, n.left, n.right)
	}
	return t
}
