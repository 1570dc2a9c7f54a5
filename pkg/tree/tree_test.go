package tree

import "testing"

func countLeaves(t *Tree) int {
	n := 0
	for id := range t.isLeaf {
		if t.isLeaf[id] {
			n++
		}
	}
	return n
}

func TestFlatHasExactlyVLeaves(t *testing.T) {
	tr := NewFlat(5)
	if got, want := countLeaves(tr), 5; got != want {
		t.Fatalf("leaves = %d, want %d", got, want)
	}
	if tr.NumLeaves() != 5 {
		t.Fatalf("NumLeaves() = %d, want 5", tr.NumLeaves())
	}
}

func TestFlatWalkPathVisitsRootOnce(t *testing.T) {
	tr := NewFlat(4)
	var steps []PathStep
	if err := tr.WalkPath(2, func(s PathStep) { steps = append(steps, s) }); err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step for flat tree, got %d", len(steps))
	}
	if steps[0].Node != tr.Root() {
		t.Errorf("step node = %d, want root %d", steps[0].Node, tr.Root())
	}
	if steps[0].ChildTaken != tr.Word2Leaf(2) {
		t.Errorf("child taken = %d, want leaf(2) = %d", steps[0].ChildTaken, tr.Word2Leaf(2))
	}
	if steps[0].S != 0 || steps[0].E != 4 {
		t.Errorf("child range = [%d,%d), want [0,4)", steps[0].S, steps[0].E)
	}
}

func TestFlatWalkPathOutOfRange(t *testing.T) {
	tr := NewFlat(3)
	if err := tr.WalkPath(5, func(PathStep) {}); err == nil {
		t.Fatalf("expected error for out-of-range word")
	}
}

func TestClassBasedExactlyVLeavesAndContiguousRanges(t *testing.T) {
	counts := []uint64{10, 8, 6, 4, 2, 1, 1, 1}
	tr, err := NewClassBased(counts, 3)
	if err != nil {
		t.Fatalf("NewClassBased: %v", err)
	}
	if got, want := countLeaves(tr), len(counts); got != want {
		t.Fatalf("leaves = %d, want %d", got, want)
	}

	s, e := tr.SChildren(tr.Root()), tr.EChildren(tr.Root())
	seen := map[int]bool{}
	for classNode := s; classNode < e; classNode++ {
		cs, ce := tr.SChildren(classNode), tr.EChildren(classNode)
		for w := cs; w < ce; w++ {
			if seen[w] {
				t.Fatalf("leaf %d claimed by more than one class", w)
			}
			seen[w] = true
		}
	}
	if len(seen) != len(counts) {
		t.Fatalf("classes cover %d leaves, want %d", len(seen), len(counts))
	}
}

func TestClassBasedRejectsTooManyClasses(t *testing.T) {
	if _, err := NewClassBased([]uint64{1, 2}, 5); err == nil {
		t.Fatalf("expected error when numClasses > vocab size")
	}
}

func TestClassBasedWalkPathHasTwoSteps(t *testing.T) {
	counts := []uint64{5, 4, 3, 2, 1, 1}
	tr, err := NewClassBased(counts, 2)
	if err != nil {
		t.Fatalf("NewClassBased: %v", err)
	}
	var steps []PathStep
	if err := tr.WalkPath(0, func(s PathStep) { steps = append(steps, s) }); err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps for class-based tree, got %d", len(steps))
	}
	if steps[0].Node != tr.Root() {
		t.Errorf("first step should be root")
	}
}

func TestHuffmanExactlyVLeaves(t *testing.T) {
	counts := []uint64{40, 20, 10, 10, 10, 5, 5}
	tr := NewHuffman(counts)
	if got, want := countLeaves(tr), len(counts); got != want {
		t.Fatalf("leaves = %d, want %d", got, want)
	}
}

func TestHuffmanPathsUniquePerWord(t *testing.T) {
	counts := []uint64{40, 20, 10, 10, 10, 5, 5}
	tr := NewHuffman(counts)
	seenPaths := map[string]bool{}
	for w := 0; w < len(counts); w++ {
		key := ""
		err := tr.WalkPath(w, func(s PathStep) {
			key += string(rune('A' + (s.ChildTaken - s.S)))
		})
		if err != nil {
			t.Fatalf("WalkPath(%d): %v", w, err)
		}
		if seenPaths[key] {
			t.Fatalf("duplicate path %q for word %d", key, w)
		}
		seenPaths[key] = true
	}
}

func TestHuffmanChildRangesContiguousAndDisjoint(t *testing.T) {
	counts := []uint64{40, 20, 10, 10, 10, 5, 5, 3, 2}
	tr := NewHuffman(counts)
	claimed := map[int]bool{}
	var walk func(node int)
	walk = func(node int) {
		if tr.IsLeaf(node) {
			return
		}
		s, e := tr.SChildren(node), tr.EChildren(node)
		if e-s != 2 {
			t.Fatalf("huffman node %d has %d children, want 2", node, e-s)
		}
		for c := s; c < e; c++ {
			if claimed[c] {
				t.Fatalf("node id %d claimed by more than one parent", c)
			}
			claimed[c] = true
			walk(c)
		}
	}
	walk(tr.Root())
}

func TestHuffmanSingleWord(t *testing.T) {
	tr := NewHuffman([]uint64{7})
	if tr.NumLeaves() != 1 {
		t.Fatalf("NumLeaves() = %d, want 1", tr.NumLeaves())
	}
	if !tr.IsLeaf(tr.Root()) {
		t.Fatalf("single-word tree's root should be the one leaf")
	}
	var steps []PathStep
	if err := tr.WalkPath(0, func(s PathStep) { steps = append(steps, s) }); err != nil {
		t.Fatalf("WalkPath: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("expected no internal steps for single-leaf tree, got %d", len(steps))
	}
}
