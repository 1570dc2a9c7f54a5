package fst

import "testing"

func TestArenaReservedStates(t *testing.T) {
	a := NewArena()
	if a.NumStates() != 4 {
		t.Fatalf("NumStates = %d, want 4", a.NumStates())
	}
	if a.Get(StateSentStart).Parent != StateInit {
		t.Errorf("sentence-start parent = %d, want %d", a.Get(StateSentStart).Parent, StateInit)
	}
}

func TestArenaAllocContiguous(t *testing.T) {
	a := NewArena()
	first := a.Alloc([]State{{WordID: 5}, {WordID: 9}, {WordID: 12}})
	if first != 4 {
		t.Fatalf("first id = %d, want 4", first)
	}
	a.SetChildren(StateWildcardRoot, first, 3)
	if !a.IsExpanded(StateWildcardRoot) {
		t.Errorf("expected wildcard root marked expanded")
	}
	id, ok := a.ChildByWord(StateWildcardRoot, 9)
	if !ok || id != 5 {
		t.Errorf("ChildByWord(9) = (%d,%v), want (5,true)", id, ok)
	}
	if _, ok := a.ChildByWord(StateWildcardRoot, 100); ok {
		t.Errorf("expected ChildByWord(100) to miss")
	}
}

func TestArenaHistory(t *testing.T) {
	a := NewArena()
	first := a.Alloc([]State{{WordID: 7, Parent: StateWildcardRoot, Order: 1}})
	a.SetChildren(StateWildcardRoot, first, 1)
	second := a.Alloc([]State{{WordID: 9, Parent: first, Order: 2}})
	a.SetChildren(first, second, 1)

	words, root := a.History(second)
	if root != StateWildcardRoot {
		t.Errorf("root = %d, want %d", root, StateWildcardRoot)
	}
	if len(words) != 2 || words[0] != 7 || words[1] != 9 {
		t.Errorf("history = %v, want [7 9]", words)
	}
}
