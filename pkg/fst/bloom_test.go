package fst

import (
	"bytes"
	"testing"
)

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	b := NewBloomFilter(4096, 4, 100, 3)
	ngrams := [][]int{{1, 2}, {1, 2, 3}, {5}, {9, 9, 9}}
	for _, g := range ngrams {
		b.Add(g)
	}
	for _, g := range ngrams {
		if !b.Test(g) {
			t.Errorf("expected %v to test present after Add", g)
		}
	}
}

func TestBloomFilterSaveLoadRoundTrip(t *testing.T) {
	b := NewBloomFilter(2048, 3, 50, 2)
	b.Add([]int{4, 5})
	var buf bytes.Buffer
	if err := b.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadBloomFilter(&buf)
	if err != nil {
		t.Fatalf("LoadBloomFilter: %v", err)
	}
	if loaded.VocabSize != 50 || loaded.MaxOrder != 2 {
		t.Errorf("loaded header = (%d,%d), want (50,2)", loaded.VocabSize, loaded.MaxOrder)
	}
	if !loaded.Test([]int{4, 5}) {
		t.Errorf("expected loaded filter to still report the inserted n-gram present")
	}
}
