package reader

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wantee/connlm-go/pkg/vocab"
)

func buildVocab() *vocab.Vocab {
	return vocab.FromParts(
		[]string{"</s>", "<unk>", "the", "cat", "sat"},
		[]uint64{0, 0, 10, 5, 3},
	)
}

func TestRunProducesPoolsAndFinishMarkers(t *testing.T) {
	v := buildVocab()
	cfg := Config{EpochSize: 2, MiniBatch: 1}
	var cancelled atomic.Bool
	r := New(v, cfg, 2, 4, &cancelled)

	text := "the cat sat\nthe dog ran\nthe cat\n"
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Run(strings.NewReader(text)); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	totalSentences := 0
	finishMarkers := 0
	for finishMarkers < 2 {
		p := r.Hold()
		if p == nil {
			finishMarkers++
			continue
		}
		totalSentences += len(p.Sentences)
		r.Release(p)
	}
	wg.Wait()

	if totalSentences != 3 {
		t.Errorf("totalSentences = %d, want 3", totalSentences)
	}
}

func TestTokenizeMapsOOVToUnk(t *testing.T) {
	v := buildVocab()
	r := New(v, Config{EpochSize: 10}, 1, 2, nil)
	sent := r.tokenize("the cat zorgblat")
	want := []int{v.GetID("the"), v.GetID("cat"), vocab.Unk, vocab.SentEnd}
	if len(sent.Words) != len(want) {
		t.Fatalf("len(words) = %d, want %d", len(sent.Words), len(want))
	}
	for i, w := range want {
		if sent.Words[i] != w {
			t.Errorf("word[%d] = %d, want %d", i, sent.Words[i], w)
		}
	}
}

func TestTokenizeEmptyLineYieldsOnlySentEnd(t *testing.T) {
	v := buildVocab()
	r := New(v, Config{EpochSize: 10, DropEmptyLine: true}, 1, 2, nil)
	sent := r.tokenize("")
	if len(sent.Words) != 1 || sent.Words[0] != vocab.SentEnd {
		t.Fatalf("expected empty line to tokenize to just SentEnd, got %v", sent.Words)
	}
}

func TestCancellationStopsEarly(t *testing.T) {
	v := buildVocab()
	var cancelled atomic.Bool
	r := New(v, Config{EpochSize: 1}, 1, 2, &cancelled)
	cancelled.Store(true)

	text := "the cat\nthe dog\nthe cat\n"
	done := make(chan error, 1)
	go func() { done <- r.Run(strings.NewReader(text)) }()

	finishMarkers := 0
	for finishMarkers < 1 {
		p := r.Hold()
		if p == nil {
			finishMarkers++
			continue
		}
		r.Release(p)
	}
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestShuffleSentencesIsAPermutation(t *testing.T) {
	sents := []Sentence{{Words: []int{0}}, {Words: []int{1}}, {Words: []int{2}}, {Words: []int{3}}}
	orig := append([]Sentence(nil), sents...)
	shuffleSentences(sents, 42)

	seen := map[int]bool{}
	for _, s := range sents {
		seen[s.Words[0]] = true
	}
	if len(seen) != len(orig) {
		t.Fatalf("shuffle lost or duplicated elements: %v", sents)
	}
}
