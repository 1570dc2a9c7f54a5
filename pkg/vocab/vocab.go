// Package vocab implements the word⇄id vocabulary (spec.md §3, §4.2):
// a bijection between strings and integer ids, with per-id counts. Id 0 is
// always the sentence-end token, id 1 is always the unknown token.
package vocab

import (
	"bufio"
	"io"
	"sort"
)

const (
	// SentEnd is the reserved id for the sentence-end token.
	SentEnd = 0
	// Unk is the reserved id for the unknown/out-of-vocabulary token.
	Unk = 1
)

// Vocab is a word⇄id bijection with per-id counts. The zero value is not
// usable; construct with New.
type Vocab struct {
	sentEndWord string
	unkWord     string

	id2word []string
	word2id map[string]int
	counts  []uint64
}

// New creates an empty vocabulary with the given sentence-end and unknown
// token spellings, pre-populated at ids 0 and 1 respectively.
func New(sentEndWord, unkWord string) *Vocab {
	v := &Vocab{
		sentEndWord: sentEndWord,
		unkWord:     unkWord,
		id2word:     []string{sentEndWord, unkWord},
		word2id:     map[string]int{sentEndWord: SentEnd, unkWord: Unk},
		counts:      []uint64{0, 0},
	}
	return v
}

// Size returns the number of ids in the vocabulary (including SentEnd/Unk).
func (v *Vocab) Size() int { return len(v.id2word) }

// GetID returns the id of w, or Unk if w is not present.
func (v *Vocab) GetID(w string) int {
	if id, ok := v.word2id[w]; ok {
		return id
	}
	return Unk
}

// GetWord returns the word spelled at id. Panics if id is out of range,
// matching the bijection invariant that only valid ids are ever queried.
func (v *Vocab) GetWord(id int) string {
	return v.id2word[id]
}

// Count returns the learned count for id.
func (v *Vocab) Count(id int) uint64 {
	if id < 0 || id >= len(v.counts) {
		return 0
	}
	return v.counts[id]
}

// addOrBump adds w with count 1, or bumps its count if already present.
// Duplicate add is legal and simply returns the existing id — it is never
// treated as an error (spec.md §4.2).
func (v *Vocab) addOrBump(w string) int {
	if id, ok := v.word2id[w]; ok {
		v.counts[id]++
		return id
	}
	id := len(v.id2word)
	v.id2word = append(v.id2word, w)
	v.word2id[w] = id
	v.counts = append(v.counts, 1)
	return id
}

// Learn streams whitespace-separated tokens from r, adding unknown tokens
// to the vocabulary. If maxWords > 0, streaming stops after that many
// tokens have been read. After reading, words are sorted by descending
// count while SentEnd/Unk remain pinned at ids 0 and 1, then the id space
// is compacted. Empty input produces an empty (SentEnd/Unk-only)
// vocabulary, which is legal.
func (v *Vocab) Learn(r io.Reader, maxWords int) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)

	n := 0
	for scanner.Scan() {
		v.addOrBump(scanner.Text())
		n++
		if maxWords > 0 && n >= maxWords {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	v.sortByDescendingCount()
	return nil
}

// sortByDescendingCount re-assigns ids in descending-count order while
// keeping SentEnd at 0 and Unk at 1 (spec.md §3 invariant).
func (v *Vocab) sortByDescendingCount() {
	type entry struct {
		word  string
		count uint64
	}
	rest := make([]entry, 0, len(v.id2word)-2)
	for id := 2; id < len(v.id2word); id++ {
		rest = append(rest, entry{v.id2word[id], v.counts[id]})
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].count > rest[j].count
	})

	id2word := make([]string, 0, len(v.id2word))
	counts := make([]uint64, 0, len(v.counts))
	word2id := make(map[string]int, len(v.word2id))

	id2word = append(id2word, v.sentEndWord, v.unkWord)
	counts = append(counts, v.counts[SentEnd], v.counts[Unk])
	word2id[v.sentEndWord] = SentEnd
	word2id[v.unkWord] = Unk

	for _, e := range rest {
		id := len(id2word)
		id2word = append(id2word, e.word)
		counts = append(counts, e.count)
		word2id[e.word] = id
	}

	v.id2word = id2word
	v.counts = counts
	v.word2id = word2id
}

// Equal reports whether v and o are the same vocabulary: same size and
// identical id→word for every id (spec.md §3 invariant — counts are not
// part of the equality contract).
func (v *Vocab) Equal(o *Vocab) bool {
	if o == nil || v.Size() != o.Size() {
		return false
	}
	for id := 0; id < v.Size(); id++ {
		if v.id2word[id] != o.id2word[id] {
			return false
		}
	}
	return true
}

// Words returns a snapshot of the id-ordered word list.
func (v *Vocab) Words() []string {
	out := make([]string, len(v.id2word))
	copy(out, v.id2word)
	return out
}

// Counts returns a snapshot of the id-ordered count list.
func (v *Vocab) Counts() []uint64 {
	out := make([]uint64, len(v.counts))
	copy(out, v.counts)
	return out
}

// FromParts rebuilds a Vocab from a previously-saved id→word / id→count
// pair, used by the persistence loader. words[SentEnd] and words[Unk] are
// trusted to be the reserved tokens.
func FromParts(words []string, counts []uint64) *Vocab {
	v := &Vocab{
		sentEndWord: words[SentEnd],
		unkWord:     words[Unk],
		id2word:     append([]string(nil), words...),
		counts:      append([]uint64(nil), counts...),
		word2id:     make(map[string]int, len(words)),
	}
	for id, w := range words {
		v.word2id[w] = id
	}
	return v
}
