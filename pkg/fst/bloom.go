package fst

import (
	"encoding/binary"
	"hash/fnv"
	"io"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// BloomFilter is a hand-rolled k-hash bloom filter over n-gram candidates,
// used to prune the {all words} candidate set down to histories actually
// observed in training (spec.md §4.11 "bloom_filter.lookup(history + w)").
// No bloom filter library appears anywhere in the example pack (DESIGN.md
// records this), so this mirrors the teacher's own habit of hand-rolling
// small bit-level utilities (its persistence checksum) rather than one
// more hashing dependency.
type BloomFilter struct {
	bits     []uint64
	numBits  uint64
	k        int
	VocabSize int
	MaxOrder  int
}

// NewBloomFilter allocates a filter sized for numBits bits and k hash
// functions, tagged with the vocabulary size and max n-gram order it was
// built for (spec.md: "must carry the same vocabulary as the model").
func NewBloomFilter(numBits uint64, k, vocabSize, maxOrder int) *BloomFilter {
	if numBits == 0 {
		numBits = 1
	}
	words := (numBits + 63) / 64
	return &BloomFilter{
		bits:      make([]uint64, words),
		numBits:   words * 64,
		k:         k,
		VocabSize: vocabSize,
		MaxOrder:  maxOrder,
	}
}

// Add inserts an n-gram (a word-id sequence) into the filter.
func (b *BloomFilter) Add(ngram []int) {
	h1, h2 := b.seedHashes(ngram)
	for i := 0; i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % b.numBits
		b.bits[pos/64] |= 1 << (pos % 64)
	}
}

// Test reports whether ngram may have been inserted (false positives
// possible, false negatives never).
func (b *BloomFilter) Test(ngram []int) bool {
	h1, h2 := b.seedHashes(ngram)
	for i := 0; i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % b.numBits
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// seedHashes derives two independent 64-bit hashes of ngram via FNV-1a
// over its big-endian-encoded word ids, used as the double-hashing base
// for k virtual hash functions (Kirsch-Mitzenmacher).
func (b *BloomFilter) seedHashes(ngram []int) (h1, h2 uint64) {
	var buf [8]byte
	f1 := fnv.New64a()
	f2 := fnv.New64()
	for _, w := range ngram {
		binary.BigEndian.PutUint64(buf[:], uint64(int64(w)))
		f1.Write(buf[:])
		f2.Write(buf[:])
	}
	return f1.Sum64(), f2.Sum64()
}

// Save writes the filter to w: vocab size, max order, bit count, k, then
// the raw bit words.
func (b *BloomFilter) Save(w io.Writer) error {
	hdr := []uint64{uint64(b.VocabSize), uint64(b.MaxOrder), b.numBits, uint64(b.k)}
	for _, v := range hdr {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return connerr.New(connerr.KindIO, "BloomFilter.Save", err)
		}
	}
	if err := binary.Write(w, binary.BigEndian, b.bits); err != nil {
		return connerr.New(connerr.KindIO, "BloomFilter.Save", err)
	}
	return nil
}

// LoadBloomFilter reads a filter written by Save.
func LoadBloomFilter(r io.Reader) (*BloomFilter, error) {
	var vocabSize, maxOrder, numBits, k uint64
	for _, p := range []*uint64{&vocabSize, &maxOrder, &numBits, &k} {
		if err := binary.Read(r, binary.BigEndian, p); err != nil {
			return nil, connerr.New(connerr.KindIO, "LoadBloomFilter", err)
		}
	}
	b := &BloomFilter{
		bits:      make([]uint64, numBits/64),
		numBits:   numBits,
		k:         int(k),
		VocabSize: int(vocabSize),
		MaxOrder:  int(maxOrder),
	}
	if err := binary.Read(r, binary.BigEndian, b.bits); err != nil {
		return nil, connerr.New(connerr.KindIO, "LoadBloomFilter", err)
	}
	return b, nil
}
