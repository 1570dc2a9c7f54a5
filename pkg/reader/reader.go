// Package reader implements the text reader (C8) of spec.md §4.8: a single
// background producer goroutine that tokenizes sentences into word-id
// pools and hands them to N worker goroutines through a bounded pool of
// reusable buffers.
//
// Bounded hand-off uses two buffered channels (empty/full) rather than a
// hand-rolled semaphore pair, per spec.md §9's own design note and
// following the teacher's channel-based producer/consumer idiom
// (concurrency.BrainWorker's buffered ops channel) over a condvar.
package reader

import (
	"bufio"
	"io"
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/sentencizer/sentencizer"
	"github.com/wantee/connlm-go/pkg/vocab"
)

// Sentence is one tokenized line: word ids in order, always terminated
// with vocab.SentEnd.
type Sentence struct {
	Words []int
}

// WordPool is one batch of sentences moving through the empty/full
// channels. A nil *WordPool pulled from Full is a finish marker.
type WordPool struct {
	Sentences []Sentence
}

// Config holds the per-run reader options of spec.md §4.8.
type Config struct {
	EpochSize     int   // sentences pulled into one pool per producer loop
	Shuffle       bool  // permute sentence order within a pool
	MiniBatch     int   // advisory; surfaced for callers sizing update batches
	DropEmptyLine bool  // skip lines that tokenize to zero words
	RandSeed      int64 // shuffle RNG seed
	ResegmentLong int   // >0: re-split lines longer than this many words on sentence boundaries
}

// Reader owns the producer goroutine and the bounded pool of buffers
// shared with numWorker consumers.
type Reader struct {
	v   *vocab.Vocab
	cfg Config

	empty chan *WordPool
	full  chan *WordPool

	numWorker int
	cancelled *atomic.Bool

	// segment re-splits an overlong line into sentences; nil disables
	// resegmentation. Stored as a closure over the sentencizer value so
	// this struct doesn't need to name its concrete type.
	segment func(string) []string
}

// New allocates numPools reusable pools (pre-seeded onto the empty
// channel) and a Reader ready to Run against r. numPools should be at
// least numWorker+1 so the producer never stalls behind every consumer.
func New(v *vocab.Vocab, cfg Config, numWorker, numPools int, cancelled *atomic.Bool) *Reader {
	rd := &Reader{
		v:         v,
		cfg:       cfg,
		empty:     make(chan *WordPool, numPools),
		full:      make(chan *WordPool, numPools),
		numWorker: numWorker,
		cancelled: cancelled,
	}
	if cfg.ResegmentLong > 0 {
		seg := sentencizer.NewSegmenter("en")
		rd.segment = seg.Segment
	}
	for i := 0; i < numPools; i++ {
		rd.empty <- &WordPool{}
	}
	return rd
}

// Hold blocks for the next full pool (a worker's reader.hold() per
// spec.md §4.9's worker loop). A nil return is the finish marker.
func (r *Reader) Hold() *WordPool { return <-r.full }

// Release returns an exhausted pool to the empty list for reuse. Workers
// call this once they've consumed a pool's sentences.
func (r *Reader) Release(p *WordPool) {
	if p == nil {
		return
	}
	p.Sentences = p.Sentences[:0]
	r.empty <- p
}

// Run is the producer: reads src line by line, tokenizing each line into
// a Sentence, batching EpochSize sentences per pool, pushing full pools
// onto the full channel, and on EOF (or cancellation) posting numWorker
// finish markers before returning. Intended to run in its own goroutine.
func (r *Reader) Run(src io.Reader) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var pending []Sentence
	flush := func() {
		if len(pending) == 0 {
			return
		}
		pool := <-r.empty
		pool.Sentences = append(pool.Sentences[:0], pending...)
		if r.cfg.Shuffle {
			shuffleSentences(pool.Sentences, r.cfg.RandSeed)
		}
		r.full <- pool
		pending = nil
	}

	for scanner.Scan() {
		if r.cancelled != nil && r.cancelled.Load() {
			break
		}
		for _, line := range r.splitLine(scanner.Text()) {
			sent := r.tokenize(line)
			if r.cfg.DropEmptyLine && len(sent.Words) == 1 {
				// only the trailing SentEnd id: an empty line
				continue
			}
			pending = append(pending, sent)
			if len(pending) >= r.cfg.EpochSize {
				flush()
			}
		}
	}
	flush()

	for i := 0; i < r.numWorker; i++ {
		r.full <- nil
	}
	return scanner.Err()
}

// tokenize maps a line's whitespace-separated fields to vocabulary ids
// (OOV maps to vocab.Unk via Vocab.GetID) and appends the sentence-end id.
func (r *Reader) tokenize(line string) Sentence {
	fields := strings.Fields(line)
	words := make([]int, 0, len(fields)+1)
	for _, f := range fields {
		words = append(words, r.v.GetID(f))
	}
	words = append(words, vocab.SentEnd)
	return Sentence{Words: words}
}

// splitLine re-segments a line exceeding ResegmentLong words along
// sentence boundaries, so one overlong line doesn't become one unbroken
// training sentence; lines within budget pass through unchanged.
func (r *Reader) splitLine(line string) []string {
	if r.segment == nil || r.cfg.ResegmentLong <= 0 {
		return []string{line}
	}
	if len(strings.Fields(line)) <= r.cfg.ResegmentLong {
		return []string{line}
	}
	parts := r.segment(line)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{line}
	}
	return out
}

// shuffleSentences permutes a pool's sentence order in place with a
// Fisher-Yates shuffle seeded from seed, reseeded per pool so repeated
// runs with the same seed reproduce the same permutations.
func shuffleSentences(s []Sentence, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := len(s) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
