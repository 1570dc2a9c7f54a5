// Package driver implements the training/eval/generation driver (C9) of
// spec.md §4.9: N worker goroutines pulling word pools from a reader.Reader
// and aggregating log-probability/entropy/perplexity, plus single-threaded
// GEN-mode prefix sampling.
//
// Worker lifecycle follows the teacher's BrainWorker pattern: one goroutine
// per worker, no state shared across worker goroutines except through a
// caller-supplied WorkFunc closure and the Metrics accumulator's own lock.
package driver

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/wantee/connlm-go/pkg/component"
	"github.com/wantee/connlm-go/pkg/connerr"
	"github.com/wantee/connlm-go/pkg/reader"
	"github.com/wantee/connlm-go/pkg/vocab"
)

// Mode selects the driver's operating mode (spec.md §4.9).
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
	ModeGen
)

// Metrics accumulates log-probability across every worker, computing
// entropy (bits/word) and perplexity from the running total.
type Metrics struct {
	mu           sync.Mutex
	totalLogProb float64
	totalWords   int
}

// Add folds one pool's worth of results into the running totals.
func (m *Metrics) Add(logProbSum float64, words int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalLogProb += logProbSum
	m.totalWords += words
}

// LogProb returns the accumulated total log-probability (natural log).
func (m *Metrics) LogProb() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLogProb
}

// Words returns the accumulated word count.
func (m *Metrics) Words() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalWords
}

// Entropy returns average bits/word: -logProb / (words·ln2).
func (m *Metrics) Entropy() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalWords == 0 {
		return 0
	}
	return -m.totalLogProb / (float64(m.totalWords) * math.Ln2)
}

// Perplexity returns exp(-logProb / words).
func (m *Metrics) Perplexity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalWords == 0 {
		return 0
	}
	return math.Exp(-m.totalLogProb / float64(m.totalWords))
}

// WorkFunc processes one word pool (TRAIN: forward+backward+commit; EVAL:
// forward only) and returns the summed log-probability and word count it
// contributed, for Metrics aggregation.
type WorkFunc func(pool *reader.WordPool) (logProbSum float64, wordCount int, err error)

// Driver runs numWorker goroutines pulling from rd until they observe a
// finish marker, applying work to every pool and aggregating into Metrics.
type Driver struct {
	mode      Mode
	numWorker int
	rd        *reader.Reader
	cancelled *atomic.Bool
	work      WorkFunc

	metrics Metrics
	wg      sync.WaitGroup

	errMu   sync.Mutex
	firstEr error
}

// New builds a driver. rd must already have its producer goroutine started
// (via rd.Run in a separate goroutine) before Run is called.
func New(mode Mode, numWorker int, rd *reader.Reader, cancelled *atomic.Bool, work WorkFunc) *Driver {
	return &Driver{mode: mode, numWorker: numWorker, rd: rd, cancelled: cancelled, work: work}
}

// Run launches numWorker workers and blocks until every one of them has
// observed its finish marker, returning the aggregated metrics and the
// first error any worker encountered, if any.
func (d *Driver) Run() (*Metrics, error) {
	d.wg.Add(d.numWorker)
	for i := 0; i < d.numWorker; i++ {
		go d.runWorker()
	}
	d.wg.Wait()
	return &d.metrics, d.firstEr
}

func (d *Driver) runWorker() {
	defer d.wg.Done()
	for {
		pool := d.rd.Hold()
		if pool == nil {
			return
		}
		logp, words, err := d.work(pool)
		if err != nil {
			d.recordErr(err)
			d.rd.Release(pool)
			if d.cancelled != nil {
				d.cancelled.Store(true)
			}
			return
		}
		d.metrics.Add(logp, words)
		d.rd.Release(pool)
	}
}

func (d *Driver) recordErr(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.firstEr == nil {
		d.firstEr = err
	}
}

// ValidateNoLookahead enforces spec.md §4.9's GEN-mode restriction: a
// component whose "lookahead" property is set may consult future words in
// its input context, which is incompatible with left-to-right sampling.
func ValidateNoLookahead(comps []*component.Component) error {
	for _, c := range comps {
		if v, ok := c.Properties["lookahead"]; ok && v != "" && v != "0" && v != "false" {
			return connerr.New(connerr.KindInvalidTopology, "driver.ValidateNoLookahead",
				nil)
		}
	}
	return nil
}

// SampleStep draws the next word id given a sampling closure (typically
// update.OutputUpdater.Sample walked root-to-leaf via the tree) and
// returns it; GEN mode is single-threaded by construction (one sampled
// word feeds the next step's input context), so no synchronization is
// needed here beyond what the caller's single goroutine already provides.
type SampleStep func() (wordID int, err error)

// Generate draws words via step until vocab.SentEnd is produced or maxLen
// words have been emitted, returning the generated sequence (SentEnd not
// included).
func Generate(step SampleStep, maxLen int) ([]int, error) {
	out := make([]int, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		w, err := step()
		if err != nil {
			return out, err
		}
		if w == vocab.SentEnd {
			return out, nil
		}
		out = append(out, w)
	}
	return out, nil
}
