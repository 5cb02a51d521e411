// Package stream replays a ledger tick as a sequence of randomly sized batches.
package stream

import (
	"iter"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Source is the read-only ledger view the simulator needs.
type Source interface {
	Step(tick int) []domain.Transaction
}

// Options configures batch sizing and randomness.
type Options struct {
	MinBatch int
	MaxBatch int

	// Seed makes feeds reproducible when non-zero.
	Seed uint64
}

// Simulator partitions ticks into shuffled delivery batches.
// It never sleeps; pacing belongs to the consumer.
type Simulator struct {
	source   Source
	minBatch int
	maxBatch int

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulator over source.
func New(source Source, opts Options) *Simulator {
	if opts.MinBatch <= 0 {
		opts.MinBatch = domain.DefaultMinBatch
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = max(domain.DefaultMaxBatch, opts.MinBatch)
	}
	if opts.MaxBatch < opts.MinBatch {
		opts.MaxBatch = opts.MinBatch
	}

	var src rand.Source
	if opts.Seed != 0 {
		src = rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &Simulator{
		source:   source,
		minBatch: opts.MinBatch,
		maxBatch: opts.MaxBatch,
		rng:      rand.New(src),
	}
}

// Stream starts a feed over the transactions of tick.
// The arrival order is fixed here by a uniform shuffle; batch sizes are
// drawn lazily as the feed is consumed. Calling Stream again for the same
// tick yields a fresh, independent partition.
func (s *Simulator) Stream(tick int) *Feed {
	txs := slices.Clone(s.source.Step(tick))

	s.mu.Lock()
	s.rng.Shuffle(len(txs), func(i, j int) {
		txs[i], txs[j] = txs[j], txs[i]
	})
	s.mu.Unlock()

	return &Feed{sim: s, tick: tick, txs: txs}
}

func (s *Simulator) batchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minBatch + s.rng.IntN(s.maxBatch-s.minBatch+1)
}

// Feed is a finite, single-use batch sequence for one tick.
// It is not safe for concurrent use.
type Feed struct {
	sim  *Simulator
	tick int
	txs  []domain.Transaction
	pos  int
	seq  int
}

// Tick returns the tick being replayed.
func (f *Feed) Tick() int {
	return f.tick
}

// Total returns the number of transactions in the tick.
func (f *Feed) Total() int {
	return len(f.txs)
}

// Remaining returns how many transactions have not been delivered yet.
func (f *Feed) Remaining() int {
	return len(f.txs) - f.pos
}

// Next cuts the next batch. ok is false once the tick is exhausted.
// The final batch may be smaller than the minimum batch size.
func (f *Feed) Next() (batch domain.Batch, ok bool) {
	if f.pos >= len(f.txs) {
		return domain.Batch{}, false
	}

	end := min(f.pos+f.sim.batchSize(), len(f.txs))
	batch = domain.Batch{
		Tick:         f.tick,
		Seq:          f.seq,
		Transactions: f.txs[f.pos:end:end],
	}
	f.pos = end
	f.seq++
	return batch, true
}

// Batches adapts the feed to a range-over-func iterator.
// Breaking out of the loop leaves the remaining batches undelivered.
func (f *Feed) Batches() iter.Seq[domain.Batch] {
	return func(yield func(domain.Batch) bool) {
		for {
			batch, ok := f.Next()
			if !ok || !yield(batch) {
				return
			}
		}
	}
}
