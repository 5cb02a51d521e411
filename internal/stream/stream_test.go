package stream

import (
	"fmt"
	"slices"
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLedger(perStep map[int]int) *ledger.Store {
	var txs []domain.Transaction
	for step, n := range perStep {
		for i := 0; i < n; i++ {
			txs = append(txs, domain.Transaction{
				Step:     step,
				Type:     domain.TxPayment,
				Amount:   float64(i + 1),
				NameOrig: fmt.Sprintf("C%d-%d", step, i),
			})
		}
	}
	return ledger.FromTransactions(txs)
}

func multiset(txs []domain.Transaction) map[domain.Transaction]int {
	m := make(map[domain.Transaction]int, len(txs))
	for _, tx := range txs {
		m[tx]++
	}
	return m
}

func TestStreamPartitionsTick(t *testing.T) {
	store := makeLedger(map[int]int{1: 53, 2: 7, 3: 120})
	sim := New(store, Options{MinBatch: 8, MaxBatch: 12, Seed: 7})

	for _, tick := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("Tick%d", tick), func(t *testing.T) {
			var delivered []domain.Transaction
			batches := 0
			for batch := range sim.Stream(tick).Batches() {
				assert.Equal(t, tick, batch.Tick)
				assert.Equal(t, batches, batch.Seq)
				delivered = append(delivered, batch.Transactions...)
				batches++
			}
			assert.Equal(t, multiset(store.Step(tick)), multiset(delivered))
			assert.Len(t, delivered, len(store.Step(tick)))
		})
	}
}

func TestStreamBatchSizes(t *testing.T) {
	store := makeLedger(map[int]int{5: 500})
	sim := New(store, Options{MinBatch: 8, MaxBatch: 12, Seed: 99})

	feed := sim.Stream(5)
	var sizes []int
	for {
		batch, ok := feed.Next()
		if !ok {
			break
		}
		sizes = append(sizes, batch.Len())
	}

	require.NotEmpty(t, sizes)
	for i, size := range sizes {
		if i == len(sizes)-1 {
			assert.LessOrEqual(t, size, 12)
			assert.Positive(t, size)
			continue
		}
		assert.GreaterOrEqual(t, size, 8, "batch %d", i)
		assert.LessOrEqual(t, size, 12, "batch %d", i)
	}
	assert.Zero(t, feed.Remaining())
}

func TestStreamZeroOptionsUseDefaultBounds(t *testing.T) {
	store := makeLedger(map[int]int{5: 500})
	sim := New(store, Options{Seed: 3})
	assert.Equal(t, domain.DefaultMinBatch, sim.minBatch)
	assert.Equal(t, domain.DefaultMaxBatch, sim.maxBatch)

	var sizes []int
	for batch := range sim.Stream(5).Batches() {
		sizes = append(sizes, batch.Len())
	}
	full := sizes[:len(sizes)-1]
	assert.Greater(t, slices.Max(full), domain.DefaultMinBatch, "sizes %v never exceed the minimum", full)
	assert.LessOrEqual(t, slices.Max(full), domain.DefaultMaxBatch)

	t.Run("InvertedRange", func(t *testing.T) {
		sim := New(store, Options{MinBatch: 10, MaxBatch: 4})
		assert.Equal(t, 10, sim.maxBatch)
	})

	t.Run("MinAboveDefaultMax", func(t *testing.T) {
		sim := New(store, Options{MinBatch: 20})
		assert.Equal(t, 20, sim.maxBatch)
	})
}

func TestStreamShortTickYieldsSingleShortBatch(t *testing.T) {
	store := makeLedger(map[int]int{1: 3})
	sim := New(store, Options{Seed: 1})

	feed := sim.Stream(1)
	batch, ok := feed.Next()
	require.True(t, ok)
	assert.Equal(t, 3, batch.Len())

	_, ok = feed.Next()
	assert.False(t, ok)
}

func TestStreamEmptyTick(t *testing.T) {
	store := makeLedger(map[int]int{1: 10})
	sim := New(store, Options{Seed: 1})

	feed := sim.Stream(42)
	assert.Equal(t, 0, feed.Total())
	_, ok := feed.Next()
	assert.False(t, ok)

	count := 0
	for range sim.Stream(42).Batches() {
		count++
	}
	assert.Zero(t, count)
}

func TestStreamIsLazy(t *testing.T) {
	store := makeLedger(map[int]int{1: 100})
	sim := New(store, Options{Seed: 3})

	feed := sim.Stream(1)
	assert.Equal(t, 100, feed.Remaining())

	batch, ok := feed.Next()
	require.True(t, ok)
	assert.Equal(t, 100-batch.Len(), feed.Remaining())

	// Stopping early leaves the rest undelivered.
	for range feed.Batches() {
		break
	}
	assert.Positive(t, feed.Remaining())
}

func TestStreamReinvocationReshuffles(t *testing.T) {
	store := makeLedger(map[int]int{1: 200})
	sim := New(store, Options{Seed: 11})

	order := func() []string {
		var names []string
		for batch := range sim.Stream(1).Batches() {
			for _, tx := range batch.Transactions {
				names = append(names, tx.NameOrig)
			}
		}
		return names
	}

	first, second := order(), order()
	assert.ElementsMatch(t, first, second)
	assert.NotEqual(t, first, second, "two runs should produce different arrival orders")
}

func TestStreamSeedIsReproducible(t *testing.T) {
	store := makeLedger(map[int]int{1: 64})

	run := func() []int {
		sim := New(store, Options{MinBatch: 8, MaxBatch: 12, Seed: 2024})
		var sizes []int
		for batch := range sim.Stream(1).Batches() {
			sizes = append(sizes, batch.Len())
		}
		return sizes
	}

	assert.Equal(t, run(), run())
}

func TestStreamDoesNotMutateLedger(t *testing.T) {
	store := makeLedger(map[int]int{1: 50})
	before := append([]domain.Transaction(nil), store.Step(1)...)

	sim := New(store, Options{Seed: 5})
	for range sim.Stream(1).Batches() {
	}

	assert.Equal(t, before, store.Step(1))
}
