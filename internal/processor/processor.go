// Package processor applies the risk scorer to batches and arbitrary
// transaction sets.
package processor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/rules"
)

// parallelCutoff is the row count below which scoring stays on the caller's
// goroutine. Live batches are 8-12 rows and never fan out.
const parallelCutoff = 512

// Processor scores rows with the current scorer.
// The scorer can be swapped at runtime (custom rule reload); a call to
// Process or ProcessAll always sees a single scorer for all of its rows.
type Processor struct {
	scorer     atomic.Pointer[rules.Scorer]
	maxWorkers int
}

// New creates a processor. maxWorkers bounds row-parallel scoring.
func New(scorer *rules.Scorer, maxWorkers int) *Processor {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	p := &Processor{maxWorkers: maxWorkers}
	p.scorer.Store(scorer)
	return p
}

// Scorer returns the scorer currently in use.
func (p *Processor) Scorer() *rules.Scorer {
	return p.scorer.Load()
}

// SetScorer replaces the scorer for subsequent calls.
func (p *Processor) SetScorer(s *rules.Scorer) {
	p.scorer.Store(s)
}

// Process scores every row of a live batch, preserving order.
func (p *Processor) Process(ctx context.Context, batch domain.Batch) (domain.ScoredBatch, error) {
	rows, err := p.ProcessAll(ctx, batch.Transactions)
	if err != nil {
		return domain.ScoredBatch{}, err
	}
	return domain.ScoredBatch{Tick: batch.Tick, Seq: batch.Seq, Rows: rows}, nil
}

// ProcessAll scores an arbitrary transaction set, preserving order.
// Large inputs are split into chunks scored in parallel; each chunk writes
// to its own index range so no locking is needed on the output.
func (p *Processor) ProcessAll(ctx context.Context, txs []domain.Transaction) ([]domain.ScoredTransaction, error) {
	return p.ProcessAllWith(ctx, p.scorer.Load(), txs)
}

// ProcessAllWith is ProcessAll with a caller-held scorer, for callers that
// also need the scorer's version to label the result.
func (p *Processor) ProcessAllWith(ctx context.Context, scorer *rules.Scorer, txs []domain.Transaction) ([]domain.ScoredTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredTransaction, len(txs))

	if len(txs) < parallelCutoff || p.maxWorkers == 1 {
		scoreRange(scorer, txs, out)
		return out, nil
	}

	chunk := (len(txs) + p.maxWorkers - 1) / p.maxWorkers
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, p.maxWorkers)

	for start := 0; start < len(txs); start += chunk {
		end := min(start+chunk, len(txs))

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			scoreRange(scorer, txs[lo:hi], out[lo:hi])
		}(start, end)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scoreRange(scorer *rules.Scorer, txs []domain.Transaction, out []domain.ScoredTransaction) {
	for i, tx := range txs {
		out[i] = domain.ScoredTransaction{Transaction: tx, Risk: scorer.Score(tx)}
	}
}

// BatchSummary holds the per-batch KPIs shown next to a live batch.
type BatchSummary struct {
	Count           int     `json:"count"`
	Volume          float64 `json:"volume"`
	HighRisk        int     `json:"high_risk"`
	IntegrityErrors int     `json:"integrity_errors"`
}

// Summarize computes KPIs over scored rows.
func Summarize(rows []domain.ScoredTransaction) BatchSummary {
	s := BatchSummary{Count: len(rows)}
	for _, r := range rows {
		s.Volume += r.Amount
		if r.Risk.Level == domain.RiskHigh {
			s.HighRisk++
		}
		if r.Risk.Has(domain.FlagIntegrityError) {
			s.IntegrityErrors++
		}
	}
	return s
}
