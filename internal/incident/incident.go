// Package incident keeps the session's deduplicated log of HIGH risk rows.
package incident

import (
	"slices"
	"sync"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Accumulator collects HIGH rows seen during a session.
// Entries are appended in discovery order and are never removed or reordered.
// Accumulator has no internal locking: use it from a single writer, or wrap
// it in a SyncAccumulator.
type Accumulator struct {
	entries []domain.ScoredTransaction
	seen    map[domain.RowKey]struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[domain.RowKey]struct{})}
}

// Merge appends the HIGH rows of scored that are not already present,
// comparing full rows. It returns the number of rows added.
func (a *Accumulator) Merge(scored []domain.ScoredTransaction) int {
	return len(a.Add(scored))
}

// Add is Merge returning the rows that were appended, in log order.
func (a *Accumulator) Add(scored []domain.ScoredTransaction) []domain.ScoredTransaction {
	var added []domain.ScoredTransaction
	for _, row := range scored {
		if row.Risk.Level != domain.RiskHigh {
			continue
		}
		key := row.Key()
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}
		a.entries = append(a.entries, row)
		added = append(added, row)
	}
	return added
}

// MergeBatch merges the rows of a scored batch.
func (a *Accumulator) MergeBatch(batch domain.ScoredBatch) int {
	return a.Merge(batch.Rows)
}

// Entries returns a snapshot of the log in discovery order.
func (a *Accumulator) Entries() []domain.ScoredTransaction {
	return slices.Clone(a.entries)
}

// Len returns the number of logged incidents.
func (a *Accumulator) Len() int {
	return len(a.entries)
}

// SyncAccumulator serializes access to an Accumulator for multi-writer use.
type SyncAccumulator struct {
	mu  sync.RWMutex
	acc *Accumulator
}

// NewSyncAccumulator returns an empty, mutex-guarded accumulator.
func NewSyncAccumulator() *SyncAccumulator {
	return &SyncAccumulator{acc: NewAccumulator()}
}

// Merge is Accumulator.Merge under the write lock.
func (s *SyncAccumulator) Merge(scored []domain.ScoredTransaction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Merge(scored)
}

// Add is Accumulator.Add under the write lock.
func (s *SyncAccumulator) Add(scored []domain.ScoredTransaction) []domain.ScoredTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Add(scored)
}

// MergeBatch is Accumulator.MergeBatch under the write lock.
func (s *SyncAccumulator) MergeBatch(batch domain.ScoredBatch) int {
	return s.Merge(batch.Rows)
}

// Entries returns a snapshot of the log.
func (s *SyncAccumulator) Entries() []domain.ScoredTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acc.Entries()
}

// Len returns the number of logged incidents.
func (s *SyncAccumulator) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acc.Len()
}
