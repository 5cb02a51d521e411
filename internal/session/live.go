package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/stream"
	"github.com/opensource-finance/sentinel/internal/worker"
)

// Runner paces a feed. The first batch is delivered at once and each
// following batch after Interval; a zero Interval delivers back to back.
type Runner struct {
	Interval time.Duration
}

// Run delivers every batch of feed to deliver until the feed is exhausted,
// deliver fails, or ctx is done. It returns the number of delivered batches.
func (r Runner) Run(ctx context.Context, feed *stream.Feed, deliver func(context.Context, domain.Batch) error) (int, error) {
	var ticks <-chan time.Time
	if r.Interval > 0 {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	delivered := 0
	for batch := range feed.Batches() {
		if delivered > 0 && ticks != nil {
			select {
			case <-ctx.Done():
				return delivered, ctx.Err()
			case <-ticks:
			}
		}
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		if err := deliver(ctx, batch); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// LiveRun is the outcome of replaying one tick into a session.
type LiveRun struct {
	Step          int                  `json:"step"`
	Total         int                  `json:"total"`
	Batches       []worker.BatchResult `json:"batches"`
	NewIncidents  int                  `json:"new_incidents"`
	IncidentCount int                  `json:"incident_count"`
}

// Live replays step into the session without pacing and returns every
// scored batch. The session's worker merges HIGH rows into its log.
func (m *Manager) Live(ctx context.Context, sessionID string, step int) (LiveRun, error) {
	return m.Replay(ctx, sessionID, step, 0, nil)
}

// Replay is Live with pacing: batches are scored pace apart and observe,
// when set, sees each result as soon as it is merged.
func (m *Manager) Replay(ctx context.Context, sessionID string, step int, pace time.Duration, observe func(worker.BatchResult)) (LiveRun, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return LiveRun{}, err
	}

	feed := m.sim.Stream(step)
	run := LiveRun{Step: step, Total: feed.Total(), Batches: []worker.BatchResult{}}

	_, err = Runner{Interval: pace}.Run(ctx, feed, func(ctx context.Context, batch domain.Batch) error {
		result, err := s.worker.HandleBatch(ctx, batch)
		if err != nil {
			return err
		}
		run.Batches = append(run.Batches, result)
		run.NewIncidents += len(result.NewIncidents)
		if observe != nil {
			observe(result)
		}
		return nil
	})
	run.IncidentCount = s.IncidentCount()
	if err != nil {
		return run, err
	}

	slog.Info("live step replayed",
		"session_id", sessionID,
		"step", step,
		"transactions", run.Total,
		"batches", len(run.Batches),
		"new_incidents", run.NewIncidents,
	)
	return run, nil
}

// StartLive replays step asynchronously: batches are published on the bus
// every pace interval and scored by the session's worker. It returns the
// number of transactions in the tick.
func (m *Manager) StartLive(sessionID string, step int, pace time.Duration) (int, error) {
	if m.bus == nil {
		return 0, ErrNoBus
	}
	if _, err := m.Get(sessionID); err != nil {
		return 0, err
	}

	feed := m.sim.Stream(step)
	total := feed.Total()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()

		n, err := Runner{Interval: pace}.Run(m.ctx, feed, func(ctx context.Context, batch domain.Batch) error {
			return bus.PublishJSON(ctx, m.bus, sessionID, domain.TopicBatchStreamed, batch)
		})
		if err != nil {
			slog.Warn("async live feed stopped",
				"session_id", sessionID,
				"step", step,
				"batches", n,
				"error", err,
			)
			return
		}
		slog.Info("async live feed finished",
			"session_id", sessionID,
			"step", step,
			"batches", n,
		)
	}()

	return total, nil
}
