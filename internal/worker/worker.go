// Package worker scores live batches delivered over the EventBus.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/processor"
)

// Incidents is the incident log a worker feeds.
type Incidents interface {
	Add(scored []domain.ScoredTransaction) []domain.ScoredTransaction
}

// BatchResult is published on TopicBatchScored for every processed batch.
type BatchResult struct {
	Batch        domain.ScoredBatch         `json:"batch"`
	Summary      processor.BatchSummary     `json:"summary"`
	NewIncidents []domain.ScoredTransaction `json:"new_incidents"`
}

// IncidentEvent is published on TopicIncident when a batch adds to the log.
type IncidentEvent struct {
	Tick    int                        `json:"tick"`
	Seq     int                        `json:"seq"`
	Entries []domain.ScoredTransaction `json:"entries"`
}

// Worker is the single owner of one session's incident log.
// Batches arrive either through the bus subscription started by Start,
// or synchronously through HandleBatch.
type Worker struct {
	bus       domain.EventBus
	processor *processor.Processor
	incidents Incidents
	sessionID string

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker for sessionID. bus may be nil when only
// HandleBatch is used.
func NewWorker(eventBus domain.EventBus, proc *processor.Processor, sessionID string, incidents Incidents) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: proc,
		incidents: incidents,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to streamed batches for the worker's session.
func (w *Worker) Start() error {
	if w.bus == nil {
		return errors.New("worker has no event bus")
	}

	sub, err := w.bus.Subscribe(w.ctx, w.sessionID, domain.TopicBatchStreamed, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Debug("session worker started",
		"session_id", w.sessionID,
		"topic", domain.TopicBatchStreamed,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var batch domain.Batch
	if err := bus.Decode(msg, &batch); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"session_id", w.sessionID,
			"error", err,
		)
		return err
	}

	_, err := w.HandleBatch(ctx, batch)
	return err
}

// HandleBatch scores a batch, merges its HIGH rows into the incident log,
// and publishes the result when a bus is configured.
func (w *Worker) HandleBatch(ctx context.Context, batch domain.Batch) (BatchResult, error) {
	start := time.Now()

	scored, err := w.processor.Process(ctx, batch)
	if err != nil {
		slog.Error("batch scoring failed",
			"session_id", w.sessionID,
			"step", batch.Tick,
			"seq", batch.Seq,
			"error", err,
		)
		return BatchResult{}, err
	}

	added := w.incidents.Add(scored.Rows)

	result := BatchResult{
		Batch:        scored,
		Summary:      processor.Summarize(scored.Rows),
		NewIncidents: added,
	}

	metrics.BatchesStreamed.Inc()
	metrics.ObserveScored(scored.Rows)
	metrics.IncidentsRecorded.Add(float64(len(added)))

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()

	w.publish(ctx, result)

	slog.Info("batch processed",
		"session_id", w.sessionID,
		"step", batch.Tick,
		"seq", batch.Seq,
		"batch_size", batch.Len(),
		"high_risk", result.Summary.HighRisk,
		"new_incidents", len(added),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (w *Worker) publish(ctx context.Context, result BatchResult) {
	if w.bus == nil {
		return
	}

	if err := bus.PublishJSON(ctx, w.bus, w.sessionID, domain.TopicBatchScored, result); err != nil {
		slog.Error("failed to publish scored batch",
			"session_id", w.sessionID,
			"seq", result.Batch.Seq,
			"error", err,
		)
	}

	if len(result.NewIncidents) == 0 {
		return
	}

	event := IncidentEvent{
		Tick:    result.Batch.Tick,
		Seq:     result.Batch.Seq,
		Entries: result.NewIncidents,
	}
	if err := bus.PublishJSON(ctx, w.bus, w.sessionID, domain.TopicIncident, event); err != nil {
		slog.Error("failed to publish incidents",
			"session_id", w.sessionID,
			"seq", result.Batch.Seq,
			"error", err,
		)
	}
}

// Stop cancels the subscription. Batches already being handled finish.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"session_id", w.sessionID,
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Debug("session worker stopped", "session_id", w.sessionID)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	BatchesProcessed  int      `json:"batchesProcessed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		BatchesProcessed:  w.processed,
	}
}
