package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/forensics"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sentinel-session")

// Forensic cache kinds. Benford and liquidation read raw ledger fields and
// do not depend on the rule set.
const (
	KindBenford     = "benford"
	KindLiquidation = "liquidation"
	KindPerformance = "performance"

	rawVersion = "raw"
)

// Benford runs the first-digit check over the amounts in r.
func (m *Manager) Benford(ctx context.Context, r domain.StepRange) (domain.BenfordResult, error) {
	if !r.Valid() {
		return domain.BenfordResult{}, ErrInvalidRange
	}
	return cached(ctx, m, KindBenford, r, rawVersion, func() (domain.BenfordResult, error) {
		return forensics.Benford(forensics.Amounts(m.ledger.Range(r))), nil
	})
}

// Liquidation validates the full-liquidation rule over r.
func (m *Manager) Liquidation(ctx context.Context, r domain.StepRange) (domain.LiquidationCheck, error) {
	if !r.Valid() {
		return domain.LiquidationCheck{}, ErrInvalidRange
	}
	return cached(ctx, m, KindLiquidation, r, rawVersion, func() (domain.LiquidationCheck, error) {
		return forensics.Liquidation(m.ledger.Range(r)), nil
	})
}

// Performance scores every row in r and evaluates both alert policies.
func (m *Manager) Performance(ctx context.Context, r domain.StepRange) (domain.PerformanceReport, error) {
	if !r.Valid() {
		return domain.PerformanceReport{}, ErrInvalidRange
	}
	scorer := m.processor.Scorer()
	return cached(ctx, m, KindPerformance, r, scorer.Version(), func() (domain.PerformanceReport, error) {
		rows, err := m.processor.ProcessAllWith(ctx, scorer, m.ledger.Range(r))
		if err != nil {
			return domain.PerformanceReport{}, err
		}
		return forensics.Evaluate(rows), nil
	})
}

// Audit runs the full forensic audit over r and stores it as the session's
// last audit. Changing the range later does not recompute anything; the
// caller has to audit again.
func (m *Manager) Audit(ctx context.Context, sessionID string, r domain.StepRange) (result domain.AuditResult, err error) {
	if !r.Valid() {
		return domain.AuditResult{}, ErrInvalidRange
	}

	s, err := m.Get(sessionID)
	if err != nil {
		return domain.AuditResult{}, err
	}

	ctx, span := tracer.Start(ctx, "session.Audit",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("step.from", r.From),
			attribute.Int("step.to", r.To),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()

	perf, err := m.Performance(ctx, r)
	if err != nil {
		return domain.AuditResult{}, err
	}
	liq, err := m.Liquidation(ctx, r)
	if err != nil {
		return domain.AuditResult{}, err
	}
	benford, err := m.Benford(ctx, r)
	if err != nil {
		return domain.AuditResult{}, err
	}

	elapsed := time.Since(start)
	result = domain.AuditResult{
		StepRange:    r,
		Performance:  perf,
		Comparison:   forensics.Compare(perf),
		Liquidation:  liq,
		Benford:      benford,
		CompletedAt:  time.Now().UTC(),
		DurationMs:   elapsed.Milliseconds(),
		Transactions: perf.TotalCount,
	}

	s.setAudit(result)
	metrics.AuditDuration.Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("audit.transactions", result.Transactions))

	slog.Info("forensic audit completed",
		"session_id", sessionID,
		"from", r.From,
		"to", r.To,
		"transactions", result.Transactions,
		"benford_mad", benford.MeanDeviation,
		"duration_ms", result.DurationMs,
	)

	return result, nil
}

// cached serves a forensic result from the cache when one exists for the
// exact kind, ledger, range and version. Cache failures never fail the request.
func cached[T any](ctx context.Context, m *Manager, kind string, r domain.StepRange, version string, compute func() (T, error)) (T, error) {
	if m.cache == nil {
		return compute()
	}

	key := cache.ForensicsKey(kind, m.ledgerID, r, version)

	var v T
	found, err := cache.GetJSON(ctx, m.cache, key, &v)
	if err != nil {
		slog.Warn("forensic cache read failed", "key", key, "error", err)
	}
	metrics.ObserveCache(kind, found)
	if found {
		return v, nil
	}

	v, err = compute()
	if err != nil {
		return v, err
	}

	if err := cache.SetJSON(ctx, m.cache, key, v, m.resultTTL); err != nil {
		slog.Warn("forensic cache write failed", "key", key, "error", err)
	}
	return v, nil
}
