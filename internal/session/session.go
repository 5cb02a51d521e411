// Package session holds per-user audit state: the live incident log and the
// last forensic audit.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/incident"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/processor"
	"github.com/opensource-finance/sentinel/internal/report"
	"github.com/opensource-finance/sentinel/internal/stream"
	"github.com/opensource-finance/sentinel/internal/worker"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrNoAudit         = errors.New("no audit has been run in this session")
	ErrInvalidRange    = errors.New("invalid step range")
	ErrNoBus           = errors.New("async live feed requires an event bus")
	ErrClosed          = errors.New("session manager is closed")
)

// Ledger is the read-only ledger view sessions need.
type Ledger interface {
	Step(tick int) []domain.Transaction
	Range(r domain.StepRange) []domain.Transaction
	Bounds() (domain.StepRange, bool)
	Len() int

	// Fingerprint identifies the ledger content in forensic cache keys.
	Fingerprint() string
}

// Session is one user's audit workspace.
type Session struct {
	ID        string
	CreatedAt time.Time

	incidents *incident.SyncAccumulator
	worker    *worker.Worker

	mu    sync.RWMutex
	audit *domain.AuditResult
}

// Incidents returns a snapshot of the session's incident log.
func (s *Session) Incidents() []domain.ScoredTransaction {
	return s.incidents.Entries()
}

// IncidentCount returns the size of the incident log.
func (s *Session) IncidentCount() int {
	return s.incidents.Len()
}

// LastAudit returns the most recent audit, if any.
func (s *Session) LastAudit() (domain.AuditResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.audit == nil {
		return domain.AuditResult{}, false
	}
	return *s.audit, true
}

func (s *Session) setAudit(r domain.AuditResult) {
	s.mu.Lock()
	s.audit = &r
	s.mu.Unlock()
}

// Options wires a Manager to its collaborators. Cache and Bus are optional.
type Options struct {
	Ledger    Ledger
	Simulator *stream.Simulator
	Processor *processor.Processor
	Cache     domain.Cache
	Bus       domain.EventBus

	// ResultTTL bounds how long forensic results stay cached.
	ResultTTL time.Duration
}

// Manager owns all sessions of a running server.
type Manager struct {
	ledger    Ledger
	ledgerID  string
	sim       *stream.Simulator
	processor *processor.Processor
	cache     domain.Cache
	bus       domain.EventBus
	resultTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ledger:    opts.Ledger,
		ledgerID:  opts.Ledger.Fingerprint(),
		sim:       opts.Simulator,
		processor: opts.Processor,
		cache:     opts.Cache,
		bus:       opts.Bus,
		resultTTL: opts.ResultTTL,
		sessions:  make(map[string]*Session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Ledger returns the ledger sessions read from.
func (m *Manager) Ledger() Ledger {
	return m.ledger
}

// Processor returns the shared batch processor.
func (m *Manager) Processor() *processor.Processor {
	return m.processor
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	log := incident.NewSyncAccumulator()
	s := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		incidents: log,
		worker:    worker.NewWorker(m.bus, m.processor, id, log),
	}

	if m.bus != nil {
		if err := s.worker.Start(); err != nil {
			return nil, fmt.Errorf("failed to start session worker: %w", err)
		}
	}

	m.sessions[id] = s
	metrics.ActiveSessions.Inc()

	slog.Info("session created", "session_id", id)
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// End discards a session and its incident log.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.worker.Stop()
	metrics.ActiveSessions.Dec()
	slog.Info("session ended", "session_id", id, "incidents", s.IncidentCount())
	return true
}

// IDs returns the live session IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops async feeds and every session worker.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	for _, s := range sessions {
		s.worker.Stop()
		metrics.ActiveSessions.Dec()
	}
	return nil
}

// Report assembles the audit report for a session from its last audit and
// current incident log.
// An unknown session has never been audited; it is not created.
func (m *Manager) Report(id string, includeBenford bool) (*domain.AuditReport, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}
	s, ok := m.Lookup(id)
	if !ok {
		return nil, ErrNoAudit
	}

	audit, ok := s.LastAudit()
	if !ok {
		return nil, ErrNoAudit
	}

	return report.Assemble(report.Input{
		SessionID:      id,
		Incidents:      s.Incidents(),
		Audit:          audit,
		IncludeBenford: includeBenford,
	}), nil
}
