package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/ledger"
	"github.com/opensource-finance/sentinel/internal/processor"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/session"
	"github.com/opensource-finance/sentinel/internal/stream"
)

// testLedger holds steps 1-2 with 20 rows each; step 1 has one HIGH fraud row.
func testLedger() *ledger.Store {
	var txs []domain.Transaction
	for step := 1; step <= 2; step++ {
		for i := 0; i < 20; i++ {
			amount := float64(120 + i*53)
			txs = append(txs, domain.Transaction{
				Step: step, Type: domain.TxCashOut, Amount: amount,
				NameOrig: fmt.Sprintf("C%d-%d", step, i), OldBalanceOrig: 9000, NewBalanceOrig: 9000 - amount,
				NameDest: "C-agent", OldBalanceDest: 100, NewBalanceDest: 100 + amount,
			})
		}
	}
	txs[3] = domain.Transaction{
		Step: 1, Type: domain.TxTransfer, Amount: 900000,
		NameOrig: "C-victim", OldBalanceOrig: 900000, NameDest: "C-mule", IsFraud: true,
	}
	return ledger.FromTransactions(txs)
}

// createTestServer creates a server without database, cache or bus.
func createTestServer(t *testing.T, repo domain.Repository) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	store := testLedger()
	sessions := session.NewManager(session.Options{
		Ledger:    store,
		Simulator: stream.New(store, stream.Options{MinBatch: 8, MaxBatch: 12, Seed: 3}),
		Processor: processor.New(engine.Scorer(rules.DefaultConfig()), 2),
	})
	t.Cleanup(func() { sessions.Close() })

	hcfg := HandlerConfig{
		Scoring:      rules.DefaultConfig(),
		LedgerSource: "csv",
		Version:      "test-v1",
	}
	return NewServer(cfg, domain.MetricsConfig{Enabled: true, Path: "/metrics"}, hcfg, repo, nil, nil, engine, sessions)
}

func do(t *testing.T, server *Server, method, path, sessionID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "sentinel_active_sessions") {
			t.Error("expected sentinel metrics in output")
		}
	})

	t.Run("Ledger", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ledger", "", nil)
		var resp LedgerResponse
		decode(t, rr, &resp)
		if resp.Count != 40 {
			t.Errorf("expected 40 rows, got %d", resp.Count)
		}
		if resp.Steps == nil || resp.Steps.From != 1 || resp.Steps.To != 2 {
			t.Errorf("unexpected steps %+v", resp.Steps)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		rr := do(t, server, http.MethodOptions, "/audit", "", nil)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
	})
}

func TestSessionHeader(t *testing.T) {
	server := createTestServer(t, nil)

	rr := do(t, server, http.MethodGet, "/incidents", "", nil)
	generated := rr.Header().Get(SessionIDHeader)
	if generated == "" {
		t.Fatal("expected a generated session id")
	}

	rr = do(t, server, http.MethodGet, "/incidents", "analyst-1", nil)
	if got := rr.Header().Get(SessionIDHeader); got != "analyst-1" {
		t.Errorf("expected session id to be echoed, got %q", got)
	}
	if rr.Header().Get(TraceIDHeader) == "" {
		t.Error("expected X-Trace-ID header")
	}

	rr = do(t, server, http.MethodGet, "/incidents", strings.Repeat("x", 200), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for oversized session id, got %d", rr.Code)
	}
}

func TestReadsDoNotOpenSessions(t *testing.T) {
	server := createTestServer(t, nil)
	sessions := server.Handler().sessions

	for i := 0; i < 20; i++ {
		rr := do(t, server, http.MethodGet, "/incidents", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var incidents IncidentsResponse
		decode(t, rr, &incidents)
		if incidents.Count != 0 || incidents.Incidents == nil {
			t.Fatalf("expected an empty incident list, got %+v", incidents)
		}

		rr = do(t, server, http.MethodGet, "/report", "", nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodDelete, "/session", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	}

	if ids := sessions.IDs(); len(ids) != 0 {
		t.Errorf("expected no sessions after reads, got %d", len(ids))
	}

	do(t, server, http.MethodPost, "/live/1", "analyst-1", nil)
	if ids := sessions.IDs(); len(ids) != 1 || ids[0] != "analyst-1" {
		t.Errorf("expected live replay to open the session, got %v", ids)
	}
}

func TestLiveAndIncidents(t *testing.T) {
	server := createTestServer(t, nil)

	rr := do(t, server, http.MethodPost, "/live/1", "analyst-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var run session.LiveRun
	decode(t, rr, &run)
	if run.Total != 20 {
		t.Errorf("expected 20 transactions, got %d", run.Total)
	}
	if run.NewIncidents != 1 {
		t.Errorf("expected 1 new incident, got %d", run.NewIncidents)
	}
	delivered := 0
	for _, b := range run.Batches {
		delivered += b.Summary.Count
	}
	if delivered != 20 {
		t.Errorf("expected batches to cover the tick, got %d rows", delivered)
	}

	// Replay adds nothing new.
	do(t, server, http.MethodPost, "/live/1", "analyst-1", nil)

	rr = do(t, server, http.MethodGet, "/incidents", "analyst-1", nil)
	var incidents IncidentsResponse
	decode(t, rr, &incidents)
	if incidents.Count != 1 {
		t.Fatalf("expected 1 incident, got %d", incidents.Count)
	}
	if incidents.Incidents[0].NameOrig != "C-victim" {
		t.Errorf("unexpected incident %+v", incidents.Incidents[0])
	}

	// A different session starts empty.
	rr = do(t, server, http.MethodGet, "/incidents", "analyst-2", nil)
	decode(t, rr, &incidents)
	if incidents.Count != 0 {
		t.Errorf("expected isolated session, got %d incidents", incidents.Count)
	}

	t.Run("InvalidStep", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/live/abc", "analyst-1", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("AsyncWithoutBus", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/live/1?async=true", "analyst-1", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("EndSession", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/session", "analyst-1", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		rr = do(t, server, http.MethodDelete, "/session", "analyst-1", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestForensicsEndpoints(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("Benford", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/forensics/benford?from=1&to=1", "a", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Steps  domain.StepRange     `json:"steps"`
			Result domain.BenfordResult `json:"result"`
		}
		decode(t, rr, &resp)
		if resp.Result.Samples != 20 {
			t.Errorf("expected 20 samples, got %d", resp.Result.Samples)
		}
		if len(resp.Result.Rows) != 9 {
			t.Errorf("expected 9 rows, got %d", len(resp.Result.Rows))
		}
	})

	t.Run("LiquidationDefaultsToLedgerBounds", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/forensics/liquidation", "a", nil)
		var resp struct {
			Steps  domain.StepRange        `json:"steps"`
			Result domain.LiquidationCheck `json:"result"`
		}
		decode(t, rr, &resp)
		if resp.Steps != (domain.StepRange{From: 1, To: 2}) {
			t.Errorf("unexpected range %+v", resp.Steps)
		}
		if resp.Result.TruePositives != 1 || resp.Result.CoveragePct != 100 {
			t.Errorf("unexpected liquidation %+v", resp.Result)
		}
	})

	t.Run("BadRange", func(t *testing.T) {
		for _, q := range []string{"from=x", "from=5&to=1"} {
			rr := do(t, server, http.MethodGet, "/forensics/benford?"+q, "a", nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", q, rr.Code)
			}
		}
	})
}

func TestAuditAndReport(t *testing.T) {
	server := createTestServer(t, nil)

	rr := do(t, server, http.MethodGet, "/report", "auditor", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 before audit, got %d", rr.Code)
	}

	do(t, server, http.MethodPost, "/live/1", "auditor", nil)

	rr = do(t, server, http.MethodPost, "/audit?from=1&to=2", "auditor", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var audit domain.AuditResult
	decode(t, rr, &audit)
	if audit.Transactions != 40 {
		t.Errorf("expected 40 transactions, got %d", audit.Transactions)
	}
	if audit.Performance.HighConfidence.TruePositives != 1 {
		t.Errorf("unexpected performance %+v", audit.Performance)
	}

	t.Run("TextReport", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/report?benford=true", "auditor", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("unexpected content type %s", ct)
		}
		body := rr.Body.String()
		for _, want := range []string{"COMPLIANCE AUDIT REPORT", "BENFORD FIRST-DIGIT CHECK", "TRANSFER"} {
			if !strings.Contains(body, want) {
				t.Errorf("expected report to contain %q", want)
			}
		}
	})

	t.Run("JSONReport", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/report?format=json", "auditor", nil)
		var doc domain.AuditReport
		decode(t, rr, &doc)
		if doc.SessionID != "auditor" || len(doc.Incidents) != 1 {
			t.Errorf("unexpected report %+v", doc)
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/report?format=pdf", "auditor", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRulesWithoutRepository(t *testing.T) {
	server := createTestServer(t, nil)

	body, _ := json.Marshal(CreateRuleRequest{
		ID: "cash-out-watch", Name: "Cash out watch",
		Expression: `tx_type == "CASH_OUT"`, Flag: "CASH_OUT_WATCH", Weight: 20, Enabled: true,
	})
	rr := do(t, server, http.MethodPost, "/rules", "", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Every CASH_OUT row is now MEDIUM.
	rr = do(t, server, http.MethodPost, "/live/2", "s", nil)
	var run session.LiveRun
	decode(t, rr, &run)
	for _, b := range run.Batches {
		for _, row := range b.Batch.Rows {
			if row.Risk.Level != domain.RiskMedium {
				t.Fatalf("expected MEDIUM with custom rule, got %+v", row.Risk)
			}
		}
	}

	rr = do(t, server, http.MethodGet, "/rules", "", nil)
	var list struct {
		Count  int    `json:"count"`
		Scorer string `json:"scorer"`
	}
	decode(t, rr, &list)
	if list.Count != 1 || !strings.Contains(list.Scorer, "+") {
		t.Errorf("unexpected rule listing %+v", list)
	}

	t.Run("InvalidExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{ID: "bad", Name: "bad", Expression: "amount +", Weight: 1})
		rr := do(t, server, http.MethodPost, "/rules", "", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadNeedsRepository", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules/reload", "", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestRulesWithRepository(t *testing.T) {
	repo, err := repository.New(context.Background(), domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rules.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	defer repo.Close()

	server := createTestServer(t, repo)

	body, _ := json.Marshal(CreateRuleRequest{
		ID: "late-step", Name: "Late step", Expression: "step >= 2", Weight: 5, Enabled: true,
	})
	rr := do(t, server, http.MethodPost, "/rules", "", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Saved but not applied until reload.
	if got := server.Handler().engine.RulesCount(); got != 0 {
		t.Errorf("expected no loaded rules before reload, got %d", got)
	}

	rr = do(t, server, http.MethodPost, "/rules/reload", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := server.Handler().engine.RulesCount(); got != 1 {
		t.Errorf("expected 1 loaded rule after reload, got %d", got)
	}
	if rr := do(t, server, http.MethodGet, "/health", "", nil); !strings.Contains(rr.Body.String(), "healthy") {
		t.Errorf("unexpected health %s", rr.Body.String())
	}
}
