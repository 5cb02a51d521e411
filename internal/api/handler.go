package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/report"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/session"
)

// HandlerConfig holds the non-collaborator settings of the API.
type HandlerConfig struct {
	Scoring rules.Config

	// Pace is the default delay between batches of an async live feed
	Pace time.Duration

	// LedgerSource is reported by GET /ledger
	LedgerSource string

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	sessions *session.Manager
	cfg      HandlerConfig
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(cfg HandlerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, sessions *session.Manager) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		sessions: sessions,
		cfg:      cfg,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.cfg.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
// It is ready once a non-empty ledger is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Ledger().Len() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": "ledger is empty",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// LedgerResponse describes the loaded ledger.
type LedgerResponse struct {
	Source string            `json:"source"`
	Count  int               `json:"count"`
	Steps  *domain.StepRange `json:"steps,omitempty"`
}

// Ledger handles GET /ledger.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	l := h.sessions.Ledger()
	resp := LedgerResponse{Source: h.cfg.LedgerSource, Count: l.Len()}
	if bounds, ok := l.Bounds(); ok {
		resp.Steps = &bounds
	}
	writeJSON(w, http.StatusOK, resp)
}

// AsyncLiveResponse is returned when a live feed is started in the background.
type AsyncLiveResponse struct {
	SessionID string `json:"session_id"`
	Step      int    `json:"step"`
	Total     int    `json:"total"`
	PaceMs    int64  `json:"pace_ms"`
}

// Live handles POST /live/{step}. By default the tick is replayed
// synchronously and every scored batch is returned. With async=true the
// batches are published on the event bus at the configured pace and the
// session worker scores them.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := GetSessionID(ctx)

	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "step must be an integer",
		})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		pace := h.cfg.Pace
		if raw := r.URL.Query().Get("pace"); raw != "" {
			pace, err = time.ParseDuration(raw)
			if err != nil || pace < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "pace must be a non-negative duration such as 3s",
				})
				return
			}
		}

		total, err := h.sessions.StartLive(sessionID, step, pace)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, AsyncLiveResponse{
			SessionID: sessionID,
			Step:      step,
			Total:     total,
			PaceMs:    pace.Milliseconds(),
		})
		return
	}

	run, err := h.sessions.Live(ctx, sessionID, step)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// IncidentsResponse is the session's incident log.
type IncidentsResponse struct {
	SessionID string                     `json:"session_id"`
	Count     int                        `json:"count"`
	Incidents []domain.ScoredTransaction `json:"incidents"`
}

// Incidents handles GET /incidents. A session that has not replayed
// anything yet has an empty log; reading it does not open the session.
func (h *Handler) Incidents(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	var entries []domain.ScoredTransaction
	if s, ok := h.sessions.Lookup(sessionID); ok {
		entries = s.Incidents()
	}
	if entries == nil {
		entries = []domain.ScoredTransaction{}
	}
	writeJSON(w, http.StatusOK, IncidentsResponse{
		SessionID: sessionID,
		Count:     len(entries),
		Incidents: entries,
	})
}

// EndSession handles DELETE /session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	if !h.sessions.End(sessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "session ended",
	})
}

// Benford handles GET /forensics/benford?from=&to=.
func (h *Handler) Benford(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.stepRange(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.Benford(r.Context(), rng)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps":  rng,
		"result": result,
	})
}

// Liquidation handles GET /forensics/liquidation?from=&to=.
func (h *Handler) Liquidation(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.stepRange(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.Liquidation(r.Context(), rng)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps":  rng,
		"result": result,
	})
}

// Audit handles POST /audit?from=&to=. The result is kept in the session
// and used by GET /report until the next audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.stepRange(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.Audit(r.Context(), GetSessionID(r.Context()), rng)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Report handles GET /report?format=text|json&benford=true.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	renderer, ok := report.ForFormat(r.URL.Query().Get("format"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "format must be text or json",
		})
		return
	}

	includeBenford := r.URL.Query().Get("benford") == "true"
	doc, err := h.sessions.Report(GetSessionID(r.Context()), includeBenford)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	data, err := report.Render(renderer, doc)
	if err != nil {
		slog.Error("report rendering failed",
			"report_id", doc.ID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", renderer.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="audit-`+doc.ID+reportExtension(renderer)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func reportExtension(r report.Renderer) string {
	if r.ContentType() == "application/json" {
		return ".json"
	}
	return ".txt"
}

// ListRules returns all loaded custom rules from the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":       loadedRules,
		"count":       len(loadedRules),
		"fingerprint": h.engine.Fingerprint(),
		"scorer":      h.sessions.Processor().Scorer().Version(),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Flag        string `json:"flag,omitempty"`
	Weight      int    `json:"weight"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates a custom rule and saves it to the database.
// With a database the rule takes effect after POST /rules/reload; without
// one it is loaded into the engine immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Flag:        domain.Flag(req.Flag),
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if h.repo == nil {
		if ruleConfig.Enabled {
			if err := h.engine.LoadRule(ruleConfig); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "invalid rule: " + err.Error(),
				})
				return
			}
			h.applyRules()
		}
		slog.Info("rule loaded", "id", ruleConfig.ID, "name", ruleConfig.Name)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"rule":    ruleConfig,
			"message": "Rule loaded. No database is configured, so it lasts until restart.",
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database and swaps the
// scorer used by every session.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}
	version := h.applyRules()

	slog.Info("rules reloaded from database", "count", h.engine.RulesCount(), "scorer_version", version)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
		"scorer":  version,
	})
}

// applyRules installs a scorer built from the engine's current rule set.
func (h *Handler) applyRules() string {
	scorer := h.engine.Scorer(h.cfg.Scoring)
	h.sessions.Processor().SetScorer(scorer)
	return scorer.Version()
}

// stepRange parses from/to query parameters, defaulting to the ledger bounds.
func (h *Handler) stepRange(w http.ResponseWriter, r *http.Request) (domain.StepRange, bool) {
	rng, _ := h.sessions.Ledger().Bounds()

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"from", &rng.From},
		{"to", &rng.To},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": p.name + " must be an integer",
			})
			return domain.StepRange{}, false
		}
		*p.dst = v
	}

	if !rng.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "from must not be greater than to",
		})
		return domain.StepRange{}, false
	}
	return rng, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoAudit):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "run POST /audit before requesting a report",
		})
	case errors.Is(err, session.ErrSessionRequired), errors.Is(err, session.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, session.ErrNoBus), errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
