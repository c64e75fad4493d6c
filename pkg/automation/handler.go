package automation

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/solarctl/solarctl/internal/httpserver"
	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// ConfigRW is the config read/write dependency the enable toggle needs.
type ConfigRW interface {
	GetConfig(ctx context.Context, schema string) (tenantconfig.Config, error)
	PutConfig(ctx context.Context, schema string, cfg tenantconfig.Config) error
}

// HistoryStore is the audit history dependency (§6 GET
// /api/automation/history).
type HistoryStore interface {
	ListAudit(ctx context.Context, schema string, days int) ([]auditlog.Entry, error)
}

// CounterStore is the per-tenant API-call counter dependency (§6 GET
// /api/metrics/api-calls).
type CounterStore interface {
	Last(ctx context.Context, schema string, days int) ([]auditlog.DailyCount, error)
}

// Handler serves §6's engine-control and observability surface:
// /api/automation/{enable,cycle,status,history} and
// /api/quickcontrol/{start,stop,status}, plus /api/metrics/api-calls.
type Handler struct {
	engine   *Engine
	driver   *Driver
	config   ConfigRW
	history  HistoryStore
	counters CounterStore
}

// NewHandler creates a Handler.
func NewHandler(engine *Engine, driver *Driver, config ConfigRW, history HistoryStore, counters CounterStore) *Handler {
	return &Handler{engine: engine, driver: driver, config: config, history: history, counters: counters}
}

// Routes mounts the automation control/observability endpoints at the
// caller-chosen prefix (e.g. /api/automation).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/enable", h.handleEnable)
	r.Post("/cycle", h.handleCycle)
	r.Get("/status", h.handleStatus)
	r.Get("/history", h.handleHistory)
	return r
}

// QuickControlRoutes mounts the quick-control endpoints at the
// caller-chosen prefix (e.g. /api/quickcontrol).
func (h *Handler) QuickControlRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", h.handleQuickControlStart)
	r.Post("/stop", h.handleQuickControlStop)
	r.Get("/status", h.handleQuickControlStatus)
	return r
}

// MetricsRoutes mounts the per-tenant API-call counter endpoint at the
// caller-chosen prefix (e.g. /api/metrics).
func (h *Handler) MetricsRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/api-calls", h.handleAPICallMetrics)
	return r
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// handleEnable implements §6 POST /api/automation/enable. Flipping off
// resets segmentsCleared=false so the next cycle performs the one-shot
// clear (§6, §4.6 step 1).
func (h *Handler) handleEnable(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	var req enableRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cfg, err := h.config.GetConfig(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}
	cfg.AutomationEnabled = req.Enabled
	if err := h.config.PutConfig(r.Context(), ti.Schema, cfg); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update configuration")
		return
	}

	httpserver.Respond(w, http.StatusOK, enableRequest{Enabled: cfg.AutomationEnabled})
}

// handleCycle implements §6 POST /api/automation/cycle: runs a single cycle
// synchronously for the caller's tenant, bypassing the dispatch gate —
// used by the driver's own manual-trigger path and for test harnesses.
func (h *Handler) handleCycle(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	if _, err := h.driver.RunTenantNow(r.Context(), ti.Schema); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "cycle failed")
		return
	}

	status, err := h.engine.GetStatus(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load status")
		return
	}
	httpserver.Respond(w, http.StatusOK, status)
}

// handleStatus implements §6 GET /api/automation/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	status, err := h.engine.GetStatus(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load status")
		return
	}
	httpserver.Respond(w, http.StatusOK, status)
}

// handleHistory implements §6 GET /api/automation/history?days=N: audit
// entries, reverse chronological.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	days := httpserver.IntQueryParam(r, "days", 7)

	entries, err := h.history.ListAudit(r.Context(), ti.Schema, days)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}
	httpserver.Respond(w, http.StatusOK, entries)
}

// handleAPICallMetrics implements §6 GET /api/metrics/api-calls?days=N —
// per-tenant daily counters, fetched per-day and sorted in-process rather
// than via a range query (§6 "avoid requiring a compound index").
func (h *Handler) handleAPICallMetrics(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	days := httpserver.IntQueryParam(r, "days", 7)

	counts, err := h.counters.Last(r.Context(), ti.Schema, days)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load counters")
		return
	}
	httpserver.Respond(w, http.StatusOK, counts)
}

// handleQuickControlStart implements §6 POST /api/quickcontrol/start.
func (h *Handler) handleQuickControlStart(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	var req StartRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cfg, err := h.config.GetConfig(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}

	if err := h.engine.StartQuickControl(r.Context(), ti.Schema, cfg, req, "api"); err != nil {
		if errors.Is(err, ErrQuickControlApplyFailed) {
			httpserver.RespondError(w, http.StatusBadGateway, "apply_failed", "could not verify override on device")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start override")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"active": true})
}

// handleQuickControlStop implements §6 POST /api/quickcontrol/stop.
func (h *Handler) handleQuickControlStop(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	cfg, err := h.config.GetConfig(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}

	if err := h.engine.StopQuickControl(r.Context(), ti.Schema, cfg); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop override")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"active": false})
}

// handleQuickControlStatus implements §6 GET /api/quickcontrol/status,
// performing the §4.9 auto-cleanup pass if the override has expired.
func (h *Handler) handleQuickControlStatus(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	cfg, err := h.config.GetConfig(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}

	qc, err := h.engine.QuickControlStatus(r.Context(), ti.Schema, cfg)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load override status")
		return
	}
	httpserver.Respond(w, http.StatusOK, qc)
}
