package tenantconfig

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/solarctl/solarctl/internal/httpserver"
	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/auditlog"
)

// Store is the persistence dependency this package needs. Defined here
// (not imported from internal/store) so the concrete store can satisfy it
// structurally without either package importing the other.
type Store interface {
	GetConfig(ctx context.Context, schema string) (Config, error)
	PutConfig(ctx context.Context, schema string, cfg Config) error
}

// Handler serves §6's GET/POST /api/config.
type Handler struct {
	logger *slog.Logger
	store  Store
	audit  *auditlog.Writer
}

// NewHandler creates a tenant config Handler.
func NewHandler(logger *slog.Logger, store Store, audit *auditlog.Writer) *Handler {
	return &Handler{logger: logger, store: store, audit: audit}
}

// Routes returns the chi router for this resource, mounted at /api/config
// by the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Post("/", h.handleUpdate)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	cfg, err := h.store.GetConfig(r.Context(), ti.Schema)
	if err != nil {
		h.logger.Error("getting tenant config", "tenant", ti.Slug, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	// Merge semantics (§6): read the existing document first so fields the
	// caller omits from the request body are preserved rather than zeroed.
	existing, err := h.store.GetConfig(r.Context(), ti.Schema)
	if err != nil {
		h.logger.Error("getting tenant config for merge", "tenant", ti.Slug, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load configuration")
		return
	}

	merged := existing
	if !httpserver.DecodeAndValidate(w, r, &merged) {
		return
	}

	if err := h.store.PutConfig(r.Context(), ti.Schema, merged); err != nil {
		h.logger.Error("updating tenant config", "tenant", ti.Slug, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update configuration")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]bool{"automationEnabled": merged.AutomationEnabled})
		h.audit.LogConfigChange(ti.Schema, detail)
	}

	httpserver.Respond(w, http.StatusOK, merged)
}
