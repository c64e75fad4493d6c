package rule

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solarctl/solarctl/internal/httpserver"
	"github.com/solarctl/solarctl/internal/tenant"
)

// Store is the persistence dependency this package needs.
type Store interface {
	ListRules(ctx context.Context, schema string) ([]Rule, error)
	GetRule(ctx context.Context, schema string, id uuid.UUID) (Rule, error)
	PutRule(ctx context.Context, schema string, r Rule) error
	DeleteRule(ctx context.Context, schema string, id uuid.UUID) error
}

// Clearer performs the synchronous clear-active protocol (§4.6 step 9).
// Implemented by pkg/automation.Engine. The rule HTTP handler calls this
// directly — rather than deferring to the next cycle via a flag — whenever
// a rule that is currently the tenant's active rule is disabled or deleted
// (§6, §9 "rule deletion while active" redesign).
type Clearer interface {
	ClearActiveIfRule(ctx context.Context, schema string, ruleID uuid.UUID) error
}

// Handler serves §6's /api/rules CRUD surface.
type Handler struct {
	store   Store
	clearer Clearer
}

// NewHandler creates a rule Handler.
func NewHandler(store Store, clearer Clearer) *Handler {
	return &Handler{store: store, clearer: clearer}
}

// Routes returns the chi router for this resource.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Patch("/{id}", h.handlePatch)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())
	rules, err := h.store.ListRules(r.Context(), ti.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list rules")
		return
	}
	httpserver.Respond(w, http.StatusOK, rules)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	var req Rule
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	req.ID = uuid.New()

	if err := h.store.PutRule(r.Context(), ti.Schema, req); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create rule")
		return
	}
	httpserver.Respond(w, http.StatusCreated, req)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule id")
		return
	}

	existing, err := h.store.GetRule(r.Context(), ti.Schema, id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "rule not found")
		return
	}

	merged := existing
	if !httpserver.DecodeAndValidate(w, r, &merged) {
		return
	}
	merged.ID = id

	if err := h.store.PutRule(r.Context(), ti.Schema, merged); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update rule")
		return
	}

	// If the rule was (or is being) disabled while it is the tenant's
	// active rule, clear it on the device synchronously rather than
	// waiting for the next cycle to notice (§6).
	if !merged.Enabled {
		if err := h.clearer.ClearActiveIfRule(r.Context(), ti.Schema, id); err != nil {
			httpserver.RespondError(w, http.StatusBadGateway, "clear_failed", "rule updated but failed to clear active segment: "+err.Error())
			return
		}
	}

	httpserver.Respond(w, http.StatusOK, merged)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ti := tenant.FromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule id")
		return
	}

	if err := h.clearer.ClearActiveIfRule(r.Context(), ti.Schema, id); err != nil {
		httpserver.RespondError(w, http.StatusBadGateway, "clear_failed", "failed to clear active segment before delete: "+err.Error())
		return
	}

	if err := h.store.DeleteRule(r.Context(), ti.Schema, id); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete rule")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
