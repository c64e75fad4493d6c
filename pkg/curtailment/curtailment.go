// Package curtailment implements C7: the independent per-tenant export-limit
// state machine. It is driven by the worker tick loop immediately after the
// automation cycle engine finishes that tenant's cycle (§4.7 "within the
// same cycle, after C6"), sharing the already-fetched feed-in price rather
// than fetching it again.
package curtailment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/internal/telemetry"
	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// State is one tenant's curtailment state (§3 AutomationState.curtailment,
// persisted as part of automation.AutomationState — this package only
// computes transitions; the caller persists the resulting State back onto
// the shared document).
type State struct {
	Active     bool      `json:"active"`
	LastChange time.Time `json:"lastChange,omitempty"`
}

// Store is the persistence dependency this engine needs.
type Store interface {
	GetState(ctx context.Context, schema string) (State, error)
	PutState(ctx context.Context, schema string, state State) error
}

// Engine runs the curtailment transition check for one tenant per call.
type Engine struct {
	store    Store
	inverter *inverterclient.Client
	audit    *auditlog.Writer
	logger   *slog.Logger
	now      func() time.Time
}

// Deps bundles Engine's collaborators for NewEngine.
type Deps struct {
	Store    Store
	Inverter *inverterclient.Client
	Audit    *auditlog.Writer
	Logger   *slog.Logger
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(d Deps) *Engine {
	return &Engine{store: d.Store, inverter: d.Inverter, audit: d.Audit, logger: d.Logger, now: time.Now}
}

// creds identifies the inverter C7 commands, mirroring
// automation.inverterCreds since the two packages intentionally do not
// share a dependency.
type creds = inverterclient.Credentials

// Run evaluates one tenant's curtailment transition for this tick, given
// the feed-in price the automation cycle already fetched (currentFeedIn,
// available). If the price was unavailable this cycle, no transition is
// attempted — the invariant "inverter touched only on transitions" extends
// to "no data, no transition" (§4.7).
func (e *Engine) Run(ctx context.Context, schema string, cfg tenantconfig.Config, currentFeedIn float64, feedInAvailable bool) error {
	ctx = tenant.NewContext(ctx, &tenant.Info{Schema: schema})
	if !feedInAvailable {
		return nil
	}

	state, err := e.store.GetState(ctx, schema)
	if err != nil {
		return err
	}

	c := creds{APIURL: cfg.Inverter.APIURL, DeviceSerial: cfg.Inverter.DeviceSerial, Token: cfg.Inverter.Token}
	price := currentFeedIn
	threshold := cfg.Curtailment.ThresholdC

	switch {
	case !state.Active && cfg.Curtailment.Enabled && price < threshold:
		if err := e.inverter.SetExportLimit(ctx, c, 0); err != nil {
			e.logger.Error("curtailment activate failed", "tenant", schema, "error", err)
			return nil
		}
		e.transition(ctx, schema, &state, true, "activated")

	case state.Active && (price >= threshold || !cfg.Curtailment.Enabled):
		if err := e.inverter.SetExportLimit(ctx, c, cfg.Curtailment.RestoreValue); err != nil {
			e.logger.Error("curtailment deactivate failed", "tenant", schema, "error", err)
			return nil
		}
		e.transition(ctx, schema, &state, false, "deactivated")
	}

	return nil
}

func (e *Engine) transition(ctx context.Context, schema string, state *State, active bool, action string) {
	from, to := "inactive", "active"
	if !active {
		from, to = "active", "inactive"
	}

	state.Active = active
	state.LastChange = e.now()

	if err := e.store.PutState(ctx, schema, *state); err != nil {
		e.logger.Error("persisting curtailment state", "tenant", schema, "error", err)
	}
	telemetry.CurtailmentTransitionsTotal.WithLabelValues(from, to).Inc()
	e.audit.Append(schema, auditlog.Entry{
		CycleID:     uuid.New(),
		StartedAt:   e.now(),
		CompletedAt: e.now(),
		ActionTaken: action,
	})
}
