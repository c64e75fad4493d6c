package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/solarctl/solarctl/pkg/curtailment"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// ActiveTenant identifies one tenant the driver should dispatch a cycle
// for: enough to log against and to scope the store (§4.1).
type ActiveTenant struct {
	Slug   string
	Schema string
}

// TenantLister is the directory query the driver needs each tick: every
// tenant with automationEnabled=true, pre-filtered at the persistence layer
// so the driver never opens a schema just to discover the flag is off.
type TenantLister interface {
	ListAutomationEnabled(ctx context.Context) ([]ActiveTenant, error)
}

// ConfigStore is the minimal config read the driver needs to compute the
// per-tenant dispatch gate (§4.1 "elapsed >= tenant.cycleIntervalMs").
type ConfigStore interface {
	GetConfig(ctx context.Context, schema string) (tenantconfig.Config, error)
	GetState(ctx context.Context, schema string) (AutomationState, error)
}

// Driver is C1: it fires one tick per minute and dispatches one cycle per
// eligible tenant, running tenants concurrently while keeping each tenant's
// own cycle strictly sequential (§4.1, §5 "parallel per-tenant tasks, each
// internally sequential").
type Driver struct {
	lister      TenantLister
	configs     ConfigStore
	engine      *Engine
	curtailment *curtailment.Engine
	logger      *slog.Logger

	tick           time.Duration
	defaultCycleMs int64
	now            func() time.Time
}

// DriverDeps bundles Driver's collaborators for NewDriver.
type DriverDeps struct {
	Lister         TenantLister
	Configs        ConfigStore
	Engine         *Engine
	Curtailment    *curtailment.Engine
	Logger         *slog.Logger
	Tick           time.Duration // default 1 minute
	DefaultCycleMs int64         // default 60000
}

// NewDriver builds a Driver from its collaborators.
func NewDriver(d DriverDeps) *Driver {
	tick := d.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	defaultCycleMs := d.DefaultCycleMs
	if defaultCycleMs <= 0 {
		defaultCycleMs = 60000
	}
	return &Driver{
		lister:         d.Lister,
		configs:        d.Configs,
		engine:         d.Engine,
		curtailment:    d.Curtailment,
		logger:         d.Logger,
		tick:           tick,
		defaultCycleMs: defaultCycleMs,
		now:            time.Now,
	}
}

// Run blocks, firing one dispatch pass per tick until ctx is cancelled
// (§4.1 "fires every minute at second boundary"). Individual tenant
// failures never stop the loop (§7 "the engine never halts the driver").
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("scheduler driver started", "tick", d.tick)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("scheduler driver stopped")
			return nil
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

// dispatch runs one tick: list eligible tenants, then run each tenant's
// pass (gate check, cycle, curtailment) concurrently. A panic in one
// tenant's goroutine must never take down the others or the driver — each
// tenant pass is wrapped in its own recover (§7).
func (d *Driver) dispatch(ctx context.Context) {
	tenants, err := d.lister.ListAutomationEnabled(ctx)
	if err != nil {
		d.logger.Error("listing automation-enabled tenants", "error", err)
		return
	}

	done := make(chan struct{}, len(tenants))
	for _, t := range tenants {
		t := t
		go func() {
			defer func() { done <- struct{}{} }()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("tenant pass panicked", "tenant", t.Slug, "panic", r)
				}
			}()
			d.runTenantPass(ctx, t)
		}()
	}
	for range tenants {
		<-done
	}
}

// runTenantPass applies the per-tenant dispatch gate (§4.1) and, if
// elapsed, runs the automation cycle followed by the curtailment check
// using the cycle's already-fetched feed-in price (§4.7).
func (d *Driver) runTenantPass(ctx context.Context, t ActiveTenant) {
	cfg, err := d.configs.GetConfig(ctx, t.Schema)
	if err != nil {
		d.logger.Error("loading config for dispatch gate", "tenant", t.Slug, "error", err)
		return
	}
	state, err := d.configs.GetState(ctx, t.Schema)
	if err != nil {
		d.logger.Error("loading state for dispatch gate", "tenant", t.Slug, "error", err)
		return
	}

	interval := cfg.CycleInterval(time.Duration(d.defaultCycleMs) * time.Millisecond)
	elapsed := d.now().Sub(state.LastCheckTime())
	if state.LastCheck != 0 && elapsed < interval {
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	result, err := d.engine.RunCycle(cycleCtx, t.Schema)
	if err != nil {
		d.logger.Error("running cycle", "tenant", t.Slug, "error", err)
		return
	}

	if d.curtailment != nil {
		if err := d.curtailment.Run(cycleCtx, t.Schema, cfg, result.CurrentFeedIn, result.CurrentFeedInAvailable); err != nil {
			d.logger.Error("running curtailment", "tenant", t.Slug, "error", err)
		}
	}
}

// RunTenantNow runs one tenant's cycle plus its curtailment check
// immediately, bypassing the dispatch gate (§6 POST /api/automation/cycle
// "runs a single cycle synchronously for the caller's tenant").
func (d *Driver) RunTenantNow(ctx context.Context, schema string) (CycleResult, error) {
	result, err := d.engine.RunCycle(ctx, schema)
	if err != nil {
		return result, err
	}
	if d.curtailment != nil {
		cfg, cfgErr := d.configs.GetConfig(ctx, schema)
		if cfgErr != nil {
			d.logger.Error("loading config for manual curtailment pass", "tenant", schema, "error", cfgErr)
			return result, nil
		}
		if err := d.curtailment.Run(ctx, schema, cfg, result.CurrentFeedIn, result.CurrentFeedInAvailable); err != nil {
			d.logger.Error("running curtailment", "tenant", schema, "error", err)
		}
	}
	return result, nil
}
