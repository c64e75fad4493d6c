package automation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/cache"
	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/priceclient"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
	"github.com/solarctl/solarctl/pkg/weatherclient"

	"log/slog"
)

// Store is the persistence dependency the cycle engine needs, defined here
// (not imported from internal/store) so the concrete store satisfies it
// structurally without either package importing the other.
type Store interface {
	GetConfig(ctx context.Context, schema string) (tenantconfig.Config, error)
	ListRules(ctx context.Context, schema string) ([]rule.Rule, error)
	GetState(ctx context.Context, schema string) (AutomationState, error)
	GetQuickControl(ctx context.Context, schema string) (QuickControlOverride, error)
	PutQuickControl(ctx context.Context, schema string, q QuickControlOverride) error

	// PersistCycle atomically writes the resulting state plus any rule
	// lastTriggered mutations this cycle decided on (§4.2 "single
	// multi-document batch commit" for the preemption path; also used by
	// the simpler start/clear/continue/idle paths with a single id each) and
	// resets clearSegmentsOnNextCycle for any rules that flag was consumed
	// from this cycle.
	PersistCycle(ctx context.Context, schema string, state AutomationState, setTriggered *uuid.UUID, clearTriggered []uuid.UUID, flagsReset []uuid.UUID) error
}

// Engine is the per-process, shared-across-tenants automation cycle engine
// (C6) plus quick-control override handling (C9). One Engine instance
// serves every tenant; all per-cycle state lives in the Store, not here.
type Engine struct {
	store      Store
	priceStore cache.PriceStore
	cache      *cache.Cache
	inverter   *inverterclient.Client
	price      *priceclient.Client
	weather    *weatherclient.Client
	audit      *auditlog.Writer
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time

	cycleDeadline time.Duration
}

// Notifier is the optional critical-alert collaborator (implemented by
// pkg/notify) invoked when the quick-control auto-cleanup path fires. Left
// nil, these events are merely logged and audited.
type Notifier interface {
	NotifyQuickControlExpired(schema string)
}

// Deps bundles Engine's collaborators for NewEngine.
type Deps struct {
	Store         Store
	PriceStore    cache.PriceStore
	Cache         *cache.Cache
	Inverter      *inverterclient.Client
	Price         *priceclient.Client
	Weather       *weatherclient.Client
	Audit         *auditlog.Writer
	Notifier      Notifier
	Logger        *slog.Logger
	CycleDeadline time.Duration
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(d Deps) *Engine {
	deadline := d.CycleDeadline
	if deadline <= 0 || deadline > 50*time.Second {
		deadline = 50 * time.Second
	}
	return &Engine{
		store:         d.Store,
		priceStore:    d.PriceStore,
		cache:         d.Cache,
		inverter:      d.Inverter,
		price:         d.Price,
		weather:       d.Weather,
		audit:         d.Audit,
		notifier:      d.Notifier,
		logger:        d.Logger,
		now:           time.Now,
		cycleDeadline: deadline,
	}
}

func inverterCreds(cfg tenantconfig.Config) inverterclient.Credentials {
	return inverterclient.Credentials{
		APIURL:       cfg.Inverter.APIURL,
		DeviceSerial: cfg.Inverter.DeviceSerial,
		Token:        cfg.Inverter.Token,
	}
}

func priceCreds(cfg tenantconfig.Config) priceclient.Credentials {
	return priceclient.Credentials{
		APIURL: cfg.Price.APIURL,
		APIKey: cfg.Price.APIKey,
		SiteID: cfg.Price.SiteID,
	}
}

func weatherLoc(cfg tenantconfig.Config) weatherclient.Location {
	return weatherclient.Location{
		APIURL:    cfg.Weather.APIURL,
		APIKey:    cfg.Weather.APIKey,
		Latitude:  cfg.Weather.Latitude,
		Longitude: cfg.Weather.Longitude,
		TZ:        cfg.Location(),
	}
}
