package automation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/cache"
	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// fakeInverterServer is a minimal stand-in for the device cloud API: it
// echoes back whatever scheduler was last applied so verifySlot's read-back
// check passes, and answers telemetry reads with a fixed snapshot.
type fakeInverterServer struct {
	mu     sync.Mutex
	groups []map[string]any
	enable bool
}

func (f *fakeInverterServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/op/v0/device/real/query":
		writeEnvelope(w, map[string]any{"soc": 50.0, "pvPower": 1000.0, "feedinPower": 100.0})
	case "/op/v0/device/scheduler/get":
		f.mu.Lock()
		defer f.mu.Unlock()
		writeEnvelope(w, map[string]any{"enable": f.enable, "groups": f.groups})
	case "/op/v0/device/scheduler/set":
		var body struct {
			Groups []map[string]any `json:"groups"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.groups = body.Groups
		f.mu.Unlock()
		writeEnvelope(w, nil)
	case "/op/v0/device/scheduler/enable":
		var body struct {
			Enable bool `json:"enable"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.enable = body.Enable
		f.mu.Unlock()
		writeEnvelope(w, nil)
	default:
		writeEnvelope(w, nil)
	}
}

func writeEnvelope(w http.ResponseWriter, result any) {
	env := map[string]any{"errno": 0, "msg": ""}
	if result != nil {
		env["result"] = result
	}
	_ = json.NewEncoder(w).Encode(env)
}

type fakeCycleStore struct {
	cfg       tenantconfig.Config
	rules     []rule.Rule
	state     AutomationState
	qc        QuickControlOverride
	persisted bool
}

func (s *fakeCycleStore) GetConfig(ctx context.Context, schema string) (tenantconfig.Config, error) {
	return s.cfg, nil
}

func (s *fakeCycleStore) ListRules(ctx context.Context, schema string) ([]rule.Rule, error) {
	return s.rules, nil
}

func (s *fakeCycleStore) GetState(ctx context.Context, schema string) (AutomationState, error) {
	return s.state, nil
}

func (s *fakeCycleStore) GetQuickControl(ctx context.Context, schema string) (QuickControlOverride, error) {
	return s.qc, nil
}

func (s *fakeCycleStore) PutQuickControl(ctx context.Context, schema string, q QuickControlOverride) error {
	s.qc = q
	return nil
}

func (s *fakeCycleStore) PersistCycle(ctx context.Context, schema string, state AutomationState, setTriggered *uuid.UUID, clearTriggered []uuid.UUID, flagsReset []uuid.UUID) error {
	s.state = state
	s.persisted = true
	return nil
}

type noopCycleAuditStore struct{}

func (noopCycleAuditStore) AppendAudit(ctx context.Context, schema string, entry auditlog.Entry) error {
	return nil
}

func newCycleTestEngine(t *testing.T, store *fakeCycleStore) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := retryclient.NewClient("inverter", 5, time.Minute, logger, nil, nil)
	return NewEngine(Deps{
		Store:         store,
		Cache:         cache.New(nil, logger),
		Inverter:      inverterclient.NewClient(rc),
		Audit:         auditlog.NewWriter(noopCycleAuditStore{}, logger),
		Logger:        logger,
		CycleDeadline: 10 * time.Second,
	})
}

func alwaysMetRule(name string, priority int) rule.Rule {
	return rule.Rule{
		ID:       uuid.New(),
		Name:     name,
		Priority: priority,
		Enabled:  true,
		Action:   rule.Action{WorkMode: rule.WorkModeForceDischarge, DurationMinutes: 30},
	}
}

func TestRunCycle_StartsHighestPriorityMetRule(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	r := alwaysMetRule("export now", 1)
	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		rules: []rule.Rule{r},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	require.NotNil(t, store.state.ActiveRule)
	assert.Equal(t, r.ID, *store.state.ActiveRule)
	assert.Equal(t, "export now", store.state.ActiveRuleName)
}

func TestRunCycle_ContinuesActiveRuleStillMet(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	r := alwaysMetRule("export now", 1)
	now := time.Now()
	r.LastTriggered = &now

	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		rules: []rule.Rule{r},
		state: AutomationState{ActiveRule: &r.ID, ActiveRuleName: r.Name},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	require.NotNil(t, store.state.ActiveRule)
	assert.Equal(t, r.ID, *store.state.ActiveRule)
}

func TestRunCycle_ClearsWhenNoLongerMet(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	r := alwaysMetRule("export now", 1)
	r.Conditions.SoC = rule.NumericCondition{Enabled: true, Operator: rule.OpGreaterOrEqual, Value: 1000}

	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		rules: []rule.Rule{r},
		state: AutomationState{ActiveRule: &r.ID, ActiveRuleName: r.Name},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.Nil(t, store.state.ActiveRule)
	assert.Empty(t, store.state.ActiveRuleName)
}

func TestRunCycle_PreemptsToHigherPriorityRule(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	active := alwaysMetRule("low priority", 2)
	preemptor := alwaysMetRule("high priority", 1)

	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		rules: []rule.Rule{active, preemptor},
		state: AutomationState{ActiveRule: &active.ID, ActiveRuleName: active.Name},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	require.NotNil(t, store.state.ActiveRule)
	assert.Equal(t, preemptor.ID, *store.state.ActiveRule)
	assert.Equal(t, "high priority", store.state.ActiveRuleName)
}

func TestRunCycle_AutomationDisabledClearsDevice(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	r := alwaysMetRule("export now", 1)
	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: false,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		rules: []rule.Rule{r},
		state: AutomationState{ActiveRule: &r.ID, ActiveRuleName: r.Name},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.Nil(t, store.state.ActiveRule)
	assert.True(t, store.state.SegmentsCleared)
}

func TestRunCycle_BlackoutForcesClear(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	r := alwaysMetRule("export now", 1)
	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
			BlackoutWindows:   []tenantconfig.BlackoutWindow{{StartHour: 0, StartMinute: 0, EndHour: 0, EndMinute: 0}},
		},
		rules: []rule.Rule{r},
		state: AutomationState{ActiveRule: &r.ID, ActiveRuleName: r.Name},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.Nil(t, store.state.ActiveRule)
	assert.True(t, store.state.InBlackout)
}

func TestRunCycle_QuickControlShortCircuitsEvaluation(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	r := alwaysMetRule("export now", 1)
	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		rules: []rule.Rule{r},
		qc:     QuickControlOverride{Active: true, ExpiresAt: time.Now().Add(time.Hour)},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.Nil(t, store.state.ActiveRule)
	assert.True(t, store.qc.Active)
}

func TestRunCycle_QuickControlAutoExpires(t *testing.T) {
	srv := httptest.NewServer(&fakeInverterServer{})
	t.Cleanup(srv.Close)

	store := &fakeCycleStore{
		cfg: tenantconfig.Config{
			AutomationEnabled: true,
			Inverter:          tenantconfig.InverterCredentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "tok"},
		},
		qc: QuickControlOverride{Active: true, ExpiresAt: time.Now().Add(-time.Minute)},
	}
	e := newCycleTestEngine(t, store)

	_, err := e.RunCycle(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.False(t, store.qc.Active)
}
