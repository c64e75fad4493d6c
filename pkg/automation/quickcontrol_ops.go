package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/internal/telemetry"
	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// ErrQuickControlApplyFailed is returned by StartQuickControl when the
// override could not be verified on the device.
var ErrQuickControlApplyFailed = errors.New("quick control apply failed")

// StartQuickControl implements §4.9 "start(override)": applies a bounded-
// duration manual override directly to slot 0, preempting whatever the
// cycle engine currently has active (the next cycle's step 3 short-circuits
// while it is active). The apply is metered — it is a user-triggered call,
// not housekeeping (§4.6 "counter discipline").
func (e *Engine) StartQuickControl(ctx context.Context, schema string, cfg tenantconfig.Config, req StartRequest, source string) error {
	ctx = tenant.NewContext(ctx, &tenant.Info{Schema: schema})
	creds := inverterCreds(cfg)
	loc := cfg.Location()
	now := e.now().In(loc)
	end := now.Add(time.Duration(req.Minutes) * time.Minute)

	var sched inverterclient.Scheduler
	sched.Flag = true
	sched.SetSlot(inverterclient.AutomationSlotIndex, inverterclient.Slot{
		Enable:         true,
		WorkMode:       req.WorkMode,
		StartHHMM:      fmt.Sprintf("%02d:%02d", now.Hour(), now.Minute()),
		EndHHMM:        fmt.Sprintf("%02d:%02d", end.Hour(), end.Minute()),
		DischargePower: req.Power,
	})

	if err := e.inverter.ApplyScheduler(ctx, creds, sched, retryclient.CriticalPreset, true); err != nil {
		e.logger.Error("quick control apply failed", "tenant", schema, "error", err)
		return ErrQuickControlApplyFailed
	}
	if err := e.inverter.SetFlag(ctx, creds, true, true); err != nil {
		e.logger.Error("quick control set flag failed", "tenant", schema, "error", err)
		return ErrQuickControlApplyFailed
	}

	e.sleep(ctx, 3*time.Second)

	want := sched.Slots[inverterclient.AutomationSlotIndex]
	verified, err := e.verifySlot(ctx, creds, want)
	if err != nil || !verified {
		e.logger.Warn("quick control verification failed", "tenant", schema, "error", err)
		return ErrQuickControlApplyFailed
	}

	qc := QuickControlOverride{
		Active:    true,
		Segment:   &sched,
		StartedAt: e.now(),
		ExpiresAt: e.now().Add(time.Duration(req.Minutes) * time.Minute),
		Source:    source,
	}
	if err := e.store.PutQuickControl(ctx, schema, qc); err != nil {
		return err
	}

	telemetry.QuickControlEventsTotal.WithLabelValues("started").Inc()
	e.audit.Append(schema, auditlog.Entry{
		CycleID:     uuid.New(),
		StartedAt:   e.now(),
		CompletedAt: e.now(),
		ActionTaken: "quick_control_started",
	})
	return nil
}

// StopQuickControl implements §4.9 "stop()": clears the device (counter-
// exempt — this is the same housekeeping clear the auto-cleanup path
// performs) and marks the override inactive, regardless of whether it had
// already expired.
func (e *Engine) StopQuickControl(ctx context.Context, schema string, cfg tenantconfig.Config) error {
	ctx = tenant.NewContext(ctx, &tenant.Info{Schema: schema})
	qc, err := e.store.GetQuickControl(ctx, schema)
	if err != nil {
		return err
	}
	if !qc.Active {
		return nil
	}

	creds := inverterCreds(cfg)
	var sched inverterclient.Scheduler
	sched.Flag = false
	if err := e.inverter.ApplyScheduler(ctx, creds, sched, retryclient.ClearPreset, false); err != nil {
		e.logger.Error("quick control manual stop clear failed", "tenant", schema, "error", err)
		return err
	}

	qc.Active = false
	if err := e.store.PutQuickControl(ctx, schema, qc); err != nil {
		return err
	}

	telemetry.QuickControlEventsTotal.WithLabelValues("stopped").Inc()
	e.audit.Append(schema, auditlog.Entry{
		CycleID:     uuid.New(),
		StartedAt:   e.now(),
		CompletedAt: e.now(),
		ActionTaken: "quick_control_stopped",
	})
	return nil
}

// QuickControlStatus returns the tenant's current override, performing the
// auto-cleanup pass first if it has expired (§4.9 "the same cleanup is
// invoked by a status-polling endpoint so it does not require an active
// cycle"). The returned value always reflects the post-cleanup state.
func (e *Engine) QuickControlStatus(ctx context.Context, schema string, cfg tenantconfig.Config) (QuickControlOverride, error) {
	qc, err := e.store.GetQuickControl(ctx, schema)
	if err != nil {
		return QuickControlOverride{}, err
	}
	if qc.Expired(e.now()) {
		e.expireQuickControl(ctx, schema, cfg, &qc)
	}
	return qc, nil
}

// Status is the snapshot GET /api/automation/status returns (§6): the
// config's enabled flag layered with the engine's observed state.
type Status struct {
	Enabled        bool             `json:"enabled"`
	ActiveRule     *uuid.UUID       `json:"activeRule,omitempty"`
	ActiveRuleName string           `json:"activeRuleName,omitempty"`
	LastCheck      int64            `json:"lastCheck"`
	InBlackout     bool             `json:"inBlackout"`
	Curtailment    CurtailmentState `json:"curtailment"`
}

// GetStatus assembles the §6 automation status response for one tenant.
func (e *Engine) GetStatus(ctx context.Context, schema string) (Status, error) {
	cfg, err := e.store.GetConfig(ctx, schema)
	if err != nil {
		return Status{}, err
	}
	state, err := e.store.GetState(ctx, schema)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Enabled:        cfg.AutomationEnabled,
		ActiveRule:     state.ActiveRule,
		ActiveRuleName: state.ActiveRuleName,
		LastCheck:      state.LastCheck,
		InBlackout:     state.InBlackout,
		Curtailment:    state.Curtailment,
	}, nil
}
