package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/internal/telemetry"
	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// applyRule composes and applies r's segment to slot 0, verifying it stuck
// before committing activeRule in state (§4.6 step 8). Returns false on any
// failure along the way; the rule is not considered active until verified.
func (e *Engine) applyRule(ctx context.Context, cfg tenantconfig.Config, state *AutomationState, r rule.Rule) bool {
	creds := inverterCreds(cfg)
	loc := cfg.Location()
	now := e.now().In(loc)
	end := now.Add(time.Duration(r.Action.DurationMinutes) * time.Minute)

	var sched inverterclient.Scheduler
	sched.Flag = true
	sched.SetSlot(inverterclient.AutomationSlotIndex, inverterclient.Slot{
		Enable:         true,
		WorkMode:       r.Action.WorkMode,
		StartHHMM:      fmt.Sprintf("%02d:%02d", now.Hour(), now.Minute()),
		EndHHMM:        fmt.Sprintf("%02d:%02d", end.Hour(), end.Minute()),
		DischargePower: r.Action.DischargePower,
		TargetMinSoC:   r.Action.TargetMinSoC,
		MaxSoC:         r.Action.MaxSoC,
	})

	if err := e.inverter.ApplyScheduler(ctx, creds, sched, retryclient.CriticalPreset, true); err != nil {
		e.logger.Error("apply scheduler failed", "rule", r.ID, "error", err)
		telemetry.ApplyOutcomesTotal.WithLabelValues("apply_failed").Inc()
		return false
	}
	if err := e.inverter.SetFlag(ctx, creds, true, true); err != nil {
		e.logger.Error("set flag failed during apply", "rule", r.ID, "error", err)
		telemetry.ApplyOutcomesTotal.WithLabelValues("apply_failed").Inc()
		return false
	}

	e.sleep(ctx, 3*time.Second)

	want := sched.Slots[inverterclient.AutomationSlotIndex]
	verified, err := e.verifySlot(ctx, creds, want)
	if err != nil || !verified {
		e.logger.Warn("apply verification failed", "rule", r.ID, "error", err)
		telemetry.ApplyOutcomesTotal.WithLabelValues("applied_unverified").Inc()
		return false
	}
	telemetry.ApplyOutcomesTotal.WithLabelValues("applied_verified").Inc()

	id := r.ID
	segment := sched
	state.ActiveRule = &id
	state.ActiveRuleName = r.Name
	state.ActiveSegment = &segment
	state.ActiveSegmentEnabled = true
	return true
}

// verifySlot re-reads the device scheduler and confirms slot 0 matches
// want's enable flag and time window (§4.6 step 8.5). GetScheduler's own
// retry preset provides the "up to 3 retries" budget this step calls for.
func (e *Engine) verifySlot(ctx context.Context, creds inverterclient.Credentials, want inverterclient.Slot) (bool, error) {
	sched, err := e.inverter.GetScheduler(ctx, creds, false)
	if err != nil {
		return false, err
	}
	got := sched.Slots[inverterclient.AutomationSlotIndex]
	return got.Enable == want.Enable && got.StartHHMM == want.StartHHMM && got.EndHHMM == want.EndHHMM, nil
}

// clearActive runs the clear-active protocol (§4.6 step 9): disable all
// slots, turn the flag off, and on success reset the active-rule fields and
// clearFailureAttempts. Returns the rule id that was active (nil if none
// was) and whether the clear succeeded.
func (e *Engine) clearActive(ctx context.Context, schema string, cfg tenantconfig.Config, state *AutomationState, cycleID uuid.UUID, cycleStart time.Time) (*uuid.UUID, bool) {
	if state.ActiveRule == nil {
		return nil, true
	}
	prev := *state.ActiveRule

	creds := inverterCreds(cfg)
	var sched inverterclient.Scheduler
	sched.Flag = false
	for i := range sched.Slots {
		sched.Slots[i] = inverterclient.Slot{WorkMode: rule.WorkModeSelfUse}
	}

	if err := e.inverter.ApplyScheduler(ctx, creds, sched, retryclient.ClearPreset, false); err != nil {
		state.ClearFailureAttempts++
		e.logger.Error("clear-active failed", "tenant", schema, "rule", prev, "attempts", state.ClearFailureAttempts, "error", err)

		severity := ""
		if state.ClearFailureAttempts >= 5 {
			severity = "critical"
		}
		e.audit.Append(schema, auditlog.Entry{
			CycleID:     uuid.New(),
			StartedAt:   cycleStart,
			CompletedAt: e.now(),
			RuleID:      &prev,
			ActionTaken: "clear_failed",
			Reason:      err.Error(),
			Severity:    severity,
		})
		return nil, false
	}

	e.sleep(ctx, 2500*time.Millisecond)

	state.ActiveRule = nil
	state.ActiveRuleName = ""
	state.ActiveSegment = nil
	state.ActiveSegmentEnabled = false
	state.ClearFailureAttempts = 0
	return &prev, true
}

// clearDevice performs the one-shot preflight clear (§4.6 step 1) when
// automation has just been turned off. Unlike clearActive it does not track
// clearFailureAttempts or emit an alert — a disabled tenant retries the
// clear every tick until segmentsCleared is confirmed.
func (e *Engine) clearDevice(ctx context.Context, cfg tenantconfig.Config, state *AutomationState, reason string) {
	creds := inverterCreds(cfg)
	var sched inverterclient.Scheduler
	sched.Flag = false

	if err := e.inverter.ApplyScheduler(ctx, creds, sched, retryclient.DefaultPreset, false); err != nil {
		e.logger.Error("preflight clear failed", "reason", reason, "error", err)
		return
	}
	if err := e.inverter.SetFlag(ctx, creds, false, false); err != nil {
		e.logger.Error("preflight flag clear failed", "reason", reason, "error", err)
		return
	}

	state.ActiveRule = nil
	state.ActiveRuleName = ""
	state.ActiveSegment = nil
	state.ActiveSegmentEnabled = false
}

// expireQuickControl runs the quick-control auto-cleanup (§4.9): clear the
// device (counter-exempt), mark the override inactive, and emit the
// `quick_control_expired` audit line. Also invoked directly by the
// quick-control status endpoint so closure is observable without a live
// cycle.
func (e *Engine) expireQuickControl(ctx context.Context, schema string, cfg tenantconfig.Config, qc *QuickControlOverride) {
	creds := inverterCreds(cfg)
	var sched inverterclient.Scheduler
	sched.Flag = false
	if err := e.inverter.ApplyScheduler(ctx, creds, sched, retryclient.ClearPreset, false); err != nil {
		e.logger.Error("quick control auto-cleanup clear failed", "tenant", schema, "error", err)
	}

	qc.Active = false
	if err := e.store.PutQuickControl(ctx, schema, *qc); err != nil {
		e.logger.Error("persisting expired quick control", "tenant", schema, "error", err)
	}

	e.audit.Append(schema, auditlog.Entry{
		CycleID:     uuid.New(),
		StartedAt:   e.now(),
		CompletedAt: e.now(),
		ActionTaken: "quick_control_expired",
	})
	telemetry.QuickControlEventsTotal.WithLabelValues("expired").Inc()
	if e.notifier != nil {
		e.notifier.NotifyQuickControlExpired(schema)
	}
}

// sleep blocks for d or until ctx is done, whichever comes first — used for
// the settle windows the apply/clear protocols call for (§4.6 steps 8.4,
// 9.3).
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// persist writes the cycle's resulting state (plus any lastTriggered
// mutations) and appends the audit entry (§4.6 step 10).
func (e *Engine) persist(
	ctx context.Context,
	schema string,
	state AutomationState,
	activeBefore *uuid.UUID,
	setTriggered *uuid.UUID,
	clearTriggered []uuid.UUID,
	flagsReset []uuid.UUID,
	cycleID uuid.UUID,
	cycleStart time.Time,
	triggered bool,
	action string,
	evaluations []auditlog.RuleEvaluation,
) error {
	if err := e.store.PersistCycle(ctx, schema, state, setTriggered, clearTriggered, flagsReset); err != nil {
		e.logger.Error("persisting cycle", "tenant", schema, "error", err)
		return err
	}

	e.audit.Append(schema, auditlog.Entry{
		CycleID:          cycleID,
		StartedAt:        cycleStart,
		CompletedAt:      e.now(),
		Triggered:        triggered,
		RuleID:           state.ActiveRule,
		RuleName:         state.ActiveRuleName,
		RulesEvaluated:   evaluations,
		ActionTaken:      action,
		ActiveRuleBefore: activeBefore,
		ActiveRuleAfter:  state.ActiveRule,
		CycleDurationMs:  e.now().Sub(cycleStart).Milliseconds(),
	})
	return nil
}
