package automation

import (
	"sort"
	"time"

	"context"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/internal/telemetry"
	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/auditlog"
	"github.com/solarctl/solarctl/pkg/evaluator"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

var tracer = telemetry.Tracer("automation")

// CycleResult carries the values the worker's post-cycle curtailment step
// (§4.7 "using already-fetched currentFeedInPrice") needs without
// pkg/curtailment depending on this package.
type CycleResult struct {
	CurrentFeedIn          float64
	CurrentFeedInAvailable bool
}

// RunCycle executes one tenant's cycle (§4.6 "cycle algorithm"). It never
// returns an error for tenant-local failures — those are absorbed into the
// audit trail so one tenant's trouble can never affect the driver or other
// tenants (§7); the returned error is reserved for failures to even load
// the tenant's config or state.
func (e *Engine) RunCycle(ctx context.Context, schema string) (CycleResult, error) {
	ctx = tenant.NewContext(ctx, &tenant.Info{Schema: schema})
	ctx, cancel := context.WithTimeout(ctx, e.cycleDeadline)
	defer cancel()

	ctx, span := tracer.Start(ctx, "automation.cycle")
	defer span.End()

	cycleStart := e.now()
	cycleID := uuid.New()
	outcome := "error"
	defer func() {
		telemetry.CycleDuration.WithLabelValues(outcome).Observe(e.now().Sub(cycleStart).Seconds())
		telemetry.CyclesTotal.WithLabelValues(outcome).Inc()
	}()

	cfg, err := e.store.GetConfig(ctx, schema)
	if err != nil {
		e.logger.Error("loading config", "tenant", schema, "error", err)
		return CycleResult{}, err
	}
	state, err := e.store.GetState(ctx, schema)
	if err != nil {
		e.logger.Error("loading state", "tenant", schema, "error", err)
		return CycleResult{}, err
	}
	activeBefore := state.ActiveRule

	// Step 1: preflight. Automation disabled is a one-shot clear, not a
	// per-cycle no-op; once segmentsCleared is confirmed, later ticks just
	// update lastCheck.
	if !cfg.AutomationEnabled {
		if !state.SegmentsCleared {
			e.clearDevice(ctx, cfg, &state, "automation_disabled")
			state.SegmentsCleared = true
		}
		state.LastCheck = e.now().UnixMilli()
		outcome = "disabled"
		err := e.persist(ctx, schema, state, activeBefore, nil, nil, nil, cycleID, cycleStart, false, "disabled", nil)
		return CycleResult{}, err
	}
	state.SegmentsCleared = false

	loc := cfg.Location()
	localNow := e.now().In(loc)

	// Step 2: blackout check.
	if cfg.InBlackout(localNow) {
		var cleared []uuid.UUID
		if state.ActiveRule != nil {
			if prev, ok := e.clearActive(ctx, schema, cfg, &state, cycleID, cycleStart); ok && prev != nil {
				cleared = append(cleared, *prev)
			}
		}
		state.InBlackout = true
		state.LastCheck = e.now().UnixMilli()
		outcome = "blackout"
		err := e.persist(ctx, schema, state, activeBefore, nil, cleared, nil, cycleID, cycleStart, false, "blackout", nil)
		return CycleResult{}, err
	}
	state.InBlackout = false

	// Step 3: quick-control override.
	qc, err := e.store.GetQuickControl(ctx, schema)
	if err != nil {
		e.logger.Error("loading quick control", "tenant", schema, "error", err)
		return CycleResult{}, err
	}
	if qc.Active {
		if !qc.Expired(e.now()) {
			state.LastCheck = e.now().UnixMilli()
			outcome = "quickcontrol"
			err := e.persist(ctx, schema, state, activeBefore, nil, nil, nil, cycleID, cycleStart, false, "quickcontrol", nil)
			return CycleResult{}, err
		}
		e.expireQuickControl(ctx, schema, cfg, &qc)
	}

	rules, err := e.store.ListRules(ctx, schema)
	if err != nil {
		e.logger.Error("loading rules", "tenant", schema, "error", err)
		return CycleResult{}, err
	}

	// Step 4: flag processing — clearSegmentsOnNextCycle rules.
	var flagCleared, flagsReset []uuid.UUID
	for i := range rules {
		if !rules[i].ClearSegmentsOnNextCycle {
			continue
		}
		if state.ActiveRule != nil && *state.ActiveRule == rules[i].ID {
			if prev, ok := e.clearActive(ctx, schema, cfg, &state, cycleID, cycleStart); ok && prev != nil {
				flagCleared = append(flagCleared, *prev)
			} else if !ok {
				// Clear failed: abort further evaluation this cycle.
				state.LastCheck = e.now().UnixMilli()
				outcome = "clear_failed"
				err := e.persist(ctx, schema, state, activeBefore, nil, nil, nil, cycleID, cycleStart, false, "clear_failed", nil)
				return CycleResult{}, err
			}
		}
		rules[i].ClearSegmentsOnNextCycle = false
		flagsReset = append(flagsReset, rules[i].ID)
	}

	// Step 5: data acquisition.
	req := requirementsFor(rules)
	snap := e.gatherSignals(ctx, schema, cfg, req)

	// Step 6: evaluate every enabled rule in priority order.
	sort.Sort(rule.ByPriority(rules))
	byID := make(map[uuid.UUID]rule.Rule, len(rules))
	results := make(map[uuid.UUID]evaluator.Outcome, len(rules))
	var evaluations []auditlog.RuleEvaluation
	for _, r := range rules {
		byID[r.ID] = r
		if !r.Enabled {
			continue
		}
		out := evaluator.Evaluate(r.Conditions, snap, r.Action.DurationMinutes)
		results[r.ID] = out
		evaluations = append(evaluations, auditlog.RuleEvaluation{RuleID: r.ID, Name: r.Name, Outcome: out})
	}

	// Step 7/8/9: transition decision plus apply/clear protocols.
	action, setTriggered, clearTriggered := e.decide(ctx, schema, cfg, &state, rules, byID, results, cycleID, cycleStart)
	clearTriggered = append(clearTriggered, flagCleared...)

	state.LastCheck = e.now().UnixMilli()
	outcome = action
	triggered := action == "started" || action == "preempted"
	err = e.persist(ctx, schema, state, activeBefore, setTriggered, clearTriggered, flagsReset, cycleID, cycleStart, triggered, action, evaluations)
	return CycleResult{CurrentFeedIn: snap.CurrentFeedIn, CurrentFeedInAvailable: snap.CurrentFeedInAvailable}, err
}

// decide implements §4.6 step 7: given the fresh per-rule evaluation
// results, decide whether the cycle continues, preempts, clears, starts, or
// idles, driving the apply/clear protocols as needed. It returns the rule
// (if any) whose lastTriggered should be set to now, and any rules whose
// lastTriggered should be cleared — the caller persists both atomically
// alongside state (§4.2 "single multi-document batch commit").
func (e *Engine) decide(
	ctx context.Context,
	schema string,
	cfg tenantconfig.Config,
	state *AutomationState,
	rules []rule.Rule,
	byID map[uuid.UUID]rule.Rule,
	results map[uuid.UUID]evaluator.Outcome,
	cycleID uuid.UUID,
	cycleStart time.Time,
) (action string, setTriggered *uuid.UUID, clearTriggered []uuid.UUID) {
	now := e.now()

	if state.ActiveRule != nil {
		active, found := byID[*state.ActiveRule]
		if !found {
			// The active rule no longer exists; treat as already cleared.
			state.ActiveRule, state.ActiveRuleName, state.ActiveSegment, state.ActiveSegmentEnabled = nil, "", nil, false
			return "cleared", nil, nil
		}

		out, ok := results[active.ID]
		if !ok || out.Indeterminate {
			return "continue", nil, nil
		}

		withinDuration := active.LastTriggered != nil &&
			now.Before(active.LastTriggered.Add(time.Duration(active.Action.DurationMinutes)*time.Minute))

		preempt := findPreemptor(rules, results, active, now)

		if out.AllMet && withinDuration && preempt == nil {
			return "continue", nil, nil
		}

		if preempt != nil {
			prev, ok := e.clearActive(ctx, schema, cfg, state, cycleID, cycleStart)
			if !ok {
				return "clear_failed", nil, nil
			}
			var cleared []uuid.UUID
			if prev != nil {
				cleared = append(cleared, *prev)
			}
			if e.applyRule(ctx, cfg, state, *preempt) {
				preempt.LastTriggered = &now
				return "preempted", &preempt.ID, cleared
			}
			return "apply_failed", nil, cleared
		}

		prev, ok := e.clearActive(ctx, schema, cfg, state, cycleID, cycleStart)
		if !ok {
			return "clear_failed", nil, nil
		}
		var cleared []uuid.UUID
		if prev != nil {
			cleared = append(cleared, *prev)
		}
		return "cleared", nil, cleared
	}

	// No active rule: find the highest-priority rule that is met and past
	// cooldown. rules is already sorted ascending by priority (§4.6 step 6).
	for i := range rules {
		r := rules[i]
		if !r.Enabled {
			continue
		}
		out, ok := results[r.ID]
		if !ok || !out.AllMet {
			continue
		}
		if !r.CooldownExpired(now) {
			continue
		}
		if e.applyRule(ctx, cfg, state, r) {
			r.LastTriggered = &now
			return "started", &r.ID, nil
		}
		return "apply_failed", nil, nil
	}

	return "idle", nil, nil
}

// findPreemptor returns the highest-priority enabled rule with priority
// strictly less than active's that is currently met and past cooldown, or
// nil if none qualifies. rules must already be sorted ascending by
// priority.
func findPreemptor(rules []rule.Rule, results map[uuid.UUID]evaluator.Outcome, active rule.Rule, now time.Time) *rule.Rule {
	for i := range rules {
		r := rules[i]
		if r.ID == active.ID || !r.Enabled || r.Priority >= active.Priority {
			continue
		}
		out, ok := results[r.ID]
		if !ok || !out.AllMet {
			continue
		}
		if !r.CooldownExpired(now) {
			continue
		}
		return &rules[i]
	}
	return nil
}
