package automation

import (
	"context"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/pkg/auditlog"
)

// ClearActiveIfRule implements rule.Clearer: the synchronous clear-active
// protocol the HTTP collaborator invokes when a rule is disabled or deleted
// while it is the tenant's active rule (§6), rather than waiting for the
// next cycle to notice.
func (e *Engine) ClearActiveIfRule(ctx context.Context, schema string, ruleID uuid.UUID) error {
	cfg, err := e.store.GetConfig(ctx, schema)
	if err != nil {
		return err
	}
	state, err := e.store.GetState(ctx, schema)
	if err != nil {
		return err
	}
	if state.ActiveRule == nil || *state.ActiveRule != ruleID {
		return nil
	}

	cycleID := uuid.New()
	start := e.now()
	prev, ok := e.clearActive(ctx, schema, cfg, &state, cycleID, start)
	if !ok {
		return errClearFailed
	}

	var cleared []uuid.UUID
	if prev != nil {
		cleared = append(cleared, *prev)
	}
	if err := e.store.PersistCycle(ctx, schema, state, nil, cleared, nil); err != nil {
		return err
	}
	e.audit.Append(schema, auditlog.Entry{
		CycleID:          cycleID,
		StartedAt:        start,
		CompletedAt:      e.now(),
		ActionTaken:      "cleared",
		ActiveRuleBefore: &ruleID,
		ActiveRuleAfter:  nil,
		Reason:           "rule disabled or deleted",
	})
	return nil
}

var errClearFailed = clearFailedError{}

type clearFailedError struct{}

func (clearFailedError) Error() string { return "clear-active failed after retries" }
