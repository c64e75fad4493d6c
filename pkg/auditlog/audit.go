// Package auditlog implements C8: the append-only per-tenant cycle audit
// trail and the daily per-tenant external-API-call counters. The writer is
// async and buffered, mirroring internal/audit.Writer's flush loop, because
// a cycle must never block on the audit write succeeding.
package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/pkg/evaluator"
)

// RuleEvaluation is one rule's per-cycle evaluation breakdown (§3
// AuditEntry "per-rule evaluation records").
type RuleEvaluation struct {
	RuleID  uuid.UUID         `json:"ruleId"`
	Name    string            `json:"name"`
	Outcome evaluator.Outcome `json:"outcome"`
}

// Entry is one append-only per-tenant cycle record (§3 AuditEntry).
type Entry struct {
	CycleID     uuid.UUID `json:"cycleId"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Triggered   bool      `json:"triggered"`

	RuleID   *uuid.UUID `json:"ruleId,omitempty"`
	RuleName string     `json:"ruleName,omitempty"`

	RulesEvaluated []RuleEvaluation `json:"rulesEvaluated,omitempty"`

	ActionTaken      string     `json:"actionTaken"` // applied, continued, cleared, preempted, idle, blackout, quickcontrol, clear_failed, apply_failed
	ActiveRuleBefore *uuid.UUID `json:"activeRuleBefore,omitempty"`
	ActiveRuleAfter  *uuid.UUID `json:"activeRuleAfter,omitempty"`

	CycleDurationMs int64 `json:"cycleDurationMs"`

	ManualEnd bool   `json:"manualEnd,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Severity is set only for alert-class entries (clear-failure
	// escalation, §4.6 step 9.2).
	Severity string `json:"severity,omitempty"`
}

// Store is the persistence dependency audit entries are flushed to.
type Store interface {
	AppendAudit(ctx context.Context, schema string, entry Entry) error
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

type queued struct {
	schema string
	entry  Entry
}

// Writer is an async, buffered audit log writer (mirrors
// internal/audit.Writer's channel + ticker flush loop).
type Writer struct {
	store   Store
	logger  *slog.Logger
	entries chan queued
	wg      sync.WaitGroup

	onAlert func(schema string, entry Entry)
}

// NewWriter creates an audit Writer. Call Start to begin flushing.
func NewWriter(store Store, logger *slog.Logger) *Writer {
	return &Writer{
		store:   store,
		logger:  logger,
		entries: make(chan queued, bufferSize),
	}
}

// OnAlert registers a callback invoked synchronously (before buffering) for
// any entry with ActionTaken == "clear_failed" and Severity == "critical"
// — the clear-failure-≥5-attempts escalation (§4.6 step 9.2, §7). Used to
// wire pkg/notify without auditlog depending on it.
func (w *Writer) OnAlert(fn func(schema string, entry Entry)) {
	w.onAlert = fn
}

// Start begins the background flush loop. Returns when ctx is cancelled
// and all pending entries are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Append enqueues a cycle audit entry. Never blocks: if the buffer is full
// the entry is dropped and a warning logged.
func (w *Writer) Append(schema string, entry Entry) {
	if entry.Severity == "critical" && w.onAlert != nil {
		w.onAlert(schema, entry)
	}
	select {
	case w.entries <- queued{schema: schema, entry: entry}:
	default:
		w.logger.Warn("audit buffer full, dropping entry", "tenant", schema, "action", entry.ActionTaken)
	}
}

// LogConfigChange is a convenience append for configuration mutations made
// through the HTTP collaborator (not a cycle, but still worth a trail
// entry for ROI/history readers to explain a change in observed behaviour).
func (w *Writer) LogConfigChange(schema string, detail json.RawMessage) {
	w.Append(schema, Entry{
		CycleID:     uuid.New(),
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
		ActionTaken: "config_updated",
		Reason:      string(detail),
	})
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]queued, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case q, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, q)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case q, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, q)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(batch []queued) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, q := range batch {
		if err := w.store.AppendAudit(ctx, q.schema, q.entry); err != nil {
			w.logger.Error("writing audit entry", "tenant", q.schema, "action", q.entry.ActionTaken, "error", err)
		}
	}
}
