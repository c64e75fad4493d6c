// Package automation implements C6 (the automation cycle engine) and C9
// (quick-control override): the per-tenant state machine that decides, once
// per cycle, whether to start, continue, preempt, or clear an active rule,
// and drives the apply/verify/clear protocol against the inverter.
package automation

import (
	"time"

	"github.com/google/uuid"

	"github.com/solarctl/solarctl/pkg/inverterclient"
)

// CurtailmentState is the embedded curtailment sub-state (§3 "curtailment").
type CurtailmentState struct {
	Active     bool      `json:"active"`
	LastChange time.Time `json:"lastChange,omitempty"`
}

// AutomationState is the single per-tenant state document the engine reads
// and mutates (§3 AutomationState). Nothing outside the engine writes it
// except the HTTP collaborator flipping Enabled via config, which the
// engine observes through tenantconfig.Config rather than this document.
type AutomationState struct {
	LastCheck            int64             `json:"lastCheck"` // epoch millis
	ActiveRule           *uuid.UUID        `json:"activeRule,omitempty"`
	ActiveRuleName       string            `json:"activeRuleName,omitempty"`
	ActiveSegment        *inverterclient.Scheduler `json:"activeSegment,omitempty"`
	ActiveSegmentEnabled bool              `json:"activeSegmentEnabled"`
	InBlackout           bool              `json:"inBlackout"`
	SegmentsCleared       bool             `json:"segmentsCleared"`
	Curtailment          CurtailmentState  `json:"curtailment"`
	ClearFailureAttempts int               `json:"clearFailureAttempts"`
}

// LastCheckTime converts LastCheck to a time.Time for comparisons.
func (s AutomationState) LastCheckTime() time.Time {
	if s.LastCheck == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastCheck)
}
