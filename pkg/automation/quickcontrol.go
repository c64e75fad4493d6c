package automation

import (
	"time"

	"github.com/solarctl/solarctl/pkg/inverterclient"
	"github.com/solarctl/solarctl/pkg/rule"
)

// QuickControlOverride is the single per-tenant manual-override document
// (§3, §4.9). While Active and not expired, the cycle engine's rule
// evaluation is entirely short-circuited.
type QuickControlOverride struct {
	Active    bool                     `json:"active"`
	Segment   *inverterclient.Scheduler `json:"segment,omitempty"`
	StartedAt time.Time                `json:"startedAt,omitempty"`
	ExpiresAt time.Time                `json:"expiresAt,omitempty"`
	Source    string                   `json:"source,omitempty"`
}

// Expired reports whether the override's window has elapsed as of now.
func (q QuickControlOverride) Expired(now time.Time) bool {
	return q.Active && !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}

// StartRequest is the decoded body of POST /api/quickcontrol/start (§6).
type StartRequest struct {
	WorkMode rule.WorkMode `json:"workMode" validate:"required"`
	Power    int           `json:"power"`
	Minutes  int           `json:"minutes" validate:"required,min=1,max=720"`
}
