// Package notify implements C8's critical-alert channel: posting a Slack
// message when the automation engine reaches a state that needs a human
// (clear-failure escalation, quick-control expiry), mirroring
// pkg/slack.Notifier's bot-token client and noop-when-unconfigured shape.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/solarctl/solarctl/pkg/auditlog"
)

// Notifier posts critical automation alerts to a Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. If botToken is empty the notifier is a
// noop (logging only) — Slack is an optional collaborator (§9 "optional,
// mirrors pkg/slack.Notifier").
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyCritical posts a critical-severity audit entry (clear-failure
// ≥5 attempts, §4.6 step 9.2) to Slack.
func (n *Notifier) NotifyCritical(schema string, entry auditlog.Entry) {
	if !n.IsEnabled() {
		n.logger.Warn("critical automation alert (slack disabled)",
			"tenant", schema, "action", entry.ActionTaken, "reason", entry.Reason)
		return
	}

	text := fmt.Sprintf(":rotating_light: solarctl: tenant %s — %s (cycle %s): %s",
		schema, entry.ActionTaken, entry.CycleID, entry.Reason)

	ctx := context.Background()
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting critical alert to slack", "tenant", schema, "error", err)
	}
}

// NotifyQuickControlExpired posts a notice that a quick-control override
// auto-expired and was cleared (§4.9).
func (n *Notifier) NotifyQuickControlExpired(schema string) {
	if !n.IsEnabled() {
		n.logger.Info("quick control expired (slack disabled)", "tenant", schema)
		return
	}

	text := fmt.Sprintf(":hourglass: solarctl: tenant %s — quick control override expired and was cleared", schema)
	ctx := context.Background()
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting quick control notice to slack", "tenant", schema, "error", err)
	}
}
