// Package notify sends best-effort operator notifications for events an
// on-call human should see without polling metrics: abandoned jobs and
// non-maintain scaling actions. Grounded on wisbric-nightowl's
// github.com/slack-go/slack dependency. Never on the critical path: a
// failed notification is logged and swallowed, never propagated as a
// control-plane error.
package notify

import (
	"strconv"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Notifier posts to a single configured Slack webhook/channel. A nil
// webhook URL makes every call a silent no-op, so operators can run
// without Slack configured at all.
type Notifier struct {
	webhookURL string
	channel    string
	log        zerolog.Logger
}

func New(webhookURL, channel string, log zerolog.Logger) *Notifier {
	return &Notifier{webhookURL: webhookURL, channel: channel, log: log.With().Str("subcomponent", "notify").Logger()}
}

func (n *Notifier) enabled() bool { return n != nil && n.webhookURL != "" }

func (n *Notifier) post(text string) {
	if !n.enabled() {
		return
	}
	msg := &slack.WebhookMessage{Channel: n.channel, Text: text}
	if err := slack.PostWebhook(n.webhookURL, msg); err != nil {
		n.log.Warn().Err(err).Msg("slack notification failed")
	}
}

// ScalingEvent announces a fleet change.
func (n *Notifier) ScalingEvent(action string, current, target int) {
	n.post(statusEmoji(action) + " scaling " + action + ": " + strconv.Itoa(current) + " -> " + strconv.Itoa(target) + " workers")
}

// JobAbandoned announces a job that exhausted its retries.
func (n *Notifier) JobAbandoned(jobID, userID string) {
	n.post(":warning: job " + jobID + " (user " + userID + ") abandoned after exhausting retries")
}

func statusEmoji(action string) string {
	if action == "scale_up" {
		return ":arrow_up:"
	}
	return ":arrow_down:"
}
