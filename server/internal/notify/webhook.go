package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/template"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// SlackTransport posts to a Slack incoming webhook. The channel's "url"
// setting overrides URL; its "channel" setting overrides Channel.
type SlackTransport struct {
	URL     string
	Channel string
	p       poster
}

// NewSlackTransport returns a SlackTransport using client (a 10s-timeout
// client when nil).
func NewSlackTransport(url, channel string, client *http.Client) *SlackTransport {
	return &SlackTransport{URL: url, Channel: channel, p: newPoster(client)}
}

func (t *SlackTransport) Send(ctx context.Context, ch types.Channel, c template.Rendered, a types.Alert) error {
	url := firstNonEmpty(ch.Setting("url"), t.URL)
	payload := map[string]string{
		"text": fmt.Sprintf("*%s %s*\n%s", severityLabel(a.Severity), c.Subject, c.Body),
	}
	if target := firstNonEmpty(ch.Setting("channel"), t.Channel); target != "" {
		payload["channel"] = target
	}
	return t.p.postJSON(ctx, url, payload, nil)
}

// TeamsTransport posts a MessageCard to a Microsoft Teams connector URL.
type TeamsTransport struct {
	URL string
	p   poster
}

func NewTeamsTransport(url string, client *http.Client) *TeamsTransport {
	return &TeamsTransport{URL: url, p: newPoster(client)}
}

func (t *TeamsTransport) Send(ctx context.Context, ch types.Channel, c template.Rendered, a types.Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a),
		"summary":    a.Name,
		"title":      c.Subject,
		"text":       strings.ReplaceAll(c.Body, "\n", "<br>"),
	}
	return t.p.postJSON(ctx, firstNonEmpty(ch.Setting("url"), t.URL), payload, nil)
}

// PagerDutyTransport sends Events API v2 trigger/resolve events keyed by
// the alert fingerprint. The routing key comes from the channel's
// "routing_key" setting.
type PagerDutyTransport struct {
	URL string
	p   poster
}

func NewPagerDutyTransport(client *http.Client) *PagerDutyTransport {
	return &PagerDutyTransport{URL: pagerDutyEventsURL, p: newPoster(client)}
}

func (t *PagerDutyTransport) Send(ctx context.Context, ch types.Channel, c template.Rendered, a types.Alert) error {
	key := ch.Setting("routing_key")
	if key == "" {
		return fmt.Errorf("pagerduty: routing_key not configured")
	}
	action := "trigger"
	if a.Status == types.StatusResolved {
		action = "resolve"
	}
	source := a.Source
	if source == "" {
		source = "alertd"
	}
	payload := map[string]interface{}{
		"routing_key":  key,
		"event_action": action,
		"dedup_key":    a.Fingerprint,
		"payload": map[string]interface{}{
			"summary":  c.Subject,
			"source":   source,
			"severity": string(a.Severity),
			"custom_details": map[string]interface{}{
				"body":             c.Body,
				"labels":           a.Labels,
				"escalation_level": a.EscalationLevel,
			},
		},
	}
	return t.p.postJSON(ctx, firstNonEmpty(ch.Setting("url"), t.URL), payload, nil)
}

// WebhookTransport posts the rendered content and the full alert as JSON.
// Channel config keys of the form "header.<Name>" add request headers.
type WebhookTransport struct {
	URL     string
	Headers map[string]string
	p       poster
}

func NewWebhookTransport(url string, headers map[string]string, client *http.Client) *WebhookTransport {
	return &WebhookTransport{URL: url, Headers: headers, p: newPoster(client)}
}

func (t *WebhookTransport) Send(ctx context.Context, ch types.Channel, c template.Rendered, a types.Alert) error {
	headers := make(map[string]string, len(t.Headers))
	for k, v := range t.Headers {
		headers[k] = v
	}
	for k, v := range ch.Config {
		if name, ok := strings.CutPrefix(k, "header."); ok {
			headers[name] = v
		}
	}
	payload := map[string]interface{}{
		"channel": ch.ID,
		"subject": c.Subject,
		"body":    c.Body,
		"alert":   a,
	}
	return t.p.postJSON(ctx, firstNonEmpty(ch.Setting("url"), t.URL), payload, headers)
}

// SMSGatewayTransport posts {"to", "text"} to an HTTP SMS gateway. The
// recipient list comes from the channel's "to" setting.
type SMSGatewayTransport struct {
	URL string
	p   poster
}

func NewSMSGatewayTransport(url string, client *http.Client) *SMSGatewayTransport {
	return &SMSGatewayTransport{URL: url, p: newPoster(client)}
}

func (t *SMSGatewayTransport) Send(ctx context.Context, ch types.Channel, c template.Rendered, _ types.Alert) error {
	to := splitList(ch.Setting("to"))
	if len(to) == 0 {
		return fmt.Errorf("sms: no recipients configured")
	}
	payload := map[string]interface{}{
		"to":   to,
		"text": c.Subject,
	}
	return t.p.postJSON(ctx, firstNonEmpty(ch.Setting("url"), t.URL), payload, nil)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
