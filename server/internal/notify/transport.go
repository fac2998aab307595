package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/template"
)

// Transport delivers rendered content to one kind of channel.
type Transport interface {
	Send(ctx context.Context, ch types.Channel, content template.Rendered, a types.Alert) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ch types.Channel, content template.Rendered, a types.Alert) error

func (f TransportFunc) Send(ctx context.Context, ch types.Channel, content template.Rendered, a types.Alert) error {
	return f(ctx, ch, content, a)
}

// poster POSTs JSON bodies.
type poster struct {
	client *http.Client
}

func newPoster(client *http.Client) poster {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return poster{client: client}
}

func (p poster) postJSON(ctx context.Context, url string, payload any, headers map[string]string) error {
	if url == "" {
		return fmt.Errorf("no url configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "[CRITICAL]"
	case types.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(a types.Alert) string {
	if a.Status == types.StatusResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case types.SeverityCritical:
		return "FF4F6A"
	case types.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
