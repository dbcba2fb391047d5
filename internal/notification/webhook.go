package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint. The "text" field
// is a one-line rendering, so chat incoming-webhooks that only read "text"
// (Slack, Mattermost) show something useful without a custom receiver.
type WebhookNotifier struct {
	url     string
	headers http.Header
	client  *http.Client
	now     func() time.Time
}

// webhookField keeps alert fields in a stable order on the wire.
type webhookField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type webhookPayload struct {
	Text    string         `json:"text"`
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Fields  []webhookField `json:"fields,omitempty"`
	TS      string         `json:"ts"`
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		headers: http.Header{},
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func (w *WebhookNotifier) WithHeader(key, value string) *WebhookNotifier {
	w.headers.Set(key, value)
	return w
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.payload(alert))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	for k, vs := range w.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Level", string(alert.Level))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s %q: unexpected status %d", alert.Level, alert.Title, resp.StatusCode)
	}

	slog.Debug("webhook alert sent", "url", w.url, "title", alert.Title, "run_id", alert.RunID)
	return nil
}

func (w *WebhookNotifier) payload(alert Alert) webhookPayload {
	p := webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		RunID:   alert.RunID,
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	}

	var text strings.Builder
	fmt.Fprintf(&text, "[%s] %s", alert.Level, alert.Title)
	if alert.Message != "" {
		text.WriteString(": " + alert.Message)
	}
	for _, k := range alert.sortedFields() {
		p.Fields = append(p.Fields, webhookField{Name: k, Value: alert.Fields[k]})
		fmt.Fprintf(&text, " %s=%s", k, alert.Fields[k])
	}
	if alert.RunID != "" {
		text.WriteString(" (run " + alert.RunID + ")")
	}
	p.Text = text.String()
	return p
}
