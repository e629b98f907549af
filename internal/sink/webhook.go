package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

// WebhookSink POSTs snapshots and alerts as JSON to a single endpoint.
// Failed deliveries are not retried.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

// webhookPayload is the envelope POSTed to the endpoint. Type is
// "snapshot" or "alert"; exactly one of the other fields is set.
type webhookPayload struct {
	Type     string                 `json:"type"`
	Snapshot *model.InsightSnapshot `json:"snapshot,omitempty"`
	Alert    *model.AlertEvent      `json:"alert,omitempty"`
}

// NewWebhookSink builds a sink POSTing to url. token, when non-empty,
// is sent as a bearer token.
func NewWebhookSink(url, token string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// WriteSnapshot POSTs the snapshot wrapped in a typed envelope.
func (s *WebhookSink) WriteSnapshot(ctx context.Context, snap *model.InsightSnapshot) error {
	return s.post(ctx, webhookPayload{Type: "snapshot", Snapshot: snap})
}

// WriteAlert POSTs the alert wrapped in a typed envelope.
func (s *WebhookSink) WriteAlert(ctx context.Context, ev *model.AlertEvent) error {
	return s.post(ctx, webhookPayload{Type: "alert", Alert: ev})
}

func (s *WebhookSink) post(ctx context.Context, payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
