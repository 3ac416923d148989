// Package notify delivers the "job finished" signal. Delivery is
// fire-and-forget: the ledger has already settled by the time a notification
// goes out, and a delivery failure must never roll back or re-trigger credit
// operations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Event describes a job reaching a terminal state.
type Event struct {
	JobID          string `json:"job_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
	ResultImageRef string `json:"result_image_ref,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Notifier delivers terminal-state events. Implementations must not return
// errors that a caller could act on; logging is the only failure channel.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the log. Useful in development and as the
// fallback when no webhook is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds the log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	n.logger.Info().
		Str("job_id", event.JobID).
		Str("user_id", event.UserID).
		Str("status", event.Status).
		Msg("notify: job finished")
}

const webhookTimeout = 10 * time.Second

// WebhookNotifier POSTs events to a configured URL with its own timeout, so a
// slow receiver cannot stall job resolution.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier builds the webhook notifier.
func NewWebhookNotifier(url string, client *http.Client, logger zerolog.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	return &WebhookNotifier{url: url, client: client, logger: logger}
}

// Notify posts the event. Failures are logged and dropped.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Str("job_id", event.JobID).Msg("notify: encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Error().Err(err).Str("job_id", event.JobID).Msg("notify: build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("job_id", event.JobID).Msg("notify: webhook delivery failed")
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Str("job_id", event.JobID).Msg("notify: webhook rejected event")
	}
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
