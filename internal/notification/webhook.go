package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

// DefaultWebhookTimeout bounds one webhook request.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookPayload is the JSON body POSTed to webhook receivers.
type WebhookPayload struct {
	Rule         string            `json:"rule"`
	Device       string            `json:"device"`
	Severity     entities.Severity `json:"severity"`
	CurrentValue float64           `json:"current_value"`
	Threshold    *float64          `json:"threshold"`
	ThresholdMin *float64          `json:"threshold_min,omitempty"`
	ThresholdMax *float64          `json:"threshold_max,omitempty"`
	Message      string            `json:"message"`
	TriggeredAt  time.Time         `json:"triggered_at"`
}

// WebhookChannel POSTs a JSON payload to config["url"]. Any non-2xx reply
// is a failure. An optional config["headers"] object is sent as request
// headers.
type WebhookChannel struct {
	client *resty.Client
	// urlKey is the config key holding the target URL.
	urlKey string
}

// NewWebhookChannel creates a webhook channel. A zero timeout takes
// DefaultWebhookTimeout.
func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "envsense-webhook/1")
	return &WebhookChannel{client: client, urlKey: "url"}
}

// Client exposes the underlying HTTP client.
func (w *WebhookChannel) Client() *resty.Client {
	return w.client
}

// withURLKey returns a copy reading the target from a different config key.
func (w *WebhookChannel) withURLKey(key string) *WebhookChannel {
	return &WebhookChannel{client: w.client, urlKey: key}
}

func (w *WebhookChannel) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	target := msg.Config.ConfigString(w.urlKey)
	if target == "" {
		return Outcome{}, deliveryError(entities.ChannelWebhook, fmt.Errorf("webhook %s is not configured", w.urlKey))
	}

	payload := WebhookPayload{
		Rule:         msg.RuleName,
		Device:       msg.DeviceName,
		Severity:     msg.Severity,
		CurrentValue: msg.CurrentValue,
		Threshold:    msg.Threshold,
		ThresholdMin: msg.ThresholdMin,
		ThresholdMax: msg.ThresholdMax,
		Message:      msg.Text,
		TriggeredAt:  msg.TriggeredAt.UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, deliveryError(entities.ChannelWebhook, fmt.Errorf("failed to encode webhook payload: %w", err))
	}
	out := Outcome{Recipient: redactURL(target), Content: string(body)}

	req := w.client.R().SetContext(ctx).SetBody(body)
	if headers, ok := msg.Config.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.SetHeader(k, s)
			}
		}
	}

	resp, err := req.Post(target)
	if err != nil {
		return out, deliveryError(entities.ChannelWebhook, fmt.Errorf("webhook request failed: %w", err))
	}
	if !resp.IsSuccess() {
		return out, deliveryError(entities.ChannelWebhook, fmt.Errorf("webhook returned status %d", resp.StatusCode()))
	}
	return out, nil
}

// redactURL drops user info and query parameters, which often carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
