package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// JobTypeWebhookDeliver is the built-in job type for outbound webhook
// delivery.
const JobTypeWebhookDeliver = "webhook.deliver"

// WebhookDeliveryPayload is the payload for a webhook.deliver job.
type WebhookDeliveryPayload struct {
	URL     string            `json:"url"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// WebhookDelivery delivers webhook payloads to external endpoints. Each
// target host gets its own circuit breaker, so one failing receiver cannot
// burn the retry budget of unrelated deliveries through cascading slowness.
type WebhookDelivery struct {
	breakers *BreakerRegistry
	client   *http.Client
	logger   *log.Helper
}

// NewWebhookDelivery creates the delivery handler.
func NewWebhookDelivery(breakers *BreakerRegistry, logger log.Logger) *WebhookDelivery {
	return &WebhookDelivery{
		breakers: breakers,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: log.NewHelper(logger),
	}
}

// Handle implements JobHandler for webhook.deliver jobs.
//
// Malformed payloads and 4xx responses are permanent (retrying cannot fix
// them); network errors and 5xx responses are transient and retryable.
func (d *WebhookDelivery) Handle(ctx context.Context, job *model.Job) error {
	var payload WebhookDeliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("invalid webhook payload: %w", err))
	}

	target, err := url.Parse(payload.URL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return Permanent(fmt.Errorf("invalid webhook url %q", payload.URL))
	}

	breaker := d.breakers.GetOrCreate("webhook:"+target.Host, nil)

	// A 4xx response means the receiver is healthy but rejects this
	// payload: a success for the breaker, a permanent failure for the job.
	result, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		status, derr := d.deliver(ctx, &payload)
		return status, derr
	})
	if err == nil {
		if status, ok := result.(int); ok && status >= 400 {
			err = Permanent(fmt.Errorf("webhook rejected with status %d", status))
		}
	}
	if err != nil {
		d.logger.Warnw("webhook delivery failed",
			"job_id", job.ID,
			"url", payload.URL,
			"error", err)
	}
	return err
}

// deliver performs one POST and returns the response status. Network
// failures and 5xx responses are errors (they count against the breaker);
// any completed response below 500 is a breaker success.
func (d *WebhookDelivery) deliver(ctx context.Context, payload *WebhookDeliveryPayload) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
