package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"affiliate-gateway/internal/metrics"
	"affiliate-gateway/pkg/logging"
)

// WebhookPayload is the JSON body delivered to a tenant's endpoint.
type WebhookPayload struct {
	Event     string                 `json:"event"`
	TenantID  uint                   `json:"tenant_id"`
	DomainURL string                 `json:"domain_url"`
	Timestamp string                 `json:"timestamp"` // ISO 8601
	Data      map[string]interface{} `json:"data,omitempty"`
}

type webhookJob struct {
	tenantID uint
	event    string
	payload  map[string]interface{}
}

// WebhookDispatcher delivers signed event notifications to tenant
// endpoints from a worker goroutine, so the request path only enqueues.
// Consecutive delivery failures trip a circuit breaker that disables the
// tenant's webhook configuration entirely.
type WebhookDispatcher struct {
	tenants     *TenantService
	client      *http.Client
	queue       chan webhookJob
	maxFailures int
	wg          sync.WaitGroup
}

// NewWebhookDispatcher creates a dispatcher. Call Start before Dispatch.
func NewWebhookDispatcher(tenants *TenantService, timeout time.Duration, maxFailures, queueSize int) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WebhookDispatcher{
		tenants:     tenants,
		client:      &http.Client{Timeout: timeout},
		queue:       make(chan webhookJob, queueSize),
		maxFailures: maxFailures,
	}
}

// Start launches the delivery worker.
func (d *WebhookDispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for job := range d.queue {
			if err := d.Deliver(job.tenantID, job.event, job.payload); err != nil {
				logging.Errorf("webhook delivery failed for tenant %d event %s: %v",
					job.tenantID, job.event, err)
			}
		}
	}()
}

// Stop drains the queue and waits for the worker to exit.
func (d *WebhookDispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

// Dispatch enqueues a notification without blocking the caller. When the
// queue is full the event is dropped and logged.
func (d *WebhookDispatcher) Dispatch(tenantID uint, event string, payload map[string]interface{}) {
	select {
	case d.queue <- webhookJob{tenantID: tenantID, event: event, payload: payload}:
	default:
		logging.Warnf("webhook queue full, dropping %s for tenant %d", event, tenantID)
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
	}
}

// Deliver sends one notification synchronously. Events the tenant has not
// subscribed to are skipped, except security.* events which are always
// attempted while a webhook URL is configured. A tripped circuit breaker
// (webhook config cleared) drops the event before any HTTP attempt.
func (d *WebhookDispatcher) Deliver(tenantID uint, event string, payload map[string]interface{}) error {
	ctx := context.Background()

	t, err := d.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.WebhookURL == "" {
		return nil
	}
	if !t.SubscribedTo(event) && !strings.HasPrefix(event, "security.") {
		metrics.WebhookDeliveries.WithLabelValues("skipped").Inc()
		return nil
	}

	body := WebhookPayload{
		Event:     event,
		TenantID:  t.ID,
		DomainURL: t.DomainURL,
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      payload,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if sendErr := d.send(ctx, t.WebhookURL, t.WebhookSecret, event, jsonData); sendErr != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		failures, recErr := d.tenants.RecordWebhookFailure(ctx, t.ID, sendErr.Error())
		if recErr != nil {
			logging.Errorf("failed to record webhook failure for tenant %d: %v", t.ID, recErr)
		}
		if failures >= d.maxFailures {
			reason := fmt.Sprintf("disabled after %d consecutive delivery failures", failures)
			if err := d.tenants.DisableWebhook(ctx, t.ID, reason); err != nil {
				logging.Errorf("failed to disable webhook for tenant %d: %v", t.ID, err)
			} else {
				logging.Warnf("webhook for tenant %d (%s) %s", t.ID, t.DomainURL, reason)
			}
		}
		return sendErr
	}

	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	if err := d.tenants.RecordWebhookSuccess(ctx, t.ID); err != nil {
		logging.Errorf("failed to record webhook success for tenant %d: %v", t.ID, err)
	}
	return nil
}

// send performs one HTTP POST with the signature and event-type headers.
func (d *WebhookDispatcher) send(ctx context.Context, callbackURL, secret, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AffiliateGateway-Webhook/1.0")
	req.Header.Set("X-Event-Type", event)
	req.Header.Set("X-Signature", "sha256="+Signature(secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Signature computes the hex HMAC-SHA256 of body keyed by the tenant's
// webhook secret.
func Signature(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
