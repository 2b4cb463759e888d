// Package webhook delivers sprint lifecycle events to a configured HTTP
// endpoint: checkpoint_hit, task_escalated, task_completed, sprint_complete,
// token_budget_exceeded. Delivery is bounded and retried; failures are
// logged, never surfaced as a state invariant break (see spec §7).
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	jsonx "teamclaude/internal/shared/json"
	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/telemetry"
)

// Metrics records one counted observation per delivery attempt. Satisfied
// by *telemetry.MetricsCollector; optional, nil by default.
type Metrics interface {
	RecordWebhookDelivery(ctx context.Context, event string, err error)
}

// EventKind names a webhook-eligible lifecycle event.
type EventKind string

const (
	CheckpointHit      EventKind = "checkpoint_hit"
	TaskEscalated      EventKind = "task_escalated"
	TaskCompleted      EventKind = "task_completed"
	SprintComplete     EventKind = "sprint_complete"
	TokenBudgetExceeded EventKind = "token_budget_exceeded"
)

// Payload is the JSON body POSTed to the configured webhook URL.
type Payload struct {
	Event     EventKind `json:"event"`
	SprintID  string    `json:"sprintId"`
	TaskID    string    `json:"taskId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers webhook payloads. NopNotifier and HTTPNotifier both
// satisfy it, mirroring the composite-notifier shape used elsewhere in this
// codebase for fan-out notification delivery.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

// NopNotifier discards every payload; used when no webhook is configured.
type NopNotifier struct{}

// Notify is a no-op.
func (NopNotifier) Notify(context.Context, Payload) error { return nil }

// HTTPNotifier POSTs payloads to a single URL, filtered by an allowed event
// set and decorated with configured headers, with bounded retry.
type HTTPNotifier struct {
	url     string
	events  map[EventKind]bool
	headers map[string]string
	client  *http.Client
	logger  logging.Logger
	metrics Metrics
}

// AttachMetrics attaches m so every future delivery attempt is also counted.
func (n *HTTPNotifier) AttachMetrics(m Metrics) { n.metrics = m }

// Option configures an HTTPNotifier.
type Option func(*HTTPNotifier)

// WithHeaders sets the extra headers sent with every delivery.
func WithHeaders(headers map[string]string) Option {
	return func(n *HTTPNotifier) { n.headers = headers }
}

// WithEvents restricts delivery to the named events; empty means all events.
func WithEvents(events []string) Option {
	return func(n *HTTPNotifier) {
		if len(events) == 0 {
			return
		}
		n.events = make(map[EventKind]bool, len(events))
		for _, e := range events {
			n.events[EventKind(e)] = true
		}
	}
}

// WithHTTPClient overrides the default client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(n *HTTPNotifier) { n.client = c }
}

// NewHTTPNotifier constructs an HTTPNotifier posting to url.
func NewHTTPNotifier(url string, logger logging.Logger, opts ...Option) *HTTPNotifier {
	n := &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers p, retrying transient failures up to 3 times with
// exponential backoff and jitter. Delivery failures are logged and
// returned; the engine discards the returned error, so webhooks never
// block or fail the sprint.
func (n *HTTPNotifier) Notify(ctx context.Context, p Payload) error {
	if n.events != nil && !n.events[p.Event] {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "sprint.webhook.notify")
	defer func() { telemetry.EndSpan(span, nil) }()

	body, err := jsonx.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	op := func() (struct{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range n.headers {
			req.Header.Set(k, v)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("webhook: server error status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook: client error status %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4), // first attempt plus three retries
	)
	if n.metrics != nil {
		n.metrics.RecordWebhookDelivery(ctx, string(p.Event), err)
	}
	if err != nil {
		n.logger.Warn("webhook: delivery of %s failed after retries: %v", p.Event, err)
		return err
	}
	return nil
}
