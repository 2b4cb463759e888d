package telemetry

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func outcomeAttr(passed bool) attribute.KeyValue {
	if passed {
		return attribute.String("outcome", "pass")
	}
	return attribute.String("outcome", "fail")
}

// MetricsCollector records sprint-daemon counters through the OpenTelemetry
// metrics SDK, exported to Prometheus's text format via the otel Prometheus
// bridge registered on a dedicated client_golang registry (never the global
// one, so a daemon embedded in a larger process never collides with its
// host's own metrics). Mirrors the teacher's MetricsCollector shape
// (NewMetricsCollector/RecordX/Shutdown), renamed from LLM/tool-call
// counters to this daemon's own event/verification/webhook/persistence
// counters.
type MetricsCollector struct {
	enabled bool

	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	eventsBroadcast   metric.Int64Counter
	verificationRuns  metric.Int64Counter
	webhookDeliveries metric.Int64Counter
	persistenceWrites metric.Int64Counter
	activeSprints     metric.Int64UpDownCounter
}

// NewMetricsCollector builds a collector per cfg. A disabled config returns
// a non-nil collector whose Record* methods are all no-ops, so callers
// never need a nil check.
func NewMetricsCollector(cfg MetricsConfig) (*MetricsCollector, error) {
	if !cfg.Enabled {
		return &MetricsCollector{enabled: false}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: new prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("teamclaude/sprint")

	c := &MetricsCollector{enabled: true, registry: registry, provider: provider}

	if c.eventsBroadcast, err = meter.Int64Counter("sprint_events_broadcast_total",
		metric.WithDescription("broadcast bus events fanned out to websocket clients")); err != nil {
		return nil, err
	}
	if c.verificationRuns, err = meter.Int64Counter("sprint_verification_runs_total",
		metric.WithDescription("verification gate invocations, labeled by outcome")); err != nil {
		return nil, err
	}
	if c.webhookDeliveries, err = meter.Int64Counter("sprint_webhook_deliveries_total",
		metric.WithDescription("webhook delivery attempts, labeled by outcome")); err != nil {
		return nil, err
	}
	if c.persistenceWrites, err = meter.Int64Counter("sprint_persistence_writes_total",
		metric.WithDescription("state.json writes, both debounced and forced flush")); err != nil {
		return nil, err
	}
	if c.activeSprints, err = meter.Int64UpDownCounter("sprint_active_sprints",
		metric.WithDescription("sprints currently initialized and not yet stopped")); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordEventBroadcast implements broadcast.Metrics.
func (c *MetricsCollector) RecordEventBroadcast(eventType string) {
	if !c.enabled {
		return
	}
	c.eventsBroadcast.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordVerificationRun implements verify.Metrics.
func (c *MetricsCollector) RecordVerificationRun(ctx context.Context, passed bool) {
	if !c.enabled {
		return
	}
	c.verificationRuns.Add(ctx, 1, metric.WithAttributes(outcomeAttr(passed)))
}

// RecordWebhookDelivery implements webhook.Metrics.
func (c *MetricsCollector) RecordWebhookDelivery(ctx context.Context, event string, err error) {
	if !c.enabled {
		return
	}
	c.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(outcomeAttr(err == nil)))
}

// RecordPersistenceWrite implements persistence.Metrics.
func (c *MetricsCollector) RecordPersistenceWrite() {
	if !c.enabled {
		return
	}
	c.persistenceWrites.Add(context.Background(), 1)
}

// IncrementActiveSprints records a new sprint initialization.
func (c *MetricsCollector) IncrementActiveSprints(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.activeSprints.Add(ctx, 1)
}

// DecrementActiveSprints records a sprint stop.
func (c *MetricsCollector) DecrementActiveSprints(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.activeSprints.Add(ctx, -1)
}

// Handler returns the /metrics HTTP handler. Returns 404 when metrics are
// disabled rather than nil, so routers can wire it unconditionally.
func (c *MetricsCollector) Handler() http.Handler {
	if !c.enabled || c.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and tears down the meter provider.
func (c *MetricsCollector) Shutdown(ctx context.Context) error {
	if !c.enabled || c.provider == nil {
		return nil
	}
	return c.provider.Shutdown(ctx)
}
