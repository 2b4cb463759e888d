// Package telemetry wires the optional OpenTelemetry tracing pipeline and
// the Prometheus-backed metrics collector, grounded on the teacher's own
// internal/observability config shape (MetricsConfig/TracingConfig) even
// though the teacher never finished committing its implementation files —
// only its tests and go.mod requirements survived. Disabled by default: a
// project with no telemetry section in .sprint.yml gets a no-op tracer
// provider and a metrics collector whose recording calls are all no-ops.
package telemetry

// MetricsConfig controls the Prometheus metrics collector.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// TracingConfig controls the OpenTelemetry tracer provider and its exporter.
// Exporter is one of "jaeger", "zipkin", "otlp"; any other value (including
// empty) disables export but still installs a working no-op-exporting
// TracerProvider so span creation calls never nil-panic.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// DefaultMetricsConfig matches the teacher's observability.DefaultConfig
// metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, PrometheusPort: 9090}
}

// DefaultTracingConfig matches the teacher's observability.DefaultConfig
// tracing defaults, except Enabled defaults false here: a daemon with no
// .sprint.yml telemetry section shouldn't dial out anywhere.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		Exporter:    "jaeger",
		SampleRate:  1.0,
		ServiceName: "sprintd",
	}
}
