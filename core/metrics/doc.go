// Package metrics defines the sink interfaces used to export dispatch
// outcomes. Implementations such as the Prometheus and InfluxDB sinks live in
// infra/metrics and register themselves with RegisterMetricsSink; the factory
// returns a MultiSink automatically when several sinks are configured.
package metrics
