// Package infra holds the adapters behind the core interfaces: the MQTT
// transport, the backend HTTP client, metric sinks and Sentry monitoring.
// Core packages never import infra.
package infra
