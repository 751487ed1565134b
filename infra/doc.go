// Package infra groups the adapters behind the dispatch core: the MQTT
// bridge to technician and client apps, the PostgreSQL demande store, the
// Prometheus and InfluxDB sinks, zerolog and Sentry. Adapters import core
// packages, never the reverse.
package infra
