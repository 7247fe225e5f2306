// Package metrics registers and records the service's Prometheus
// metrics.
//
// Collector owns the registry and all metric families. AccountMetrics
// covers account status, in-flight counts and token refresh outcomes;
// RelayMetrics covers request totals, durations, retries and token
// throughput. Handler exposes the registry in exposition format.
package metrics
