// Package health carries the observability surface: Prometheus collectors
// implementing the scheduler's Observer, queue gauges sampled at scrape
// time, and a named-probe health checker backing /v1/healthz.
package health
