// Package observability exposes tame's runtime counters.
//
// Metrics counts scanned lines, notifications and channel deliveries by
// consuming the event bus. Server serves /metrics, /healthz and the
// net/http/pprof handlers on an optional loopback listener.
package observability
