// Package prometheus renders goGuard metrics in the Prometheus text format.
//
// [NewExporter] wraps a [goGuard.Guard] and exposes an [http.Handler] for a
// scrape endpoint. Counter names follow goguard_*_total and the one
// histogram is goguard_inspect_latency_seconds.
//
// Nothing is registered globally; callers mount Handler where they want it.
package prometheus
