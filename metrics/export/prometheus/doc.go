// Package prometheus renders goAuthClient counters in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goAuthClient.Client] and exposes an
// [http.Handler]. Counter names are prefixed goauthclient_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate client state.
package prometheus
