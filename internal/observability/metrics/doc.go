// Package metrics exposes Prometheus collectors for HTTP traffic and wallet
// data-source fetches.
package metrics
