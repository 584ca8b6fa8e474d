// Package metrics defines the gateway's Prometheus collectors and the HTTP
// middleware that records request counts and latency per route.
package metrics
