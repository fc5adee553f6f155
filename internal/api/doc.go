// Package api exposes the operational HTTP surface of the daemon: health
// checks, recent conversation turns, and Prometheus-style metrics.
package api
