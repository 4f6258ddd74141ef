// Package sinks implements progress consumers: structured logging,
// Prometheus collectors and a buffered channel for in-process subscribers.
package sinks
