// Package sinks implements concrete snapshot consumers: the atomic status
// file, Prometheus gauges, and structured logging. Each sink satisfies the
// progress.Sink interface and is safe for repeated Publish/Close cycles.
package sinks
