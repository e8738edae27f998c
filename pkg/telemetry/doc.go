// Package telemetry wires OpenTelemetry tracing and meters for the domain mask.
//
// It centralises trace provider setup, applies service resource attributes, and
// offers helpers that attach rewrite outcomes to spans and request metrics so
// operators can correlate masking work with upstream behaviour.
package telemetry
