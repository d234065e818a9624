// Package observability provides a metrics extension that records
// engine-wide lifecycle counters through OpenTelemetry. Register it on
// the extension registry to track signal intake, admission outcomes,
// run completions and failures, and action durations.
package observability
