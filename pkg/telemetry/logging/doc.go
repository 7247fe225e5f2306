// Package logging configures the process-wide structured logger on
// log/slog, with JSON or text output and a configurable level.
package logging
