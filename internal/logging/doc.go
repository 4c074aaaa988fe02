// Package logging assembles structured slog loggers for the lockbox daemon and CLI.
//
// It owns the console and JSON handlers, routes output to stdout and the
// daemon log file, and copies request-scoped identifiers from a context onto
// every record logged through it. NewNop gives tests and optional wiring a
// logger that never fails.
package logging
