// Package logging configures structured JSON logging for amanrank.
//
// Logs go to stderr and, when a file path is configured, to a size-rotated
// file under ~/.amanrank/logs/. Components log snake_case event names through
// the *slog.Logger they are given, falling back to slog.Default().
package logging
