// Package logger configures the process-wide slog logger and carries
// request-scoped loggers through a context.Context.
package logger
