// Package logger provides structured logging for the application using the
// standard library log/slog package: a JSON logger configured from
// config.ServerConfig, context propagation of request- and task-scoped
// loggers, and helpers for asserting on log output in tests.
package logger
