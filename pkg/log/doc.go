// Package log is the structured logging facade of the server.
//
// Code logs through the Logger interface with typed Field helpers:
//
//	l := log.NewLogger(log.WithLevel(log.InfoLevel), log.WithFormatter(&log.TextFormatter{}))
//	l = l.With(log.Component("timelines"))
//	l.Info("timeline created", log.EventType("orders"), log.Int("order", 2))
//
// BaseLogger is backed by log/slog: entries are built as slog records and
// rendered by a bridge handler through the configured Formatter and Outputs.
// Request-scoped fields travel in the context; HTTP middleware attaches the
// client with ContextWithFields and services pick it up with WithContext.
//
// ApplyConfig builds a logger from Config, including key redaction and
// per-message sampling. RedirectStdLog routes the global standard logger,
// used by Pebble and sarama, through a Logger.
package log
