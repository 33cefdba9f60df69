// Package logging provides structured logging for the AV bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// Protocol packages keep their own minimal Logger interfaces
// (Debug/Info/Warn/Error with key-value pairs) and never import this
// package directly; *Logger satisfies those interfaces, so main wires
// one logger through the whole tree.
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys.
// Config sections redact their own secrets; pass cfg.String() rather
// than raw field values when logging configuration.
package logging
