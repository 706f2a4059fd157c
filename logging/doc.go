// Package logging provides a minimal logging interface and adapters for stepmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that engines, stores and the tool service use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZerologAdapter wrapping rs/zerolog
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(logging.Config{Backend: "zerolog", Level: logging.LogLevelInfo})
//	eng := engine.New(sessions, catalog, m, func(o *engine.Options) { o.Logger = logger })
//
// Messages are dotted lowercase event names followed by key/value pairs.
package logging
