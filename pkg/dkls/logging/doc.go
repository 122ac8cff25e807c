// Package logging provides a minimal logging facade for the dkls session
// layer.
//
// The Logger interface wraps a subset of the standard library's log/slog
// functionality. It is intentionally small so applications can provide their
// own implementation for testing, redaction policies, or integration with an
// existing logging system. Sessions accept a Logger through their options
// and emit round transitions at debug level; they never log payloads, seeds,
// or secret material. Use Redacted when an attribute would otherwise carry a
// sensitive value.
package logging
