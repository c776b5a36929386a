// Package logger wraps zap for the packager.
//
// It keeps one global sugared logger with a console encoder writing to
// stderr, lets callers scope it through a context (ToContext, FromContext,
// WithName, WithKV) and exposes leveled helpers that take that context.
package logger
