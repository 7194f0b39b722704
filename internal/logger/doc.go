// Package logger wraps zap with a global sugared logger, console output on
// stderr, level parsing, and context helpers (ToContext, FromContext,
// WithName, WithKV, WithFields).
//
// Services accept a context and log through it, so every step of a deploy is
// tagged with the component name and the revision being shipped.
package logger
