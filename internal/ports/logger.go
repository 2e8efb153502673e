package ports

import "context"

// Logger is the leveled, structured logging surface used across the
// ledger engine. Implementations can be swapped without touching callers
// (standard log, zerolog, zap).
type Logger interface {
	// Debug logs diagnostic detail, typically suppressed in production.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs normal lifecycle events.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs conditions that self-heal or retry.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs failures together with their cause.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
