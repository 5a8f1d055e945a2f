// Package logging provides centralized logging for the relay.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// NewLogger creates a new slog.Logger with the specified level.
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// ParseLevel maps a configured level name to a slog.Level.
// Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithIdentity returns a new logger tagged with the acting identity.
func WithIdentity(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(slog.String("identity", id))
}

// WithJob returns a new logger tagged with a dispatch job id.
func WithJob(logger *slog.Logger, jobID string) *slog.Logger {
	return logger.With(slog.String("job_id", jobID))
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Redactor masks destination addresses before they reach the log.
type Redactor struct {
	// Disabled turns redaction off (log_addresses = true).
	Disabled bool
}

// Address returns addr with everything but its last four characters
// replaced by '*'. Email addresses keep their domain.
func (r Redactor) Address(addr string) string {
	if r.Disabled {
		return addr
	}
	return RedactAddress(addr)
}

// Text replaces every occurrence of addr in s with its redacted form.
func (r Redactor) Text(s, addr string) string {
	if r.Disabled || addr == "" {
		return s
	}
	return strings.ReplaceAll(s, addr, RedactAddress(addr))
}

// RedactAddress masks a destination address for logging. Masking counts
// characters, not bytes.
func RedactAddress(addr string) string {
	local, domain, isEmail := strings.Cut(addr, "@")
	if isEmail {
		lr := []rune(local)
		if len(lr) <= 1 {
			return "*@" + domain
		}
		return string(lr[:1]) + strings.Repeat("*", len(lr)-1) + "@" + domain
	}
	const keep = 4
	ar := []rune(addr)
	if len(ar) <= keep {
		return strings.Repeat("*", len(ar))
	}
	return strings.Repeat("*", len(ar)-keep) + string(ar[len(ar)-keep:])
}
