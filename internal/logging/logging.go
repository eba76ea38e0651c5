// Package logging builds the JSON logger shared by every function and the
// field helpers that keep log keys consistent.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/lambdacontext"
)

// Common field names
const (
	FieldFunction  = "function"
	FieldRequestID = "request_id"
	FieldMessageID = "message_id"
	FieldAttempt   = "attempt"
	FieldCount     = "count"
	FieldStatus    = "status"
	FieldBody      = "body"
	FieldError     = "error"
)

// New returns a JSON logger writing to w at the named level
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug, info, warn and error to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ForInvocation adds the Lambda request id to l when ctx carries one
func ForInvocation(ctx context.Context, l *slog.Logger) *slog.Logger {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return l.With(RequestID(lc.AwsRequestID))
	}
	return l
}

// Function returns a slog attribute for the function name.
func Function(name string) slog.Attr {
	return slog.String(FieldFunction, name)
}

// RequestID returns a slog attribute for the invocation request id.
func RequestID(id string) slog.Attr {
	return slog.String(FieldRequestID, id)
}

// MessageID returns a slog attribute for a queue message id.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Attempt returns a slog attribute for a delivery attempt count.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Count returns a slog attribute for a number of items.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Status returns a slog attribute for a HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Body returns a slog attribute for a raw response body.
func Body(b string) slog.Attr {
	return slog.String(FieldBody, b)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
