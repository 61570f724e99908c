// Package logging builds the service's slog loggers and carries request
// and contract tags through contexts.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New writes to stdout. See NewWithWriter.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter returns a JSON logger when format is "json" and a text
// logger otherwise. Debug level adds source locations. Attributes whose key
// looks like a credential are redacted.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: redact,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel accepts slog level names in any case ("debug", "WARN",
// "info+2"). Anything else is info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

var secretKeys = []string{"secret", "password", "private_key", "signer_key", "api_key"}

func redact(_ []string, a slog.Attr) slog.Attr {
	k := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return slog.String(a.Key, "[redacted]")
		}
	}
	return a
}

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	contractKey
)

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContract tags ctx with the contract a session protects.
func WithContract(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, contractKey, address)
}

func Contract(ctx context.Context) string {
	addr, _ := ctx.Value(contractKey).(string)
	return addr
}

// L is FromContext plus whichever of request_id and contract ctx carries.
func L(ctx context.Context) *slog.Logger {
	var attrs []any
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if addr := Contract(ctx); addr != "" {
		attrs = append(attrs, slog.String("contract", addr))
	}
	if len(attrs) == 0 {
		return FromContext(ctx)
	}
	return FromContext(ctx).With(attrs...)
}
