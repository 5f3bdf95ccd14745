// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/config"
)

// New builds the process logger on stdout. See NewWithWriter.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return NewWithWriter(cfg, dev, os.Stdout)
}

// NewWithWriter configures level ("trace".."error", default info), format
// ("json" or "console"; dev forces console) and optional 1-in-100 sampling
// of debug and info lines outside dev.
func NewWithWriter(cfg config.LogConfig, dev bool, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond

	if dev || strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(w).Level(level).With().Timestamp().Str("service", "checkout")
	if dev {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	if cfg.Sampling && !dev {
		logger = logger.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: 100},
			InfoSampler:  &zerolog.BasicSampler{N: 100},
		})
	}
	return &logger
}

type ctxKey int

const (
	keyTraceID ctxKey = iota
	keyUserID
	keySessionID
	keyClientKey
)

var ctxFields = []struct {
	key    ctxKey
	field  string
	redact bool
}{
	{keyTraceID, "trace_id", false},
	{keyUserID, "user_id", false},
	{keySessionID, "session_id", false},
	{keyClientKey, "client_key", true},
}

// With returns base enriched with the request fields found in ctx. The client
// key is a bearer credential for its session and is always redacted.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	for _, f := range ctxFields {
		v, ok := ctx.Value(f.key).(string)
		if !ok || v == "" {
			continue
		}
		if f.redact {
			v = Redact(v, false)
		}
		l = l.Str(f.field, v)
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end of name at trace level.
//
//	defer logging.TraceDuration(logger, "Orchestrator.finalize")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact keeps a short preview of s outside dev.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyTraceID, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

func WithSessID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keySessionID, id)
}

func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyClientKey, key)
}

func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(keyTraceID).(string)
	return v
}
