// Package logger writes one JSON line per action. Every entry carries the
// service, action, hostname and request_id keys.
package logger

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	service string
	z       *zap.Logger
}

type Options struct {
	Level       string // debug, info, warn, error
	Development bool
}

func New(service string) *Logger {
	l, err := NewWithOptions(service, Options{Level: "info"})
	if err != nil {
		// only reachable on a broken stdout
		panic(err)
	}
	return l
}

func NewWithOptions(service string, opts Options) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("logger: level %q: %w", opts.Level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "json"
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableCaller = !opts.Development

	z, err := cfg.Build(zap.Fields(
		zap.String("service", service),
		zap.String("hostname", hostname()),
	))
	if err != nil {
		return nil, err
	}
	return &Logger{service: service, z: z}, nil
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{service: "nop", z: zap.NewNop()}
}

// FromZap wraps an existing zap logger, e.g. one built on an observer core.
func FromZap(service string, z *zap.Logger) *Logger {
	return &Logger{service: service, z: z.With(zap.String("service", service))}
}

// Named returns a logger for a sub-service sharing the same sink.
func (l *Logger) Named(service string) *Logger {
	return &Logger{service: service, z: l.z.With(zap.String("component", service))}
}

func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) log(lvl zapcore.Level, action string, fields map[string]any, err error) {
	ce := l.z.Check(lvl, action)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+3)
	zf = append(zf, zap.String("action", action))
	if _, ok := fields["request_id"]; !ok {
		zf = append(zf, zap.String("request_id", ""))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	if err != nil {
		zf = append(zf, zap.Dict("error",
			zap.String("msg", err.Error()),
			zap.String("stack", fmt.Sprintf("%T", err)),
		))
	}
	ce.Write(zf...)
}

func (l *Logger) Info(action string, fields map[string]any)  { l.log(zapcore.InfoLevel, action, fields, nil) }
func (l *Logger) Debug(action string, fields map[string]any) { l.log(zapcore.DebugLevel, action, fields, nil) }
func (l *Logger) Warn(action string, err error, fields map[string]any) {
	l.log(zapcore.WarnLevel, action, fields, err)
}
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log(zapcore.ErrorLevel, action, fields, err)
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Fields copies fields and adds the request id carried by ctx.
func Fields(ctx context.Context, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if id := RequestID(ctx); id != "" {
		out["request_id"] = id
	}
	return out
}

func hostname() string { h, _ := os.Hostname(); return h }
