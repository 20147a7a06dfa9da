package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
	mu    sync.RWMutex
)

// Logger is the canonical structured logging interface used by the project.
// Keep it small and focused on key/value structured events.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	Sync() error
}

// noopLogger does nothing. It is the default so logging calls are safe
// before Init is invoked (tests, library use).
type noopLogger struct{}

func (n noopLogger) Infow(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Debugw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Warnw(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Errorw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Fatalw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Sync() error                                     { return nil }

var current Logger = noopLogger{}

// Init builds the global sugared logger at the given level ("debug",
// "info", "warn", "error"; empty falls back to LOG_LEVEL) and redirects the
// standard library logger into zap. Only the first call has any effect.
func Init(level string) *zap.SugaredLogger {
	once.Do(func() {
		if level == "" {
			level = os.Getenv("LOG_LEVEL")
		}
		cfg := zap.Config{
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

		logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
		SetLogger(sugar)
	})
	return sugar
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Sugar returns the initialized sugared logger (nil if Init was not called).
func Sugar() *zap.SugaredLogger { return sugar }

// SetLogger replaces the package-level logger. Pass nil to reset to the
// logger built by Init (if any). Useful for tests.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case l != nil:
		current = l
	case sugar != nil:
		current = sugar
	default:
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }
func Fatalw(msg string, keysAndValues ...interface{}) { GetLogger().Fatalw(msg, keysAndValues...) }

// FatalExitf logs a fatal message and exits the process with code 1. Tests
// can replace the logger via SetLogger to avoid process exit during test runs.
func FatalExitf(msg string, keysAndValues ...interface{}) {
	GetLogger().Fatalw(msg, keysAndValues...)
	os.Exit(1)
}

// Sync flushes any buffered logs.
func Sync() error { return GetLogger().Sync() }

type ctxKeyType struct{}

// WithFields returns a context carrying the provided key/value pairs,
// appended to any fields already present.
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyType{}).([]interface{})
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKeyType{}, merged)
}

// FromContext returns any fields previously attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKeyType{}).([]interface{}); ok {
		return v
	}
	return nil
}

func merge(ctx context.Context, kv []interface{}) []interface{} {
	ctxFields := FromContext(ctx)
	if len(ctxFields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(ctxFields)+len(kv))
	merged = append(merged, ctxFields...)
	return append(merged, kv...)
}

// InfowCtx merges fields from ctx and kv and emits an info entry.
func InfowCtx(ctx context.Context, msg string, kv ...interface{}) {
	Infow(msg, merge(ctx, kv)...)
}

// WarnwCtx merges fields from ctx and kv and emits a warn entry.
func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) {
	Warnw(msg, merge(ctx, kv)...)
}

// DebugwCtx merges fields from ctx and kv and emits a debug entry.
func DebugwCtx(ctx context.Context, msg string, kv ...interface{}) {
	Debugw(msg, merge(ctx, kv)...)
}

// Canonical dot-separated keys keep downstream log queries simple.

func SessionFields(sessionID string) []interface{} {
	return []interface{}{"session.id", sessionID}
}

func UtteranceFields(sessionID, utteranceID string) []interface{} {
	return []interface{}{"session.id", sessionID, "utterance.id", utteranceID}
}

func UserFields(userID, userName string) []interface{} {
	if userName == "" {
		return []interface{}{"user.id", userID}
	}
	return []interface{}{"user.id", userID, "user.name", userName}
}

func ConversationFields(conversationID string) []interface{} {
	return []interface{}{"conversation.id", conversationID}
}

// ToolFields describes a tool invocation.
func ToolFields(tool string, args map[string]any) []interface{} {
	return []interface{}{"tool.name", tool, "tool.args", args}
}
