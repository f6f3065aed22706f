package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements contracts.Logger on top of Uber's zap.
type ZapLogger struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	closeFn func()
	level   zap.AtomicLevel
}

// NewZapLogger creates a logger writing JSON entries to stderr at info level.
func NewZapLogger() contracts.Logger {
	return NewZapLoggerFromCore(newCore(zapcore.Lock(os.Stderr)))
}

// NewZapLoggerFromCore wraps an existing zap core. Level filtering is done by
// the wrapper, so the core should accept every level.
func NewZapLoggerFromCore(core zapcore.Core) *ZapLogger {
	return &ZapLogger{
		logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)),
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
}

func newCore(ws zapcore.WriteSyncer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, zapcore.DebugLevel)
}

// Info logs a message at the INFO level
func (z *ZapLogger) Info(msg string, fields ...contracts.Field) {
	z.log(zapcore.InfoLevel, msg, fields...)
}

// Error logs a message at the ERROR level
func (z *ZapLogger) Error(msg string, fields ...contracts.Field) {
	z.log(zapcore.ErrorLevel, msg, fields...)
}

// Debug logs a message at the DEBUG level
func (z *ZapLogger) Debug(msg string, fields ...contracts.Field) {
	z.log(zapcore.DebugLevel, msg, fields...)
}

// Warn logs a message at the WARN level
func (z *ZapLogger) Warn(msg string, fields ...contracts.Field) {
	z.log(zapcore.WarnLevel, msg, fields...)
}

// Fatal logs a message at the FATAL level and terminates the application
func (z *ZapLogger) Fatal(msg string, fields ...contracts.Field) {
	z.log(zapcore.FatalLevel, msg, fields...)
}

// Field returns a builder for log fields.
func (z *ZapLogger) Field() contracts.Field {
	return &zapField{}
}

// SetLevel sets the logging level. It takes effect for concurrent callers immediately.
func (z *ZapLogger) SetLevel(level contracts.LogLevel) {
	z.level.SetLevel(toZapLevel(level))
}

// Enabled reports whether level passes the current threshold.
func (z *ZapLogger) Enabled(level contracts.LogLevel) bool {
	return z.level.Enabled(toZapLevel(level))
}

// SetDestination redirects log output. FileLog requires a file path.
func (z *ZapLogger) SetDestination(dest contracts.LogDestination, filePath ...string) error {
	var (
		ws      zapcore.WriteSyncer
		closeFn func()
	)
	switch dest {
	case contracts.ConsoleLog:
		ws = zapcore.Lock(os.Stderr)
	case contracts.FileLog:
		if len(filePath) == 0 || filePath[0] == "" {
			return fmt.Errorf("file destination requires a path")
		}
		var err error
		ws, closeFn, err = zap.Open(filePath[0])
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", filePath[0], err)
		}
	default:
		return fmt.Errorf("unknown log destination %q", dest)
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	_ = z.logger.Sync()
	if z.closeFn != nil {
		z.closeFn()
	}
	z.logger = zap.New(newCore(ws), zap.AddCaller(), zap.AddCallerSkip(2))
	z.closeFn = closeFn
	return nil
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.logger.Sync()
}

func (z *ZapLogger) log(level zapcore.Level, msg string, fields ...contracts.Field) {
	if !z.level.Enabled(level) {
		return
	}

	z.mu.RLock()
	ce := z.logger.Check(level, msg)
	z.mu.RUnlock()
	if ce == nil {
		return
	}
	ce.Write(toZapFields(fields)...)
}

func toZapLevel(level contracts.LogLevel) zapcore.Level {
	switch level {
	case contracts.DebugLevel:
		return zapcore.DebugLevel
	case contracts.WarnLevel:
		return zapcore.WarnLevel
	case contracts.ErrorLevel:
		return zapcore.ErrorLevel
	case contracts.FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []contracts.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if f, ok := field.(*zapField); ok {
			out = append(out, f.field)
		}
	}
	return out
}

// zapField implements contracts.Field
type zapField struct {
	field zap.Field
}

func (f *zapField) Bool(key string, val bool) contracts.Field {
	return &zapField{zap.Bool(key, val)}
}

func (f *zapField) Int(key string, val int) contracts.Field {
	return &zapField{zap.Int(key, val)}
}

func (f *zapField) Float64(key string, val float64) contracts.Field {
	return &zapField{zap.Float64(key, val)}
}

func (f *zapField) String(key string, val string) contracts.Field {
	return &zapField{zap.String(key, val)}
}

func (f *zapField) Time(key string, val time.Time) contracts.Field {
	return &zapField{zap.Time(key, val)}
}

func (f *zapField) Duration(key string, val time.Duration) contracts.Field {
	return &zapField{zap.Duration(key, val)}
}

func (f *zapField) Int64(key string, val int64) contracts.Field {
	return &zapField{zap.Int64(key, val)}
}

func (f *zapField) Error(key string, val error) contracts.Field {
	return &zapField{zap.NamedError(key, val)}
}

func (f *zapField) Uint64(key string, val uint64) contracts.Field {
	return &zapField{zap.Uint64(key, val)}
}

func (f *zapField) Uint32(key string, val uint32) contracts.Field {
	return &zapField{zap.Uint32(key, val)}
}

func (f *zapField) Uint8(key string, val uint8) contracts.Field {
	return &zapField{zap.Uint8(key, val)}
}

// Hex renders bytes as space separated upper-case hex, e.g. "90 40 7F".
func (f *zapField) Hex(key string, val []byte) contracts.Field {
	return &zapField{zap.String(key, fmt.Sprintf("% X", val))}
}
