// Package log provides structured logging with run context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for pipeline components (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// Every Logger entry is also forwarded as a types.Event to an optional Sink,
// which is how progress UIs and the framed event stream observe a run.
package log

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/darkroom/types"
)

// Sink receives every event emitted through a Logger.
// Implementations must not block for long: they run on the caller's goroutine.
type Sink interface {
	Emit(event types.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event types.Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event types.Event) { f(event) }

// Logger provides structured logging with run context.
// All entries include run_id and component fields.
type Logger struct {
	zap       *zap.Logger
	sink      Sink
	runID     string
	component string
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger with run context.
// Output defaults to os.Stderr.
func NewLogger(runID string) *Logger {
	return newLoggerWithWriter(runID, os.Stderr, zapcore.DebugLevel)
}

// NewLoggerWithWriter creates a logger writing JSON lines to w at the given minimum level.
func NewLoggerWithWriter(runID string, w io.Writer, level zapcore.Level) *Logger {
	return newLoggerWithWriter(runID, w, level)
}

// Nop returns a logger that discards everything, including sink fan-out.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func newLoggerWithWriter(runID string, w io.Writer, level zapcore.Level) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)

	zapLogger := zap.New(core)
	if runID != "" {
		zapLogger = zapLogger.With(zap.String("run_id", runID))
	}
	return &Logger{zap: zapLogger, runID: runID}
}

// WithSink returns a logger that also forwards entries to sink.
func (l *Logger) WithSink(sink Sink) *Logger {
	clone := *l
	clone.sink = sink
	return &clone
}

// Named returns a logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	clone := *l
	clone.component = component
	clone.zap = l.zap.With(zap.String("component", component))
	return &clone
}

// RunID returns the run identifier attached to this logger.
func (l *Logger) RunID() string { return l.runID }

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
	l.emit(types.LogLevelDebug, message, fields)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
	l.emit(types.LogLevelInfo, message, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
	l.emit(types.LogLevelWarn, message, fields)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
	l.emit(types.LogLevelError, message, fields)
}

// Publish forwards a non-log event (progress, run_complete) to the sink.
// Timestamp, component and run ID are filled in when empty.
func (l *Logger) Publish(event types.Event) {
	if l == nil || l.sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = l.component
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}
	l.sink.Emit(event)
}

func (l *Logger) emit(level types.LogLevel, message string, fields map[string]any) {
	if l.sink == nil {
		return
	}
	l.Publish(types.Event{
		Kind:    types.EventKindLog,
		Level:   level,
		Message: message,
		Fields:  fields,
	})
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
