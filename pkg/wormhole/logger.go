package wormhole

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/CVDpl/go-live-wormhole/internal/common"
)

var levelNames = [...]string{
	common.LogLevelDebug: "DEBUG",
	common.LogLevelInfo:  "INFO",
	common.LogLevelWarn:  "WARN",
	common.LogLevelError: "ERROR",
}

// DefaultLogger writes one JSON object per line. Field values that are byte
// slices, which in this package are keys and anchors, are rendered quoted.
type DefaultLogger struct {
	mu     *sync.Mutex // shared with loggers derived through WithFields
	level  common.LogLevel
	w      io.Writer
	fields map[string]interface{}
}

// NewDefaultLogger creates a logger writing to stderr at info level.
func NewDefaultLogger() common.Logger {
	return NewDefaultLoggerWithLevel(common.LogLevelInfo)
}

// NewDefaultLoggerWithLevel creates a stderr logger with a specific level.
func NewDefaultLoggerWithLevel(level common.LogLevel) common.Logger {
	return NewDefaultLoggerTo(os.Stderr, level)
}

// NewDefaultLoggerTo creates a logger writing JSON lines to w.
func NewDefaultLoggerTo(w io.Writer, level common.LogLevel) common.Logger {
	return &DefaultLogger{mu: &sync.Mutex{}, level: level, w: w}
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.log(common.LogLevelDebug, msg, fields)
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.log(common.LogLevelInfo, msg, fields)
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.log(common.LogLevelWarn, msg, fields)
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.log(common.LogLevelError, msg, fields)
}

func fieldValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return fmt.Sprintf("%q", x)
	case error:
		return x.Error()
	}
	return v
}

func (l *DefaultLogger) log(level common.LogLevel, msg string, fields []interface{}) {
	if level < l.level {
		return
	}
	entry := make(map[string]interface{}, 3+len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		entry[k] = fieldValue(v)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			entry[key] = fieldValue(fields[i+1])
		}
	}
	if len(fields)%2 == 1 {
		entry["extra"] = fieldValue(fields[len(fields)-1])
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = levelNames[level]
	entry["message"] = msg

	data, err := sonnet.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":"ERROR","message":"unencodable log entry","error":%q}`, err.Error()))
	}
	data = append(data, '\n')

	l.mu.Lock()
	l.w.Write(data)
	l.mu.Unlock()
}

// WithFields returns a logger that adds fields to every entry.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) common.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &DefaultLogger{mu: l.mu, level: l.level, w: l.w, fields: merged}
}

// LoggerWithContext prefixes every call with a set of key/value fields.
type LoggerWithContext struct {
	logger common.Logger
	fields []interface{}
}

// WithContext wraps logger so that fields accompany every message. Wrapping a
// LoggerWithContext extends its fields instead of nesting.
func WithContext(logger common.Logger, fields map[string]interface{}) common.Logger {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	var base []interface{}
	if lwc, ok := logger.(*LoggerWithContext); ok {
		logger = lwc.logger
		base = lwc.fields
	}
	pairs := make([]interface{}, 0, len(base)+2*len(fields))
	pairs = append(pairs, base...)
	for k, v := range fields {
		pairs = append(pairs, k, v)
	}
	return &LoggerWithContext{logger: logger, fields: pairs}
}

func (l *LoggerWithContext) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, l.with(fields)...)
}

func (l *LoggerWithContext) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, l.with(fields)...)
}

func (l *LoggerWithContext) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, l.with(fields)...)
}

func (l *LoggerWithContext) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, l.with(fields)...)
}

func (l *LoggerWithContext) with(fields []interface{}) []interface{} {
	out := make([]interface{}, 0, len(l.fields)+len(fields))
	out = append(out, l.fields...)
	return append(out, fields...)
}

// LogError logs msg at error level with err under the "error" field.
func LogError(logger common.Logger, msg string, err error, fields ...interface{}) {
	logger.Error(msg, append([]interface{}{"error", err.Error()}, fields...)...)
}
