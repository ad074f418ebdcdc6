package common

import "sync"

// LogEntry is one message captured by a RecordingLogger.
type LogEntry struct {
	Level   LogLevel
	Message string
	Fields  []interface{}
}

// RecordingLogger keeps every message in memory. It is a test recorder,
// exported so that tests in the packages that log can assert on messages
// which have no other observable effect. Nothing outside tests creates one.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewRecordingLogger creates an empty recording logger.
func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (r *RecordingLogger) record(level LogLevel, msg string, fields []interface{}) {
	r.mu.Lock()
	r.entries = append(r.entries, LogEntry{Level: level, Message: msg, Fields: fields})
	r.mu.Unlock()
}

func (r *RecordingLogger) Debug(msg string, fields ...interface{}) {
	r.record(LogLevelDebug, msg, fields)
}
func (r *RecordingLogger) Info(msg string, fields ...interface{}) {
	r.record(LogLevelInfo, msg, fields)
}
func (r *RecordingLogger) Warn(msg string, fields ...interface{}) {
	r.record(LogLevelWarn, msg, fields)
}
func (r *RecordingLogger) Error(msg string, fields ...interface{}) {
	r.record(LogLevelError, msg, fields)
}

// Entries returns a copy of the captured messages at or above level.
func (r *RecordingLogger) Entries(level LogLevel) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogEntry
	for _, e := range r.entries {
		if e.Level >= level {
			out = append(out, e)
		}
	}
	return out
}
