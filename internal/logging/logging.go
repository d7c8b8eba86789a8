// Package logging provides the leveled structured logger used across the
// contract backend. Output is plain key=value text for development and one
// JSON object per line in production.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Level represents the severity of a log entry
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Fields carries structured key/value context for a log line.
type Fields map[string]any

// Logger provides structured logging
type Logger struct {
	mu         sync.Mutex
	output     io.Writer
	minLevel   Level
	enableJSON bool
}

// Entry represents a structured log entry
type Entry struct {
	Level   Level  `json:"level"`
	Time    string `json:"time"`
	Message string `json:"msg"`
	Fields  Fields `json:"fields,omitempty"`
	Error   string `json:"error,omitempty"`
	Caller  string `json:"caller,omitempty"`
}

// DefaultLogger is the process-wide logger. Configure replaces its settings.
var DefaultLogger = New(os.Stdout, LevelInfo, false)

// New creates a logger writing to w.
func New(w io.Writer, minLevel Level, enableJSON bool) *Logger {
	return &Logger{
		output:     w,
		minLevel:   minLevel,
		enableJSON: enableJSON,
	}
}

// Configure applies level and format settings to DefaultLogger.
// JSON output is forced in production.
func Configure(level, format, env string) {
	DefaultLogger.mu.Lock()
	defer DefaultLogger.mu.Unlock()
	DefaultLogger.minLevel = ParseLevel(level)
	DefaultLogger.enableJSON = format == "json" || env == "production"
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func rank(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	}
	return 1
}

func (l *Logger) shouldLog(level Level) bool {
	return rank(level) >= rank(l.minLevel)
}

// getCaller returns the file and line number of the caller
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}

	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}

	return fmt.Sprintf("%s:%d", file, line)
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.shouldLog(level) {
		return
	}

	entry := Entry{
		Level:   level,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: msg,
		Fields:  fields,
		Caller:  getCaller(3),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if l.enableJSON {
		data, mErr := json.Marshal(entry)
		if mErr != nil {
			fmt.Fprintf(l.output, `{"level":"error","msg":"log marshal failed","error":%q}`+"\n", mErr.Error())
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	fmt.Fprintf(l.output, "[%s] %s %s", entry.Level, entry.Time, entry.Message)
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(l.output, " %s=%v", k, entry.Fields[k])
	}
	if entry.Error != "" {
		fmt.Fprintf(l.output, " error=%q", entry.Error)
	}
	fmt.Fprintln(l.output)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields Fields) {
	l.log(LevelDebug, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields Fields) {
	l.log(LevelInfo, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields Fields) {
	l.log(LevelWarn, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields Fields, err error) {
	l.log(LevelError, msg, fields, err)
}

// Package-level helpers call log directly so the reported caller stays correct.

func Debug(msg string, fields Fields) { DefaultLogger.log(LevelDebug, msg, fields, nil) }

func Info(msg string, fields Fields) { DefaultLogger.log(LevelInfo, msg, fields, nil) }

func Warn(msg string, fields Fields) { DefaultLogger.log(LevelWarn, msg, fields, nil) }

func Error(msg string, fields Fields, err error) { DefaultLogger.log(LevelError, msg, fields, err) }
