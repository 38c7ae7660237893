// Package logger provides component-tagged leveled logging for wxclaw.
//
// Every call names the component that produced it ("sync", "login",
// "dispatch", ...) and may attach a field map. Console output is a single
// human-readable line; when file logging is enabled each entry is also
// appended to the file as one JSON object.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(s string) (LogLevel, bool) {
	for level, name := range levelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return level, true
		}
	}
	return INFO, false
}

type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	console *log.Logger
	file    *os.File
}

type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

var std = New(os.Stderr)

// New creates a Logger writing console lines to w at INFO level.
func New(w io.Writer) *Logger {
	return &Logger{
		level:   INFO,
		console: log.New(w, "", 0),
	}
}

func SetLevel(level LogLevel) {
	std.SetLevel(level)
}

func GetLevel() LogLevel {
	return std.GetLevel()
}

// SetOutput redirects console output, mostly for tests.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.console.SetOutput(w)
}

func EnableFileLogging(path string) error {
	return std.EnableFileLogging(path)
}

func DisableFileLogging() {
	std.DisableFileLogging()
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) EnableFileLogging(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	return nil
}

func (l *Logger) DisableFileLogging() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) logMessage(level LogLevel, component, message string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	now := time.Now()
	entry := LogEntry{
		Level:     level.String(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if l.file != nil {
		if data, err := json.Marshal(entry); err == nil {
			l.file.Write(append(data, '\n'))
		}
	}

	var sb strings.Builder
	sb.WriteString(now.Format("2006/01/02 15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("]")
	if component != "" {
		sb.WriteString(" ")
		sb.WriteString(component)
		sb.WriteString(":")
	}
	sb.WriteString(" ")
	sb.WriteString(message)
	if len(fields) > 0 {
		sb.WriteString(" ")
		sb.WriteString(formatFields(fields))
	}
	l.console.Println(sb.String())

	if level == FATAL {
		os.Exit(1)
	}
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func Debug(message string) {
	std.logMessage(DEBUG, "", message, nil)
}

func DebugC(component, message string) {
	std.logMessage(DEBUG, component, message, nil)
}

func DebugF(message string, fields map[string]any) {
	std.logMessage(DEBUG, "", message, fields)
}

func DebugCF(component, message string, fields map[string]any) {
	std.logMessage(DEBUG, component, message, fields)
}

func Info(message string) {
	std.logMessage(INFO, "", message, nil)
}

func InfoC(component, message string) {
	std.logMessage(INFO, component, message, nil)
}

func InfoF(message string, fields map[string]any) {
	std.logMessage(INFO, "", message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	std.logMessage(INFO, component, message, fields)
}

func Warn(message string) {
	std.logMessage(WARN, "", message, nil)
}

func WarnC(component, message string) {
	std.logMessage(WARN, component, message, nil)
}

func WarnCF(component, message string, fields map[string]any) {
	std.logMessage(WARN, component, message, fields)
}

func Error(message string) {
	std.logMessage(ERROR, "", message, nil)
}

func ErrorC(component, message string) {
	std.logMessage(ERROR, component, message, nil)
}

func ErrorCF(component, message string, fields map[string]any) {
	std.logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]any) {
	std.logMessage(FATAL, component, message, fields)
}
