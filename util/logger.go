package util

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LogLevelInfo))
}

func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

func Level() LogLevel {
	return LogLevel(currentLevel.Load())
}

func enabled(level LogLevel) bool {
	return LogLevel(currentLevel.Load()) <= level
}

func Debug(format string, v ...interface{}) {
	if enabled(LogLevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if enabled(LogLevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if enabled(LogLevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if enabled(LogLevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Fatal(format string, v ...interface{}) {
	log.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}

// Logger attaches a fixed prefix such as "{segment-7}" to every line so that
// interleaved output from several segments stays traceable.
type Logger struct {
	prefix string
}

func NewLogger(prefix string) *Logger {
	return &Logger{prefix: "{" + prefix + "}"}
}

// With returns a child logger carrying both prefixes.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return NewLogger(prefix)
	}
	return &Logger{prefix: l.prefix + " {" + prefix + "}"}
}

func (l *Logger) Prefix() string {
	if l == nil {
		return ""
	}
	return l.prefix
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	Debug("%s %s", l.Prefix(), fmt.Sprintf(format, v...))
}

func (l *Logger) Infof(format string, v ...interface{}) {
	Info("%s %s", l.Prefix(), fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	Warn("%s %s", l.Prefix(), fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	Error("%s %s", l.Prefix(), fmt.Sprintf(format, v...))
}
