// Package logging provides the leveled, key=value logger every pipeline
// stage writes through, plus With: a way to carry one request's label and
// cache key across every log line that stage emits for it.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger writes leveled, key=value lines tagged with a component prefix
// and whatever fields were attached via With.
type Logger struct {
	prefix string
	logger *log.Logger
	fields []interface{}
}

// NewLogger creates a logger for one component, identified by prefix.
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
	}
}

// With returns a derived logger that prepends keysAndValues to every line
// it writes. The orchestrator uses this to tag every log line touched
// while resolving one extraction request with that request's label and
// fingerprint, without threading those two values through every helper's
// argument list.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		prefix: l.prefix,
		logger: l.logger,
		fields: append(append([]interface{}(nil), l.fields...), keysAndValues...),
	}
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV("INFO", msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV("WARN", msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV("ERROR", msg, keysAndValues...)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV("DEBUG", msg, keysAndValues...)
}

func (l *Logger) logWithKV(level, msg string, keysAndValues ...interface{}) {
	all := append(append([]interface{}(nil), l.fields...), keysAndValues...)
	kvStr := ""
	for i := 0; i < len(all); i += 2 {
		if i+1 < len(all) {
			kvStr += fmt.Sprintf(" %v=%v", all[i], all[i+1])
		}
	}
	l.logger.Printf("[%s] %s%s", level, msg, kvStr)
}
