/**
 * Prefixed key/value logging for worker components.
 *
 * Thin layer over the standard log package: one Logger per component, with
 * key/value pairs appended to the message. Debug output is gated by the
 * LOG_DEBUG environment variable so production runs stay quiet.
 */

package logging

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Logger writes component-prefixed log lines.
type Logger struct {
	prefix string
	debug  bool
	logger *log.Logger
}

// NewLogger creates a logger for the named component.
func NewLogger(component string) *Logger {
	debug, _ := strconv.ParseBool(os.Getenv("LOG_DEBUG"))
	return &Logger{
		prefix: component,
		debug:  debug,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", component), log.LstdFlags),
	}
}

// Scoped returns a child logger whose prefix narrows to a sub-scope, e.g.
// NewLogger("Storage").Scoped("doc-42") logs as [Storage:doc-42].
func (l *Logger) Scoped(scope string) *Logger {
	prefix := l.prefix + ":" + scope
	return &Logger{
		prefix: prefix,
		debug:  l.debug,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
	}
}

// Info logs an informational message with key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.write("INFO", msg, keysAndValues)
}

// Warn logs a warning with key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.write("WARN", msg, keysAndValues)
}

// Error logs an error with key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.write("ERROR", msg, keysAndValues)
}

// Debug logs a debug message; dropped unless LOG_DEBUG is set.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG", msg, keysAndValues)
}

func (l *Logger) write(level, msg string, keysAndValues []interface{}) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.logger.Print(b.String())
}
