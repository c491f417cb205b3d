package logging

import (
	"io"
	"os"
	"sync"
)

var (
	globalLogger = DefaultLogger()
	globalMu     sync.RWMutex
)

// SetGlobal sets the process-wide fallback logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the process-wide fallback logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Configure builds a logger from config values and installs it as the global
// logger. A nil out means stderr. Caller information is added at debug level
// only.
func Configure(level, format string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    out,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}
