package logger

import corelogger "github.com/kilianp07/depannage/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards every line. Tests and the scenario replay use it.
type NopLogger = corelogger.Nop

// New returns the zerolog Logger of a dispatch component ("dispatch",
// "assignment", "mqtt", ...). The output format is selected via APP_ENV and
// the minimum level via LOG_LEVEL, unless Configure overrode them.
func New(component string) Logger {
	return NewZerologLogger(component)
}
