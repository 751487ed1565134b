package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

var defaults struct {
	sync.RWMutex
	level   string
	console bool
}

// Configure sets the level and format used by loggers created afterwards.
// LOG_LEVEL and APP_ENV=dev still take precedence.
func Configure(level, format string) {
	defaults.Lock()
	defer defaults.Unlock()
	defaults.level = level
	defaults.console = strings.EqualFold(format, "console")
}

// NewZerologLogger creates a ZerologLogger writing to stdout. APP_ENV=dev
// switches to a human readable console writer. All logs include the
// provided component field.
func NewZerologLogger(component string) Logger {
	defaults.RLock()
	level, console := defaults.level, defaults.console
	defaults.RUnlock()
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	var out io.Writer = os.Stdout
	if console || strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewZerologLoggerWriter(out, component, level)
}

// NewZerologLoggerWriter builds a logger on an arbitrary writer. An empty or
// unknown level keeps zerolog's default (debug).
func NewZerologLoggerWriter(w io.Writer, component, level string) Logger {
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		z = z.Level(lvl)
	}
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Infow(msg string, fields map[string]any) {
	l.log.Info().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
