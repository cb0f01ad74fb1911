// Package logger provides structured logging for guardkit components built
// on zerolog. Components accept a *Logger and treat nil as "log nothing",
// so the runtime stays usable as a plain library.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config contains logging configuration.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// Logger wraps zerolog.Logger with component context.
type Logger struct {
	logger zerolog.Logger
}

// New creates a logger from config.
func New(cfg Config) *Logger {
	cfg.ApplyDefaults()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := outputWriter(cfg.Output)
	var zl zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Format, "pretty") {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    cfg.NoColor,
		})
	} else {
		zl = zerolog.New(out)
	}
	zl = zl.Level(level)

	if cfg.Timestamp {
		zl = zl.With().Timestamp().Logger()
	}

	return &Logger{logger: zl}
}

// NewDefault creates a console logger at info level.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "console", Output: "stdout", Timestamp: true})
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

// WithError returns a logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// Z returns the underlying zerolog.Logger.
func (l *Logger) Z() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.logger
}

// Debug logs a debug message with optional alternating key-value fields.
func (l *Logger) Debug(msg string, kvs ...any) { l.log(zerolog.DebugLevel, msg, kvs...) }

// Info logs an info message with optional alternating key-value fields.
func (l *Logger) Info(msg string, kvs ...any) { l.log(zerolog.InfoLevel, msg, kvs...) }

// Warn logs a warning message with optional alternating key-value fields.
func (l *Logger) Warn(msg string, kvs ...any) { l.log(zerolog.WarnLevel, msg, kvs...) }

// Error logs an error message with optional alternating key-value fields.
func (l *Logger) Error(msg string, kvs ...any) { l.log(zerolog.ErrorLevel, msg, kvs...) }

func (l *Logger) log(level zerolog.Level, msg string, kvs ...any) {
	if l == nil {
		return
	}
	event := l.logger.WithLevel(level)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			event = event.Interface(key, kvs[i+1])
		}
	}
	event.Msg(msg)
}

func outputWriter(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}
