// Package logging provides the structured logger used across ocp-reposync and
// the line-oriented build log sink that git command output is written to.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger is a thin printf-style facade over zerolog.
type Logger struct {
	zl zerolog.Logger
}

func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}

	zl := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func parseLevel(l Level) zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn, "warning":
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying an additional field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) Debugf(f string, a ...any) {
	l.zl.Debug().Msg(fmt.Sprintf(f, a...))
}

func (l *Logger) Infof(f string, a ...any) {
	l.zl.Info().Msg(fmt.Sprintf(f, a...))
}

func (l *Logger) Warnf(f string, a ...any) {
	l.zl.Warn().Msg(fmt.Sprintf(f, a...))
}

func (l *Logger) Errorf(f string, a ...any) {
	l.zl.Error().Msg(fmt.Sprintf(f, a...))
}

// Enabled reports whether messages at the given level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.zl.GetLevel() <= parseLevel(level)
}
