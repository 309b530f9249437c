// Package logger provides the structured logger used across every
// component, a thin logrus wrapper so call sites use a typed Config instead
// of poking logrus globals directly.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps *logrus.Logger so it can grow Sykli-specific helpers later
// without leaking logrus types into every import site.
type Logger struct {
	*logrus.Logger
}

// Config controls level and format of a Logger.
type Config struct {
	Level  string `json:"level" yaml:"level" env:"SYKLI_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"SYKLI_LOG_FORMAT"`
}

// DefaultConfig returns human-readable, info-level logging (New writes to
// stderr).
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// New builds a Logger from cfg, falling back to info level on a bad value.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(os.Stderr)
	return &Logger{Logger: l}
}

// NewDefault builds a Logger with DefaultConfig. The component argument is
// not attached to the returned Logger's entries.
func NewDefault(component string) *Logger {
	l := New(DefaultConfig())
	l.Logger = l.Logger
	return &Logger{Logger: l.WithField("component", component).Logger}
}

// Task returns a child logger scoped to one task, the shape every
// per-task log line in the orchestrator uses.
func (l *Logger) Task(run, task string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"run": run, "task": task})
}
