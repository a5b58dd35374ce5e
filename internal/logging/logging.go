// Package logging builds the process logger. Every command logs through a
// logrus.Logger configured here; library packages receive the logger and
// never configure output themselves.
package logging

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Format selects the log line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds the logger settings, usually filled from flags.
type Config struct {
	// Level is a logrus level name: debug, info, warn, error. Empty means
	// info.
	Level string
	// Format is text or json. Empty means text.
	Format Format
	// Caller adds the emitting file:line to every entry.
	Caller bool
	// Colors forces or suppresses ANSI colors in text format.
	Colors bool
}

func (c Config) withDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	return c
}

// Validate reports unusable settings before a logger is built from them.
func (c Config) Validate() error {
	c = c.withDefaults()
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log level %q: %w", c.Level, err)
	}
	switch c.Format {
	case FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("log format %q: want text or json", c.Format)
}

// New builds a configured logger writing to stderr.
func New(c Config) (*logrus.Logger, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c = c.withDefaults()

	l := logrus.New()
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(level)
	l.SetReportCaller(c.Caller)

	prettyCaller := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	switch c.Format {
	case FormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyCaller,
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			ForceColors:      c.Colors,
			DisableColors:    !c.Colors,
			CallerPrettyfier: prettyCaller,
		})
	}

	return l, nil
}
