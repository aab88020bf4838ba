// Package logging builds the logrus logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/config"
)

// New returns a logger writing to stderr and, when cfg.File is set, to that
// file as well. A log file that cannot be opened is reported with a warning
// and the logger falls back to stderr. The returned closer releases the file.
func New(cfg config.LogConfig, stderr io.Writer) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.Out = stderr

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (want text or json)", cfg.Format)
	}

	if cfg.File == "" {
		return log, io.NopCloser(nil), nil
	}

	f, err := openLogFile(cfg.File)
	if err != nil {
		log.WithError(err).Warn("logging to stderr only")
		return log, io.NopCloser(nil), nil
	}
	log.Out = io.MultiWriter(stderr, f)
	return log, f, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
