package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stderr mirrors every line to standard error.
	Stderr bool
}

// Logger is a *log.Logger backed by a rotating file.
type Logger struct {
	*log.Logger
	rotator *lumberjack.Logger
}

// New opens the rotating log file, creating its directory if needed. With
// an empty File the logger writes to stderr only (or nowhere when Stderr is
// false).
func New(opts Options) (*Logger, error) {
	var writers []io.Writer
	var rotator *lumberjack.Logger

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		writers = append(writers, rotator)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	return &Logger{
		Logger:  log.New(out, "", log.LstdFlags|log.Lmicroseconds),
		rotator: rotator,
	}, nil
}

// Rotate starts a new log file.
func (l *Logger) Rotate() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}
