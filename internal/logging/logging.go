// Package logging builds the per-component loggers.
//
// Every component logs through a standard *log.Logger whose prefix names
// it ("[store] ", "[view] "). All loggers of a process share one output:
// stderr, or a size-rotated file when a path is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log output.
type Config struct {
	// File is the log file path; empty logs to stderr
	File string

	// MaxSizeMB rotates the file when it grows past this size (default: 50)
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int
}

// Logs hands out loggers that share one output.
type Logs struct {
	out    io.Writer
	closer io.Closer
}

// Open prepares the output described by cfg.
func Open(cfg Config) (*Logs, error) {
	if cfg.File == "" {
		return &Logs{out: os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	return &Logs{out: lj, closer: lj}, nil
}

// Discard returns Logs that drop everything.
func Discard() *Logs {
	return &Logs{out: io.Discard}
}

// For returns a logger prefixed with the component name.
func (l *Logs) For(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// Close closes the log file, if any.
func (l *Logs) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
