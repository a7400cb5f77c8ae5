// Package logging provides rotating file logging for the shell.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2" // for log rotation
)

// Options configure Init.
type Options struct {
	// Path is the log file. Its directory is created if needed.
	Path       string
	Level      slog.Level
	MaxSizeMB  int
	MaxBackups int
	// Console mirrors log output to stderr.
	Console bool
}

var (
	logMu     sync.Mutex
	logOutput *lumberjack.Logger
	logDir    string
)

// Init installs a slog text handler writing to a rotating log file as the
// default logger. The standard library logger is routed through it as well.
func Init(opts Options) error {
	logMu.Lock()
	defer logMu.Unlock()

	if opts.Path == "" {
		return errors.New("log path is empty")
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if logOutput != nil {
		_ = logOutput.Close()
	}
	logDir = dir
	logOutput = &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     28,
		Compress:   false,
	}

	var w io.Writer = logOutput
	if opts.Console {
		w = io.MultiWriter(logOutput, os.Stderr)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.SourceKey {
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	})
	slog.SetDefault(slog.New(handler))

	slog.Info("logging initialized", "path", opts.Path, "level", opts.Level)
	return nil
}

// Close flushes and closes the log file.
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if logOutput == nil {
		return nil
	}
	err := logOutput.Close()
	logOutput = nil
	return err
}

// Dir returns the directory holding the log files, or "" before Init.
func Dir() string {
	logMu.Lock()
	defer logMu.Unlock()
	return logDir
}
