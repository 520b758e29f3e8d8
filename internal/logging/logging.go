package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Options controls where and how much the daemon logs.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Stderr mirrors records to stderr in addition to the log file.
	Stderr bool
	// Dir overrides the state directory used for log files.
	Dir string
}

// Setup creates a slog.Logger that writes to a dated log file in the user
// state directory. The caller is responsible for closing the file.
func Setup(opts Options) (*slog.Logger, *os.File, error) {
	stateDir := opts.Dir
	if stateDir == "" {
		var err error
		stateDir, err = StateDir()
		if err != nil {
			return nil, nil, fmt.Errorf("state dir: %w", err)
		}
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, fmt.Sprintf("tones-%s.log", time.Now().Format("20060102")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	var w io.Writer = f
	if opts.Stderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	logger, err := New(w, opts.Level)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return logger, f, nil
}

// New builds a slog.Logger on top of a charm log handler writing to w.
func New(w io.Writer, level string) (*slog.Logger, error) {
	lvl := charmlog.InfoLevel
	if level != "" {
		parsed, err := charmlog.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		lvl = parsed
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmlog.LogfmtFormatter,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops every record. Used by tests and
// commands that have nowhere to log.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StateDir returns the path to the tones state directory (~/.config/tones/state)
func StateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tones", "state"), nil
}
