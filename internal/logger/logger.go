// Package logger builds the *slog.Logger handed to binsleuth components.
// There is no package-level logger: callers construct one and pass it down.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	logPrefix     = "binsleuth-"
	logSuffix     = ".log"
	retentionDays = 30
)

// Options configures New.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	LogDir  string     // Daily JSON files go here; empty logs text to Stderr
	Level   slog.Level // Minimum level
	Stderr  io.Writer  // Defaults to os.Stderr
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// New returns a logger for opts and a closer for the file behind it, if any.
// The closer is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if !opts.Enabled {
		return Discard(), nopCloser{}, nil
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}

	if opts.LogDir == "" {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		return slog.New(slog.NewTextHandler(w, hopts)), nopCloser{}, nil
	}

	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, nil, err
	}
	// Best effort.
	cleanOldLogs(opts.LogDir, time.Now())

	filename := filepath.Join(opts.LogDir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewJSONHandler(f, hopts)), f, nil
}

// ParseLevel maps a flag value onto a level; unknown names give Info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// cleanOldLogs removes log files older than retentionDays.
func cleanOldLogs(logDir string, now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		// binsleuth-2024-01-05.log
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), logPrefix)
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if logDate.Before(cutoff) {
			os.Remove(filepath.Join(logDir, name))
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
