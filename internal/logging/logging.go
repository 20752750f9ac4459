package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultMaxSizeMB = 10

// LogFile is a size-capped log destination. When a write would push the file
// past the cap, the current file is renamed to <path>.old (replacing any
// earlier rotation) and a fresh file is started, so the coordinator keeps at
// most two generations on disk.
type LogFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	file    *os.File
	written int64
}

func OpenLogFile(path string, limit int64) (*LogFile, error) {
	lf := &LogFile{path: path, limit: limit}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	lf.file = f
	lf.written = info.Size()
	return lf, nil
}

func (lf *LogFile) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.written+int64(len(p)) > lf.limit {
		lf.swap()
	}
	n, err := lf.file.Write(p)
	lf.written += int64(n)
	return n, err
}

// swap retires the current file to .old and starts a fresh one. When the
// rename or reopen fails the current file is kept and writes continue into
// it past the cap; losing log lines is worse than an oversized file.
func (lf *LogFile) swap() {
	if err := lf.file.Close(); err != nil {
		_ = err
	}
	if err := os.Rename(lf.path, lf.path+".old"); err != nil {
		if f, openErr := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); openErr == nil {
			lf.file = f
		}
		return
	}
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		// Reopen the rotated file so the stream stays writable.
		f, err = os.OpenFile(lf.path+".old", os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return
		}
		lf.file = f
		return
	}
	lf.file = f
	lf.written = 0
}

func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.file != nil {
		return lf.file.Close()
	}
	return nil
}

// ParseLevel maps a config string to an slog level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates a JSON logger. With a log directory it writes to a
// size-capped file (plus stderr when alsoStderr); with an empty directory it
// writes to stderr only. maxSizeMB caps the live log file and comes from
// config; zero or negative falls back to the default. Returns the logger and
// a cleanup function.
func Setup(logDir string, level slog.Level, maxSizeMB int, alsoStderr bool) (*slog.Logger, func(), error) {
	if logDir == "" {
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		return slog.New(handler), func() {}, nil
	}

	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	logPath := filepath.Join(logDir, "skycoord.log")
	lf, err := OpenLogFile(logPath, int64(maxSizeMB)*1024*1024)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}

	var writer io.Writer = lf
	if alsoStderr {
		writer = io.MultiWriter(lf, os.Stderr)
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	cleanup := func() {
		lf.Close()
	}
	return logger, cleanup, nil
}

// SessionLogger creates a child logger tagged with the session id.
func SessionLogger(parent *slog.Logger, sessionID string) *slog.Logger {
	return parent.With("session", sessionID)
}
