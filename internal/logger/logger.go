package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation for per-service output files.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultTailLines  = 100
)

// ErrNoLogFile is returned by Tail when the service has never written output.
var ErrNoLogFile = errors.New("no log file yet")

// Sink routes the combined stdout/stderr of each service into
// Dir/<key>.log. Rotation parameters follow lumberjack semantics.
type Sink struct {
	Dir        string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // gzip rotated files
}

// Path returns the log file for key.
func (s Sink) Path(key string) string {
	return filepath.Join(s.Dir, key+".log")
}

// Writer opens an append-only rotating writer for key. The directory is
// created on first write.
func (s Sink) Writer(key string) io.WriteCloser {
	return &lj.Logger{
		Filename:   s.Path(key),
		MaxSize:    valOr(s.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(s.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(s.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   s.Compress,
	}
}

// Tail returns the last n lines of key's log file, newline terminated.
// n <= 0 selects DefaultTailLines.
func (s Sink) Tail(key string, n int) (string, error) {
	if n <= 0 {
		n = DefaultTailLines
	}
	f, err := os.Open(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoLogFile
		}
		return "", fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, n)
	count := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			ring[count%n] = strings.TrimRight(line, "\r\n")
			count++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read log: %w", err)
		}
	}

	var b strings.Builder
	start := 0
	if count > n {
		start = count - n
	}
	for i := start; i < count; i++ {
		b.WriteString(ring[i%n])
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Settings selects the supervisor's own diagnostic logger.
type Settings struct {
	Level  string // debug, info, warn, error
	Format string // text, json, color
}

// New builds the process-wide slog logger writing to w.
func New(s Settings, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(s.Level)}
	var h slog.Handler
	switch strings.ToLower(s.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "color":
		h = NewColorTextHandler(w, opts, true)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
