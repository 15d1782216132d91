package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dramaforge/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level string
	// Format is "console" (default) or "json".
	Format string
	// OutputPaths lists "stdout", "stderr" or file paths; empty means stdout.
	OutputPaths []string
	// Development adds source locations at every level.
	Development bool
	// Hub receives a copy of every record when set.
	Hub *StreamHub
}

// New constructs a slog logger using the provided options. Source locations
// are added in development mode and at debug level.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	source := opts.Development || level.Level() <= slog.LevelDebug

	out, err := openWriters(opts.OutputPaths)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		handler = newConsoleHandler(out, level, source)
	case "json":
		handler = newJSONHandler(out, level, source)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	if opts.Hub != nil {
		handler = TeeHandler(handler, newStreamHandler(level, opts.Hub))
	}
	return slog.New(handler), nil
}

// NewFromConfig builds the daemon logger from the logging section. Besides
// stdout it appends to <log_dir>/dramaforge.log when a log directory is set.
func NewFromConfig(cfg *config.Config, hub *StreamHub) (*slog.Logger, error) {
	opts := Options{Level: "info", Format: "console", Hub: hub}
	if cfg == nil {
		return New(opts)
	}
	opts.Level = cfg.Logging.Level
	opts.Format = cfg.Logging.Format
	opts.OutputPaths = []string{"stdout"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		opts.OutputPaths = append(opts.OutputPaths, filepath.Join(dir, "dramaforge.log"))
	}
	return New(opts)
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	switch value := strings.ToLower(strings.TrimSpace(level)); value {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	default:
		if err := lvl.UnmarshalText([]byte(value)); err != nil {
			return slog.LevelInfo
		}
		return lvl
	}
}

// openWriters resolves output targets, creating parent directories for files.
// Duplicate targets are opened once.
func openWriters(paths []string) (io.Writer, error) {
	var (
		writers []io.Writer
		seen    []string
	)
	for _, raw := range paths {
		target := strings.TrimSpace(raw)
		if target == "" || slices.Contains(seen, target) {
			continue
		}
		seen = append(seen, target)

		switch target {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("create log dir for %s: %w", target, err)
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", target, err)
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

// newJSONHandler writes one object per line with "ts", a lowercase level and
// a short "file:line" source.
func newJSONHandler(w io.Writer, level slog.Leveler, source bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: source,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339))
			case slog.LevelKey:
				return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})
}
