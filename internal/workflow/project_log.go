package workflow

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"dramaforge/internal/config"
	"dramaforge/internal/logging"
)

// ProjectLogger tees each project's log lines into its own JSON file at
// <log_dir>/projects/<slug>.log, next to the daemon log.
type ProjectLogger struct {
	dir   string
	level string

	mu    sync.Mutex
	files map[string]slog.Handler
}

// NewProjectLogger returns a ProjectLogger rooted at cfg's log dir. Without
// a log dir, per-project files are off and Logger only tags lines.
func NewProjectLogger(cfg *config.Config) *ProjectLogger {
	pl := &ProjectLogger{level: "info", files: map[string]slog.Handler{}}
	if cfg == nil {
		return pl
	}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		pl.dir = filepath.Join(dir, "projects")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		pl.level = lvl
	}
	return pl
}

// Path is the log file for projectID, or "" when per-project files are off.
func (pl *ProjectLogger) Path(projectID string) string {
	if pl == nil || pl.dir == "" {
		return ""
	}
	return filepath.Join(pl.dir, fileSlug(projectID)+".log")
}

// Logger returns base tagged with projectID and, when enabled, teed into the
// project's file. If the file cannot be opened the tagged base comes back
// together with the error.
func (pl *ProjectLogger) Logger(base *slog.Logger, projectID string) (*slog.Logger, error) {
	if base == nil {
		base = logging.NewNop()
	}
	tag := logging.String(logging.FieldProjectID, projectID)
	path := pl.Path(projectID)
	if path == "" {
		return base.With(tag), nil
	}
	h, err := pl.fileHandler(path)
	if err != nil {
		return base.With(tag), err
	}
	return logging.TeeLogger(base, h).With(tag), nil
}

func (pl *ProjectLogger) fileHandler(path string) (slog.Handler, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if h, ok := pl.files[path]; ok {
		return h, nil
	}
	// logging.New creates the parent directory.
	l, err := logging.New(logging.Options{Level: pl.level, Format: "json", OutputPaths: []string{path}})
	if err != nil {
		return nil, err
	}
	pl.files[path] = l.Handler()
	return l.Handler(), nil
}

// fileSlug lowercases id and collapses every run of characters outside
// letters, digits and '_' into one '-'.
func fileSlug(id string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.TrimSpace(id) {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingDash = true
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
