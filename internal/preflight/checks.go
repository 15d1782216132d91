package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"dramaforge/internal/config"
	"dramaforge/internal/generators"
)

// llmHealthTimeout bounds the single health request CheckLLM makes.
const llmHealthTimeout = 30 * time.Second

func pass(name, format string, args ...any) Result {
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// CheckLLM sends one JSON completion to the text endpoint and expects a
// well-formed reply.
func CheckLLM(ctx context.Context, name string, cfg config.LLM) Result {
	if cfg.APIKey == "" {
		return fail(name, "no API key configured (llm.api_key)")
	}
	ctx, cancel := context.WithTimeout(ctx, llmHealthTimeout)
	defer cancel()

	client := generators.NewOpenAI(generators.OpenAIConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		TimeoutSeconds: cfg.TimeoutSeconds,
	})
	err := client.HealthCheck(ctx)
	var netErr net.Error
	switch {
	case err == nil:
		return pass(name, "%s answered", cfg.BaseURL)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fail(name, "%s did not answer within %s", cfg.BaseURL, llmHealthTimeout)
	default:
		return fail(name, "%v", err)
	}
}

// CheckDirectoryAccess requires path to be a directory the daemon can list,
// read and write.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fail(name, "%s does not exist", path)
	case err != nil:
		return fail(name, "%s: %v", path, err)
	case !info.IsDir():
		return fail(name, "%s is not a directory", path)
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail(name, "%s is not writable: %v", path, err)
	}
	return pass(name, "%s writable", path)
}

// CheckFreeSpace requires at least minBytes available to unprivileged users
// on the filesystem holding path.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fail(name, "statfs %s: %v", path, err)
	}
	free := st.Bavail * uint64(st.Bsize)
	if free < minBytes {
		return fail(name, "%s has %s free, need %s", path, humanBytes(free), humanBytes(minBytes))
	}
	return pass(name, "%s has %s free", path, humanBytes(free))
}

// humanBytes formats n with binary prefixes ("1.5 GiB").
func humanBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v, i := float64(n)/1024, 0
	for ; v >= 1024 && i < 5; i++ {
		v /= 1024
	}
	return fmt.Sprintf("%.1f %ciB", v, "KMGTPE"[i])
}
