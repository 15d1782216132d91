package preflight

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dramaforge/internal/config"
)

func TestCheckDirectoryAccess(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name, path string
		pass       bool
		detail     string
	}{
		{"writable dir", root, true, "writable"},
		{"missing", filepath.Join(root, "nope"), false, "does not exist"},
		{"regular file", file, false, "not a directory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := CheckDirectoryAccess("dir", tc.path)
			if r.Passed != tc.pass || !strings.Contains(r.Detail, tc.detail) {
				t.Fatalf("got %+v", r)
			}
		})
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if r := CheckFreeSpace("tmp", dir, 0); !r.Passed {
		t.Fatalf("zero minimum failed: %s", r.Detail)
	}
	r := CheckFreeSpace("tmp", dir, math.MaxUint64)
	if r.Passed || !strings.Contains(r.Detail, "need") {
		t.Fatalf("impossible minimum: %+v", r)
	}
}

func TestHumanBytes(t *testing.T) {
	for n, want := range map[uint64]string{512: "512 B", 1536: "1.5 KiB", 3 << 30: "3.0 GiB"} {
		if got := humanBytes(n); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestCheckLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	for _, tc := range []struct {
		key  string
		pass bool
	}{{"", false}, {"bad-key", false}, {"good-key", true}} {
		r := CheckLLM(context.Background(), "llm", config.LLM{APIKey: tc.key, BaseURL: srv.URL, Model: "m"})
		if r.Passed != tc.pass {
			t.Errorf("key %q: got %+v", tc.key, r)
		}
	}
}

func TestCheckLLMFromConfigOfflinePasses(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.BaseURL = ""
	if r := CheckLLMFromConfig(context.Background(), &cfg); !r.Passed {
		t.Fatalf("offline config failed: %s", r.Detail)
	}
}

func TestRunAll(t *testing.T) {
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("nil config produced results")
	}

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.ExportDir = cfg.Paths.DataDir
	cfg.LLM.BaseURL = ""
	results := RunAll(context.Background(), &cfg)
	// Three directories and one volume: export shares the data dir.
	if len(results) != 4 || len(Failed(results)) != 0 {
		t.Fatalf("shared volume: %+v", results)
	}

	cfg.Paths.ExportDir = filepath.Join(t.TempDir(), "missing")
	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) == 0 {
		t.Fatal("missing export directory passed")
	}
	for _, r := range failed {
		if !strings.HasPrefix(r.Name, "Export") {
			t.Fatalf("unexpected failure %+v", r)
		}
	}
}
