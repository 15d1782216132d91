package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"dramaforge/internal/store"
)

// MustOpenStore opens a SQLite store in a temp dir and registers cleanup.
func MustOpenStore(t testing.TB) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "dramaforge.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}
