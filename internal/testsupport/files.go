package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Novel is a small two-chapter story with recurring named characters and
// quoted dialogue.
const Novel = `Chapter 1: The Letter

Mara found the letter at dawn in the village square. "Someone knows," she whispered.
Tomas read it twice before he answered. "Then we leave tonight."
The market was already waking, and Mara hid the letter in her coat.

Chapter 2: The Road

By evening the forest road was empty. Tomas walked ahead with the lantern.
"Do you hear that?" Mara asked. Tomas stopped and listened to the river.
They reached the old temple before night fell, and Mara lit a candle.
`
