package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHousekeeping_ReapRemovesOnlyStaleFiles(t *testing.T) {
	s, _, _ := testScheduler(t, "x")
	h := NewHousekeeping(s)

	stale := filepath.Join(s.imageDir, "old.png")
	fresh := filepath.Join(s.imageDir, "new.png")
	os.WriteFile(stale, []byte("x"), 0o644)
	os.WriteFile(fresh, []byte("x"), 0o644)

	old := time.Now().Add(-2 * staleImageAge)
	os.Chtimes(stale, old, old)

	h.reap()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected the stale file to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("expected the fresh file to survive")
	}
}
