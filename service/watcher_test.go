package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatcher_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	if err := os.MkdirAll(filepath.Join(dir, "skipme"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	skip := func(path string, isDir bool) bool {
		return strings.HasSuffix(path, ".tmp") || (isDir && filepath.Base(path) == "skipme")
	}
	w := NewWatcher([]string{dir}, 100*time.Millisecond, skip, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) {
			batches <- paths
		})
	}()

	// give the watcher time to register its directories
	time.Sleep(200 * time.Millisecond)

	a := filepath.Join(dir, "a.py")
	b := filepath.Join(sub, "b.py")
	for _, p := range []string{a, b, a, filepath.Join(dir, "scratch.tmp"), filepath.Join(dir, "skipme", "c.py")} {
		if err := os.WriteFile(p, []byte("x = 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-batches:
		if strings.Join(got, ",") != a+","+b {
			t.Errorf("batch = %v, want [%s %s]", got, a, b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "gone")}, 0, nil, nil)
	if w.debounce != DefaultWatchDebounce {
		t.Errorf("debounce = %s, want default", w.debounce)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// a missing root has nothing to watch; Run still exits with the context
	if err := w.Run(ctx, func(context.Context, []string) {}); err != nil {
		t.Errorf("Run: %v", err)
	}
}
