package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smelter-dev/smelter/internal/logging"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	goleak.VerifyTestMain(m,
		// inotify's reader can still be parked in a syscall right after Close
		goleak.IgnoreAnyFunction("github.com/fsnotify/fsnotify.(*Watcher).readEvents"),
	)
}

func startWatcher(t *testing.T, w *Watcher, action func(context.Context) error) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, action)
	}()

	// give fsnotify time to register the watches
	time.Sleep(50 * time.Millisecond)

	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_RunsOnMatchingWrite(t *testing.T) {
	dir := t.TempDir()
	var runs int32

	w := New(Config{
		Dirs:     []string{dir},
		Match:    func(p string) bool { return strings.HasSuffix(p, ".bin") },
		Debounce: 20 * time.Millisecond,
	})
	cancel := startWatcher(t, w, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	defer cancel()

	if err := os.WriteFile(filepath.Join(dir, "Token.bin"), []byte("6080"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 1 })
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	var runs int32

	w := New(Config{
		Dirs:     []string{dir},
		Match:    func(p string) bool { return strings.HasSuffix(p, ".abi") },
		Debounce: 20 * time.Millisecond,
	})
	cancel := startWatcher(t, w, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	cancel()

	if n := atomic.LoadInt32(&runs); n != 0 {
		t.Errorf("expected no runs, got %d", n)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	var runs int32

	w := New(Config{Dirs: []string{dir}, Debounce: 200 * time.Millisecond})
	cancel := startWatcher(t, w, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	defer cancel()

	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "A"+string(rune('a'+i))+".bin")
		if err := os.WriteFile(name, []byte("00"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 1 })
	time.Sleep(300 * time.Millisecond)
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Errorf("expected a single run for the burst, got %d", n)
	}
}

func TestWatcher_ActionErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	var runs int32

	w := New(Config{Dirs: []string{dir}, Debounce: 20 * time.Millisecond})
	cancel := startWatcher(t, w, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("deploy failed")
	})
	defer cancel()

	path := filepath.Join(dir, "A.bin")
	if err := os.WriteFile(path, []byte("00"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 1 })

	if err := os.WriteFile(path, []byte("01"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 2 })
}

func TestWatcher_MissingDir(t *testing.T) {
	w := New(Config{Dirs: []string{filepath.Join(t.TempDir(), "missing")}})
	if err := w.Run(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for missing directory")
	}
}
