package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string, window time.Duration, builds *atomic.Int32) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	w := New(dir, []string{".txt", ".pdf"}, window, func(ctx context.Context) error {
		builds.Add(1)
		return nil
	}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register its watches.
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func TestWatcher_BurstTriggersOneBuild(t *testing.T) {
	dir := t.TempDir()
	var builds atomic.Int32
	startWatcher(t, dir, 100*time.Millisecond, &builds)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("lore"), 0o644))
	}

	require.Eventually(t, func() bool { return builds.Load() == 1 },
		2*time.Second, 20*time.Millisecond)

	// The burst must not fire again once settled.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), builds.Load())
}

func TestWatcher_SeparateChangesTriggerSeparateBuilds(t *testing.T) {
	dir := t.TempDir()
	var builds atomic.Int32
	startWatcher(t, dir, 50*time.Millisecond, &builds)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first"), 0o644))
	require.Eventually(t, func() bool { return builds.Load() == 1 },
		2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("second"), 0o644))
	require.Eventually(t, func() bool { return builds.Load() == 2 },
		2*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	var builds atomic.Int32
	startWatcher(t, dir, 50*time.Millisecond, &builds)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), builds.Load())
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	var builds atomic.Int32
	cancel := startWatcher(t, dir, 50*time.Millisecond, &builds)

	cancel() // Run must return promptly; cleanup would hang otherwise
}
