package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := watcher.New("", 0, nil)
	require.ErrorIs(t, err, watcher.ErrEmptyPath)
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "stageflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	w, err := watcher.New(path, 50*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var calls atomic.Int32

	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		close(started)

		done <- w.Run(ctx, func() { calls.Add(1) })
	}()

	<-started
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o600))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}
