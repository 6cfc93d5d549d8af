package schedule

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

func TestConfigWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("# v1\n"), 0644))

	var calls atomic.Int32
	changed := make(chan string, 4)
	cw, err := NewConfigWatcher(path, func(p string) {
		calls.Add(1)
		changed <- p
	}, nil)
	require.NoError(t, err)
	cw.SetDebounce(50 * time.Millisecond)
	cw.Start(context.Background())
	defer cw.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("# v2\n"), 0644))
	}

	select {
	case p := <-changed:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("# v1\n"), 0644))

	var calls atomic.Int32
	cw, err := NewConfigWatcher(path, func(string) { calls.Add(1) }, nil)
	require.NoError(t, err)
	cw.SetDebounce(20 * time.Millisecond)
	cw.Start(context.Background())
	defer cw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestNewConfigWatcher_MissingDir(t *testing.T) {
	_, err := NewConfigWatcher(filepath.Join(t.TempDir(), "nope", "config.toml"), nil, nil)
	assert.Error(t, err)
}
