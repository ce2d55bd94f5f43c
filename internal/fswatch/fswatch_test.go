package fswatch_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localgpt/localgpt/internal/fswatch"
)

func TestRunDebouncesMatchingChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := fswatch.New(dir, func(name string) bool { return strings.HasSuffix(name, ".json") }, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 8)
	go w.Run(ctx, func(context.Context) { changes <- struct{}{} })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	select {
	case <-changes:
		t.Fatal("non matching file triggered a change")
	case <-time.After(200 * time.Millisecond):
	}

	for i := range 3 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "en-US.json"), []byte{byte('0' + i)}, 0o600))
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("change was not reported")
	}

	select {
	case <-changes:
		t.Fatal("burst was reported more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewFailsForMissingDirectory(t *testing.T) {
	_, err := fswatch.New(filepath.Join(t.TempDir(), "missing"), nil, 0)
	require.Error(t, err)
}
