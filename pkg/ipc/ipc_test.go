package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteJSONIsAtomicAndReadable(t *testing.T) {
	root := NewRoot(t.TempDir())
	require.NoError(t, root.Ensure("acme"))

	require.NoError(t, root.WriteJSON("acme", DirInput, "initial", map[string]string{"hello": "world"}))

	path := filepath.Join(root.FolderDir("acme"), DirInput, "initial.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "world", got["hello"])

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestReadAndRemoveQuarantinesBadJSON(t *testing.T) {
	root := NewRoot(t.TempDir())
	require.NoError(t, root.Ensure("acme"))

	badPath := filepath.Join(root.FolderDir("acme"), DirTasks, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("not json"), 0o644))

	var v map[string]string
	err := root.ReadAndRemove("acme", badPath, &v)
	require.Error(t, err)

	_, statErr := os.Stat(badPath)
	require.True(t, os.IsNotExist(statErr))

	quarantined := filepath.Join(root.FolderDir("acme"), DirErrors, "acme-bad.json")
	_, statErr = os.Stat(quarantined)
	require.NoError(t, statErr)
}

func TestCleanStalePreservesInitialJSON(t *testing.T) {
	root := NewRoot(t.TempDir())
	require.NoError(t, root.Ensure("acme"))
	require.NoError(t, root.WriteJSON("acme", DirInput, "initial", map[string]string{"a": "b"}))
	require.NoError(t, root.WriteJSON("acme", DirInput, "msg-1", map[string]string{"a": "b"}))
	require.NoError(t, root.WriteJSON("acme", DirOutput, "out-1", map[string]string{"a": "b"}))

	require.NoError(t, root.CleanStale("acme"))

	_, err := os.Stat(filepath.Join(root.FolderDir("acme"), DirInput, "initial.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root.FolderDir("acme"), DirInput, "msg-1.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root.FolderDir("acme"), DirOutput, "out-1.json"))
	require.True(t, os.IsNotExist(err))
}

func TestDispatcherRejectsTier1FromNonAdmin(t *testing.T) {
	root := NewRoot(t.TempDir())
	require.NoError(t, root.Ensure("acme"))
	require.NoError(t, root.WriteJSON("acme", DirTasks, "t1", map[string]string{"type": "refresh_groups"}))

	called := false
	d := NewDispatcher(root, func(folder string) bool { return false })
	d.Register("refresh_groups", func(ctx context.Context, folder string, isAdmin bool, raw json.RawMessage) error {
		called = true
		return nil
	})

	files, err := root.ListSorted("acme", DirTasks)
	require.NoError(t, err)
	require.Len(t, files, 1)

	err = d.dispatchOne(context.Background(), Event{Folder: "acme", Dir: DirTasks, Path: files[0]})
	require.Error(t, err)
	require.False(t, called)
}

func TestDispatcherRoutesPrefixHandler(t *testing.T) {
	root := NewRoot(t.TempDir())
	require.NoError(t, root.Ensure("acme"))
	require.NoError(t, root.WriteJSON("acme", DirTasks, "t1", map[string]string{"type": "service:fetch_url"}))

	var gotFolder string
	d := NewDispatcher(root, func(folder string) bool { return true })
	d.RegisterPrefix("service:", func(ctx context.Context, folder string, isAdmin bool, raw json.RawMessage) error {
		gotFolder = folder
		return nil
	})

	files, err := root.ListSorted("acme", DirTasks)
	require.NoError(t, err)
	require.NoError(t, d.dispatchOne(context.Background(), Event{Folder: "acme", Dir: DirTasks, Path: files[0]}))
	require.Equal(t, "acme", gotFolder)
}

func TestWatcherSweepRecoversExistingFiles(t *testing.T) {
	base := t.TempDir()
	root := NewRoot(base)
	require.NoError(t, root.Ensure("acme"))
	require.NoError(t, root.WriteJSON("acme", DirOutput, "out-1", map[string]string{"a": "b"}))

	w, err := NewWatcher(root)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	select {
	case ev := <-w.Events():
		require.Equal(t, "acme", ev.Folder)
		require.Equal(t, DirOutput, ev.Dir)
	case <-time.After(2 * time.Second):
		t.Fatal("expected swept event, got none")
	}
}
