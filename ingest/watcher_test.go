package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_IngestsExistingAndNewArchives(t *testing.T) {
	tmp := t.TempDir()
	drop := filepath.Join(tmp, "drop")
	done := filepath.Join(tmp, "done")
	require.NoError(t, os.MkdirAll(drop, 0o755))

	fsys := afero.NewOsFs()
	store := openTestStore(t)
	coord := NewCoordinator(fsys, store, NewStealerDictionary([]string{"RedLine"}), nil, CoordinatorOptions{})
	runner, err := NewRunner(RunnerConfig{
		Inputs:  []string{filepath.Join(drop, "*.zip")},
		DoneDir: done,
	}, fsys, coord, nil)
	require.NoError(t, err)

	writeZip(t, fsys, filepath.Join(drop, "old.zip"), zipFile{name: "HOST-1/System.txt", body: "RedLine\nCountry: US\n"})

	w, err := NewWatcher(runner, []string{drop}, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	fileExists := func(p string) func() bool {
		return func() bool {
			ok, _ := afero.Exists(fsys, p)
			return ok
		}
	}
	require.Eventually(t, fileExists(filepath.Join(done, "old.zip")), 10*time.Second, 20*time.Millisecond)

	writeZip(t, fsys, filepath.Join(drop, "new.zip"), zipFile{name: "HOST-2/System.txt", body: "Country: CA\n"})
	require.NoError(t, os.WriteFile(filepath.Join(drop, "ignored.txt"), []byte("x"), 0o644))
	require.Eventually(t, fileExists(filepath.Join(done, "new.zip")), 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not stop")
	}

	uploads, err := store.ListUploads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	for _, u := range uploads {
		assert.Equal(t, StatusCompleted, u.Status, u.Filename)
	}
	exists, err := afero.Exists(fsys, filepath.Join(drop, "ignored.txt"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWatcher_ScheduleCoalescesEvents(t *testing.T) {
	coord, fsys := newTestCoordinator(t, nil, CoordinatorOptions{})
	runner, err := NewRunner(RunnerConfig{Inputs: []string{"/drop/*.zip"}}, fsys, coord, nil)
	require.NoError(t, err)
	w, err := NewWatcher(runner, []string{"/drop"}, 30*time.Millisecond, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w.schedule("/drop/a.zip")
	}

	select {
	case p := <-w.ready:
		assert.Equal(t, "/drop/a.zip", p)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled path never became ready")
	}
	select {
	case p := <-w.ready:
		t.Fatalf("unexpected second ready event for %s", p)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_ClaimIsExclusive(t *testing.T) {
	w := &Watcher{inflight: make(map[string]struct{})}

	assert.True(t, w.claim("a.zip"))
	assert.False(t, w.claim("a.zip"))
	assert.True(t, w.claim("b.zip"))
	w.release("a.zip")
	assert.True(t, w.claim("a.zip"))
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(nil, []string{"/drop"}, 0, nil)
	assert.Error(t, err)

	coord, fsys := newTestCoordinator(t, nil, CoordinatorOptions{})
	runner, err := NewRunner(RunnerConfig{Inputs: []string{"/drop/*.zip"}}, fsys, coord, nil)
	require.NoError(t, err)

	_, err = NewWatcher(runner, nil, 0, nil)
	assert.Error(t, err)

	w, err := NewWatcher(runner, []string{"/drop"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultDebounce, w.debounce)
}

func TestIsArchiveName(t *testing.T) {
	assert.True(t, isArchiveName("/drop/logs.zip"))
	assert.True(t, isArchiveName("/drop/LOGS.ZIP"))
	assert.False(t, isArchiveName("/drop/logs.zip.part"))
	assert.False(t, isArchiveName("/drop/notes.txt"))
}
