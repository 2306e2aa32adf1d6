package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leeforge/imageresize/media/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T) (*Watcher, *storage.LocalStore, *recorder) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	rec := newRecorder()
	w := NewWatcher(store, defaultRegistry(t), rec, 50*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = w.Stop(stopCtx)
	})
	return w, store, rec
}

func TestWatcher_CreatesAndWatchesOriginalsDirs(t *testing.T) {
	w, store, _ := startWatcher(t)

	dirs := w.Dirs()
	require.Len(t, dirs, 4)
	assert.Contains(t, dirs, filepath.Join(store.BasePath(), "groupimages", "originals"))
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.True(t, w.Optional())
	assert.Equal(t, "source.watch", w.Name())
}

func TestWatcher_DebouncesBurstIntoOneTrigger(t *testing.T) {
	_, store, rec := startWatcher(t)

	file := filepath.Join(store.BasePath(), "groupimages", "originals", "photo.jpg")
	f, err := os.Create(file)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.Write([]byte("chunk"))
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	trig := rec.next(t, 3*time.Second)
	assert.Equal(t, "groupimages/originals/photo.jpg", trig.Path)
	assert.Equal(t, NameWatch, trig.Source)
	assert.Nil(t, trig.Data)

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.paths(), 1)
}

func TestWatcher_StorePutIsTriggeredOnceWithoutTempFile(t *testing.T) {
	_, store, rec := startWatcher(t)

	put(t, store, "sheetimages", "originals/sheet.png")

	assert.Equal(t, "sheetimages/originals/sheet.png", rec.next(t, 3*time.Second).Path)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{"sheetimages/originals/sheet.png"}, rec.paths())
}

func TestWatcher_IgnoresDotfilesAndVariantDirs(t *testing.T) {
	_, store, rec := startWatcher(t)

	base := store.BasePath()
	require.NoError(t, os.WriteFile(filepath.Join(base, "groupimages", "originals", ".hidden.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "groupimages", "100x100"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "groupimages", "100x100", "photo.jpg"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.paths())
}
