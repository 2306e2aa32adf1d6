package app

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/storage"
	"github.com/leeforge/imageresize/testing/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, yaml string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	opts := config.DefaultConfigOptions()
	opts.BasePath = dir
	cfg, _, err := config.Load(opts)
	require.NoError(t, err)
	return cfg
}

func TestApp_ScanProcessesSeededOriginals(t *testing.T) {
	cfg := loadConfig(t, `
storage:
  driver: memory
scan:
  interval: 1h
http:
  addr: 127.0.0.1:0
`)
	ctx := context.Background()
	a, err := New(ctx, cfg, logging.NewNop())
	require.NoError(t, err)

	store := a.Store.(*storage.MemoryStore)
	original := fixture.JPEG(t, 800, 600)
	require.NoError(t, store.EnsureContainer(ctx, "groupimages"))
	require.NoError(t, store.Put(ctx, "groupimages", "originals/photo.jpg", bytes.NewReader(original), int64(len(original)), "image/jpeg"))

	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(stopCtx)
	})

	require.Eventually(t, func() bool {
		_, _, thumb := store.Object("groupimages", "100x100/photo.jpg")
		_, _, large := store.Object("groupimages", "480x360/photo.jpg")
		return thumb && large
	}, 10*time.Second, 20*time.Millisecond)

	data, _, _ := store.Object("groupimages", "480x360/photo.jpg")
	cfgImg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 480, cfgImg.Width)
	assert.Equal(t, 360, cfgImg.Height)

	resp, err := http.Get("http://" + a.HTTP.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"dispatcher":"ok"`)
	assert.Contains(t, string(body), `"source.scan":"ok"`)
}

func TestApp_ProcessLocalStore(t *testing.T) {
	base := t.TempDir()
	cfg := loadConfig(t, `
storage:
  driver: local
  local:
    base-path: `+base+`
scan:
  enabled: false
http:
  enabled: false
`)
	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a.HTTP)
	assert.Equal(t, []string{"dispatcher"}, registered(a))

	require.NoError(t, a.Process(context.Background(), "defaultimages/originals/icon.jpg", fixture.JPEG(t, 40, 40)))

	for _, key := range []string{"100x100", "480x360"} {
		f, err := os.Open(filepath.Join(base, "defaultimages", key, "icon.jpg"))
		require.NoError(t, err)
		c, err := jpeg.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 40, c.Width)
		assert.Equal(t, 40, c.Height)
	}

	err = a.Process(context.Background(), "defaultimages/originals/missing.jpg", nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestApp_WatchRequiresLocalStore(t *testing.T) {
	cfg := loadConfig(t, "storage:\n  driver: memory\n")
	cfg.Watch.Enabled = true

	_, err := New(context.Background(), cfg, logging.NewNop())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
}

func TestApp_StrictSizesRejectUnknownTags(t *testing.T) {
	cfg := loadConfig(t, `
storage:
  driver: memory
categories:
  - name: avatars
    sizes:
      - tag: 64x64
`)
	_, err := New(context.Background(), cfg, logging.NewNop())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnknownSizeTag, apperrors.FromError(err).Code)
}

func TestApp_RedisUnavailable(t *testing.T) {
	cfg := loadConfig(t, `
storage:
  driver: memory
redis:
  enabled: true
  host: 127.0.0.1
  port: "1"
`)
	_, err := New(context.Background(), cfg, logging.NewNop())
	assert.Error(t, err)
}

func registered(a *App) []string {
	var names []string
	for name := range a.Runtime.States() {
		names = append(names, name)
	}
	return names
}
