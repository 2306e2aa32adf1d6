package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, s Store, container, key, body string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), container, key, strings.NewReader(body), int64(len(body)), "image/jpeg"))
}

func read(t *testing.T, s Store, container, key string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), container, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// storeContract runs the behaviour shared by every Store implementation.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	err := s.Put(ctx, "groupimages", "100x100/photo.jpg", strings.NewReader("x"), 1, "image/jpeg")
	require.Error(t, err, "writes into a missing container fail")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorage))

	require.NoError(t, s.EnsureContainer(ctx, "groupimages"))
	require.NoError(t, s.EnsureContainer(ctx, "groupimages"), "ensure is idempotent")

	put(t, s, "groupimages", "100x100/photo.jpg", "first")
	put(t, s, "groupimages", "100x100/photo.jpg", "second")
	put(t, s, "groupimages", "480x360/photo.jpg", "large")
	put(t, s, "groupimages", "originals/photo.jpg", "orig")

	assert.Equal(t, "second", read(t, s, "groupimages", "100x100/photo.jpg"), "put overwrites")

	_, err = s.Get(ctx, "groupimages", "100x100/missing.jpg")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	all, err := s.List(ctx, "groupimages", "")
	require.NoError(t, err)
	keys := make([]string, 0, len(all))
	for _, o := range all {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"100x100/photo.jpg", "480x360/photo.jpg", "originals/photo.jpg"}, keys)

	originals, err := s.List(ctx, "groupimages", "originals/")
	require.NoError(t, err)
	require.Len(t, originals, 1)
	assert.Equal(t, int64(4), originals[0].Size)

	empty, err := s.List(ctx, "eventimages", "originals/")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalStore_Contract(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	storeContract(t, s)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestLocalStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.EnsureContainer(context.Background(), "sheetimages"))

	put(t, s, "sheetimages", "480x360/sheet.png", "png-bytes")

	entries, err := os.ReadDir(filepath.Join(dir, "sheetimages", "480x360"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sheet.png", entries[0].Name())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("disk full") }

func TestLocalStore_FailedWriteKeepsPreviousObject(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.EnsureContainer(context.Background(), "groupimages"))
	put(t, s, "groupimages", "100x100/a.jpg", "good")

	err = s.Put(context.Background(), "groupimages", "100x100/a.jpg", failingReader{}, -1, "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStorageWrite, apperrors.FromError(err).Code)

	assert.Equal(t, "good", read(t, s, "groupimages", "100x100/a.jpg"))
	entries, err := os.ReadDir(filepath.Join(dir, "groupimages", "100x100"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStore_Locate(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	container, key, ok := s.Locate(filepath.Join(s.BasePath(), "eventimages", "originals", "e.gif"))
	require.True(t, ok)
	assert.Equal(t, "eventimages", container)
	assert.Equal(t, "originals/e.gif", key)

	_, _, ok = s.Locate(filepath.Join(s.BasePath(), "eventimages"))
	assert.False(t, ok)
	_, _, ok = s.Locate(filepath.Join(filepath.Dir(s.BasePath()), "elsewhere", "x.jpg"))
	assert.False(t, ok)
}

func TestConcurrentEnsureContainer(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, s := range []Store{local, NewMemoryStore()} {
		t.Run(s.Name(), func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 32)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- s.EnsureContainer(context.Background(), "defaultimages")
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryStore_Helpers(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.EnsureContainer(context.Background(), "groupimages"))
	require.NoError(t, s.EnsureContainer(context.Background(), "groupimages"))
	require.NoError(t, s.Put(context.Background(), "groupimages", "100x100/a.png", bytes.NewReader([]byte{1, 2}), 2, "image/png"))

	data, ct, ok := s.Object("groupimages", "100x100/a.png")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, data)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, 1, s.Len("groupimages"))

	creates, puts := s.Stats()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, puts)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		container, key string
		ok             bool
	}{
		{"groupimages", "100x100/photo.jpg", true},
		{"groupimages", "originals/photo.jpg", true},
		{"", "a.jpg", false},
		{"a/b", "a.jpg", false},
		{"..", "a.jpg", false},
		{"groupimages", "", false},
		{"groupimages", "/abs.jpg", false},
		{"groupimages", "../escape.jpg", false},
		{"groupimages", "a/../../b.jpg", false},
		{"groupimages", `win\path.jpg`, false},
	}
	for _, tt := range tests {
		t.Run(tt.container+"|"+tt.key, func(t *testing.T) {
			err := validateKey(tt.container, tt.key)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid))
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.StorageConfig{Driver: "local", Local: config.LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name())

	s, err = New(ctx, config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	s, err = New(ctx, config.StorageConfig{Driver: "oss", OSS: config.OSSConfig{
		Endpoint: "oss-cn-hangzhou.aliyuncs.com", AccessKeyID: "ak", AccessKeySecret: "sk", BucketPrefix: "site-",
	}})
	require.NoError(t, err)
	assert.Equal(t, "oss", s.Name())
	assert.Equal(t, "site-groupimages", s.(*OSSStore).bucketName("groupimages"))

	s, err = New(ctx, config.StorageConfig{Driver: "s3", S3: config.S3Config{
		Region: "auto", Endpoint: "https://account.r2.cloudflarestorage.com", AccessKeyID: "ak", SecretAccessKey: "sk", UsePathStyle: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, "s3", s.Name())
	assert.Equal(t, "groupimages", s.(*S3Store).bucketName("groupimages"))

	_, err = New(ctx, config.StorageConfig{Driver: "ftp"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
}

func TestRemoteErrorClassification(t *testing.T) {
	assert.True(t, ossCode(oss.ServiceError{Code: "BucketAlreadyExists"}, "BucketAlreadyExists"))
	assert.True(t, ossCode(fmt.Errorf("wrapped: %w", oss.ServiceError{StatusCode: 404}), "NoSuchKey"))
	assert.False(t, ossCode(fmt.Errorf("timeout"), "NoSuchKey"))

	assert.True(t, bucketAlreadyPresent(&types.BucketAlreadyOwnedByYou{}))
	assert.True(t, bucketAlreadyPresent(fmt.Errorf("create: %w", &types.BucketAlreadyExists{})))
	assert.False(t, bucketAlreadyPresent(fmt.Errorf("access denied")))
}
