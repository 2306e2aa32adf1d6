package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
)

// Store is a blob store addressed by container and key. A container is one
// image category; keys are slash separated ("480x360/photo.jpg").
type Store interface {
	Name() string
	// EnsureContainer creates container when absent. Concurrent and
	// repeated calls succeed.
	EnsureContainer(ctx context.Context, container string) error
	// Put writes the object, replacing any existing one. The container must exist.
	Put(ctx context.Context, container, key string, r io.Reader, size int64, contentType string) error
	// Get returns a not_found AppError when the object is missing.
	Get(ctx context.Context, container, key string) (io.ReadCloser, error)
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, container, prefix string) ([]ObjectInfo, error)
}

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStore(cfg.Local.BasePath)
	case "memory":
		return NewMemoryStore(), nil
	case "oss":
		return NewOSSStore(cfg.OSS)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, apperrors.NewConfig(fmt.Sprintf("unsupported storage driver %q", cfg.Driver))
	}
}

// validateKey rejects keys that could escape their container.
func validateKey(container, key string) error {
	if container == "" || strings.ContainsAny(container, `/\`) || container == "." || container == ".." {
		return apperrors.NewInvalid("container", container, "must be a single path segment")
	}
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return apperrors.NewInvalid("key", key, "must be a relative slash separated path")
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return apperrors.NewInvalid("key", key, "must be a clean path")
	}
	return nil
}
