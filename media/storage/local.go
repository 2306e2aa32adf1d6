package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/leeforge/imageresize/errors"
)

const tempPrefix = ".tmp-"

// LocalStore keeps every container as a directory under basePath.
type LocalStore struct {
	basePath string
}

func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		return nil, apperrors.NewConfig("local storage requires a base path")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	return &LocalStore{basePath: abs}, nil
}

func (s *LocalStore) Name() string { return "local" }

// BasePath is the absolute directory holding the containers.
func (s *LocalStore) BasePath() string { return s.basePath }

// Locate maps a file below BasePath back to its container and key.
func (s *LocalStore) Locate(file string) (container, key string, ok bool) {
	rel, err := filepath.Rel(s.basePath, file)
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) != 2 || parts[0] == ".." || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s *LocalStore) EnsureContainer(ctx context.Context, container string) error {
	if err := validateKey(container, "key"); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.basePath, container), 0o755); err != nil {
		return apperrors.NewContainer(container, err)
	}
	return nil
}

// Put writes to a temporary file in the target directory and renames it into
// place, so readers never observe a partial object.
func (s *LocalStore) Put(ctx context.Context, container, key string, r io.Reader, size int64, contentType string) error {
	if err := validateKey(container, key); err != nil {
		return err
	}
	root := filepath.Join(s.basePath, container)
	if _, err := os.Stat(root); err != nil {
		return apperrors.NewStorageWrite(container, key, fmt.Errorf("container missing: %w", err))
	}

	fullPath := filepath.Join(root, filepath.FromSlash(key))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewStorageWrite(container, key, err)
	}

	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	if err := writeFile(ctx, tmp, r); err != nil {
		_ = os.Remove(tmp)
		return apperrors.NewStorageWrite(container, key, err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return apperrors.NewStorageWrite(container, key, err)
	}
	return nil
}

func writeFile(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *LocalStore) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := validateKey(container, key); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.basePath, container, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFound("object", container+"/"+key)
		}
		return nil, apperrors.NewStorageRead(container, key, err)
	}
	return f, nil
}

func (s *LocalStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	if err := validateKey(container, "key"); err != nil {
		return nil, err
	}
	root := filepath.Join(s.basePath, container)

	var out []ObjectInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageRead(container, prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

var _ Store = (*LocalStore)(nil)
