package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/leeforge/imageresize/errors"
)

type memoryObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// MemoryStore is a process-local Store. Like a real blob service it refuses
// writes into containers that were never created.
type MemoryStore struct {
	mu         sync.RWMutex
	containers map[string]map[string]memoryObject
	puts       int
	creates    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{containers: make(map[string]map[string]memoryObject)}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) EnsureContainer(ctx context.Context, container string) error {
	if err := validateKey(container, "key"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[container]; !ok {
		s.containers[container] = make(map[string]memoryObject)
		s.creates++
	}
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, container, key string, r io.Reader, size int64, contentType string) error {
	if err := validateKey(container, key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return apperrors.NewStorageWrite(container, key, err)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageWrite(container, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.containers[container]
	if !ok {
		return apperrors.NewStorageWrite(container, key, fmt.Errorf("container %q does not exist", container))
	}
	objects[key] = memoryObject{data: data, contentType: contentType, modTime: time.Now()}
	s.puts++
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.containers[container][key]
	if !ok {
		return nil, apperrors.NewNotFound("object", container+"/"+key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ObjectInfo
	for key, obj := range s.containers[container] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Object returns a copy of the stored bytes and content type.
func (s *MemoryStore) Object(container, key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.containers[container][key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Len counts the objects in container.
func (s *MemoryStore) Len(container string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.containers[container])
}

// Stats reports how many containers were created and objects written.
func (s *MemoryStore) Stats() (creates, puts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creates, s.puts
}

var _ Store = (*MemoryStore)(nil)
