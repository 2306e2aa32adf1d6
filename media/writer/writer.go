// Package writer persists encoded variants into the object store.
package writer

import (
	"bytes"
	"context"
	"sync"
	"time"

	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/storage"
	"github.com/leeforge/imageresize/metrics"
	"go.uber.org/zap"
)

// Writer uploads variants with unconditional overwrite, creating each
// category container at most once per process.
type Writer struct {
	store   storage.Store
	logger  logging.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	ensured map[string]*containerState
}

type containerState struct {
	once sync.Mutex
	done bool
}

func New(store storage.Store, logger logging.Logger, m *metrics.Collector) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		store:   store,
		logger:  logger.Named("writer"),
		metrics: m,
		ensured: make(map[string]*containerState),
	}
}

// Write stores data at category/relativePath. Every failure is a storage
// AppError.
func (w *Writer) Write(ctx context.Context, data []byte, category, relativePath, contentType string) error {
	if err := w.ensure(ctx, category); err != nil {
		return err
	}

	start := time.Now()
	err := w.store.Put(ctx, category, relativePath, bytes.NewReader(data), int64(len(data)), contentType)
	w.metrics.ObserveWrite(w.store.Name(), time.Since(start), err)
	if err != nil {
		if !apperrors.IsType(err, apperrors.ErrorTypeStorage) {
			err = apperrors.NewStorageWrite(category, relativePath, err)
		}
		return err
	}

	w.logger.Debug("variant written",
		zap.String("category", category),
		zap.String("key", relativePath),
		zap.Int("bytes", len(data)))
	return nil
}

// ensure creates the container once. A failed attempt is retried by the next
// write; concurrent callers for the same container wait for the first one.
func (w *Writer) ensure(ctx context.Context, container string) error {
	w.mu.Lock()
	state, ok := w.ensured[container]
	if !ok {
		state = &containerState{}
		w.ensured[container] = state
	}
	w.mu.Unlock()

	state.once.Lock()
	defer state.once.Unlock()
	if state.done {
		return nil
	}
	if err := w.store.EnsureContainer(ctx, container); err != nil {
		if !apperrors.IsType(err, apperrors.ErrorTypeStorage) {
			err = apperrors.NewContainer(container, err)
		}
		return err
	}
	state.done = true
	w.logger.Info("container ready", zap.String("container", container), zap.String("store", w.store.Name()))
	return nil
}
