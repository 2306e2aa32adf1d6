package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leeforge/imageresize/config"
	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/dispatch"
	"github.com/leeforge/imageresize/media/size"
	"github.com/leeforge/imageresize/runtime"
	"github.com/stretchr/testify/require"
)

// recorder is a dispatch.Publisher that keeps every trigger it receives.
type recorder struct {
	mu       sync.Mutex
	triggers []dispatch.Trigger
	ch       chan dispatch.Trigger
	err      error
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan dispatch.Trigger, 64)}
}

func (r *recorder) Publish(ctx context.Context, event runtime.Event) error {
	if r.err != nil {
		return r.err
	}
	t := event.Data.(dispatch.Trigger)
	r.mu.Lock()
	r.triggers = append(r.triggers, t)
	r.mu.Unlock()
	r.ch <- t
	return nil
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, t.Path)
	}
	return out
}

func (r *recorder) next(t *testing.T, timeout time.Duration) dispatch.Trigger {
	t.Helper()
	select {
	case trig := <-r.ch:
		return trig
	case <-time.After(timeout):
		t.Fatal("no trigger published")
		return dispatch.Trigger{}
	}
}

func defaultRegistry(t *testing.T) *category.Registry {
	t.Helper()
	r, err := category.NewRegistry(config.DefaultCategories(), size.NewPolicy())
	require.NoError(t, err)
	return r
}
