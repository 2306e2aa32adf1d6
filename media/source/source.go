// Package source feeds triggers into the dispatcher: a Redis stream for
// pushed uploads, a periodic store scan for anything missed, and a
// filesystem watcher for the local store.
package source

import (
	"context"

	"github.com/leeforge/imageresize/media/dispatch"
)

// Trigger source names, also used as metric labels.
const (
	NameRedis = "redis"
	NameScan  = "scan"
	NameWatch = "watch"
)

func publish(ctx context.Context, pub dispatch.Publisher, source, path string, complete func(error)) error {
	return dispatch.Publish(ctx, pub, dispatch.Trigger{
		Path:     path,
		Source:   source,
		Complete: complete,
	})
}
