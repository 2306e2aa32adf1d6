package dispatch

import (
	"context"
	"time"

	"github.com/leeforge/imageresize/runtime"
)

// TopicOriginalUploaded is the event name every trigger source publishes on.
const TopicOriginalUploaded = "image.original.uploaded"

// Trigger names one original, e.g. "groupimages/originals/photo.jpg".
type Trigger struct {
	Path   string
	Source string
	// Data is the original's body when the source already has it; nil means
	// the dispatcher reads it from the store.
	Data []byte
	// Complete, when set, receives the processing outcome. Sources that
	// acknowledge work upstream use it.
	Complete func(error)
}

// Publisher is satisfied by runtime.EventBus and *runtime.Runtime.
type Publisher interface {
	Publish(ctx context.Context, event runtime.Event) error
}

// Publish wraps t in an event on TopicOriginalUploaded.
func Publish(ctx context.Context, pub Publisher, t Trigger) error {
	return pub.Publish(ctx, runtime.Event{
		Name:      TopicOriginalUploaded,
		Data:      t,
		Source:    t.Source,
		Timestamp: time.Now(),
	})
}
