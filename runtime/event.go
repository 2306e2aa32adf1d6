package runtime

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusClosed is returned when publishing to a closed EventBus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrPublishTimeout is returned when the publish buffer is full and context expires.
	ErrPublishTimeout = errors.New("event publish timeout: buffer full")
)

// Event is a notification travelling from a source to its subscribers.
type Event struct {
	Name      string    // e.g. "image.original.uploaded"
	Data      any       // payload
	Source    string    // originating service name
	Timestamp time.Time // when the event was created
}

// EventHandler receives the publisher's context values, but not its
// cancellation: a handler keeps running after the publisher stops, until the
// bus drain deadline passes.
type EventHandler func(ctx context.Context, event Event) error

type Subscription interface {
	Unsubscribe()
}

// EventBus decouples trigger sources from the dispatcher.
type EventBus interface {
	// Publish sends an event. Blocks if buffer is full until ctx expires.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for a topic. Returns a Subscription for unsubscribing.
	Subscribe(topic string, handler EventHandler) Subscription

	// Drain stops accepting events, delivers the queued ones and waits for
	// in-flight handlers. When ctx ends first, handler contexts are canceled
	// and Drain returns once the handlers have returned.
	Drain(ctx context.Context) error

	// Close is Drain without a deadline.
	Close() error
}
