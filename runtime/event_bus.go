package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leeforge/imageresize/logging"
	"go.uber.org/zap"
)

// eventBus implements EventBus with a buffered channel and backpressure.
// Every handler invocation runs on its own goroutine.
type eventBus struct {
	subscribers map[string][]subscriberEntry
	mu          sync.RWMutex
	ch          chan eventEnvelope
	wg          sync.WaitGroup
	closed      atomic.Bool
	logger      logging.Logger
	nextID      atomic.Uint64
	done        chan struct{} // signals dispatcher goroutine to stop
	stopped     chan struct{} // closed once the dispatcher has returned

	abort       context.Context // canceled when a drain deadline passes
	abortCancel context.CancelFunc
}

type eventEnvelope struct {
	ctx   context.Context
	event Event
}

type subscriberEntry struct {
	id      uint64
	handler EventHandler
}

type subscription struct {
	bus   *eventBus
	topic string
	id    uint64
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscribers[s.topic]
	for i, entry := range subs {
		if entry.id == s.id {
			s.bus.subscribers[s.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// NewEventBus creates a new EventBus with the given buffer size.
func NewEventBus(bufferSize int, logger logging.Logger) EventBus {
	return newEventBus(bufferSize, logger)
}

func newEventBus(bufferSize int, logger logging.Logger) *eventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	abort, abortCancel := context.WithCancel(context.Background())
	bus := &eventBus{
		subscribers: make(map[string][]subscriberEntry),
		ch:          make(chan eventEnvelope, bufferSize),
		logger:      logger.Named("event_bus"),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		abort:       abort,
		abortCancel: abortCancel,
	}

	go bus.dispatch()
	return bus
}

func (b *eventBus) dispatch() {
	defer close(b.stopped)
	for {
		select {
		case env := <-b.ch:
			b.fanOut(env)
		case <-b.done:
			for {
				select {
				case env := <-b.ch:
					b.fanOut(env)
				default:
					return
				}
			}
		}
	}
}

func (b *eventBus) fanOut(env eventEnvelope) {
	b.mu.RLock()
	subs := append([]subscriberEntry{}, b.subscribers[env.event.Name]...)
	b.mu.RUnlock()

	for _, entry := range subs {
		b.wg.Add(1)
		go func(h EventHandler) {
			defer b.wg.Done()
			if err := b.invoke(h, env); err != nil {
				b.logger.Warn("event handler error",
					zap.String("event", env.event.Name),
					zap.String("source", env.event.Source),
					zap.Error(err))
			}
		}(entry.handler)
	}
}

func (b *eventBus) invoke(h EventHandler, env eventEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	ctx, cancel := context.WithCancel(context.WithoutCancel(env.ctx))
	defer cancel()
	stop := context.AfterFunc(b.abort, cancel)
	defer stop()

	return h(ctx, env.event)
}

// Publish sends an event. Blocks until buffer has space or ctx expires.
func (b *eventBus) Publish(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	env := eventEnvelope{ctx: ctx, event: event}

	select {
	case b.ch <- env:
		return nil
	default:
		select {
		case b.ch <- env:
			return nil
		case <-b.done:
			return ErrBusClosed
		case <-ctx.Done():
			return ErrPublishTimeout
		}
	}
}

func (b *eventBus) Subscribe(topic string, handler EventHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{
		id:      id,
		handler: handler,
	})

	return &subscription{bus: b, topic: topic, id: id}
}

// Drain stops accepting new events, delivers pending ones and waits for
// in-flight handlers, aborting them once ctx ends.
func (b *eventBus) Drain(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}

	close(b.done)
	idle := make(chan struct{})
	go func() {
		<-b.stopped
		b.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		b.abortCancel()
		return nil
	case <-ctx.Done():
		b.abortCancel()
		<-idle
		b.logger.Warn("event bus drain aborted", zap.Error(ctx.Err()))
		return fmt.Errorf("drain event bus: %w", ctx.Err())
	}
}

func (b *eventBus) Close() error {
	return b.Drain(context.Background())
}
