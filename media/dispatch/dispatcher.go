// Package dispatch routes original-upload triggers to the category pipeline.
package dispatch

import (
	"context"
	"fmt"
	"io"
	goruntime "runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/leeforge/imageresize/concurrency"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/pipeline"
	"github.com/leeforge/imageresize/media/size"
	"github.com/leeforge/imageresize/media/storage"
	"github.com/leeforge/imageresize/metrics"
	"github.com/leeforge/imageresize/runtime"
	"go.uber.org/zap"
)

const ServiceName = "dispatcher"

// Processor runs one original through its sizes. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, original pipeline.Original, sizes []size.Spec) *pipeline.Report
}

// Dispatcher consumes triggers from the event bus. Duplicate triggers for
// the same original are processed again; the overwriting writer makes the
// result converge.
type Dispatcher struct {
	registry  *category.Registry
	store     storage.Store
	processor Processor
	bus       runtime.EventBus
	limiter   *concurrency.ConcurrencyLimiter
	logger    logging.Logger
	metrics   *metrics.Collector

	mu  sync.Mutex
	sub runtime.Subscription
}

type Option func(*Dispatcher)

// WithWorkers bounds concurrently processed originals; n <= 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n <= 0 {
			n = goruntime.GOMAXPROCS(0)
		}
		d.limiter = concurrency.NewConcurrencyLimiter(n)
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(registry *category.Registry, store storage.Store, processor Processor, bus runtime.EventBus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		store:     store,
		processor: processor,
		bus:       bus,
		logger:    logging.NewNop(),
	}
	WithWorkers(0)(d)
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch")
	return d
}

func (d *Dispatcher) Name() string           { return ServiceName }
func (d *Dispatcher) Dependencies() []string { return nil }

// Start subscribes to TopicOriginalUploaded.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		return nil
	}
	d.sub = d.bus.Subscribe(TopicOriginalUploaded, d.handleEvent)
	d.logger.Info("dispatcher started", zap.Int("workers", d.limiter.MaxConcurrent()))
	return nil
}

// ConsumesEvents makes the runtime drain queued triggers before Stop.
func (d *Dispatcher) ConsumesEvents() bool { return true }

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		d.sub.Unsubscribe()
		d.sub = nil
	}
	return nil
}

func (d *Dispatcher) handleEvent(ctx context.Context, event runtime.Event) error {
	var t Trigger
	switch data := event.Data.(type) {
	case Trigger:
		t = data
	case *Trigger:
		t = *data
	default:
		return fmt.Errorf("unexpected %s payload %T", event.Name, event.Data)
	}

	err := d.Handle(ctx, t)
	if t.Complete != nil {
		t.Complete(err)
	}
	return err
}

// Handle processes one trigger synchronously, waiting for a free worker slot.
func (d *Dispatcher) Handle(ctx context.Context, t Trigger) error {
	done := d.metrics.TrackInFlight()
	defer done()

	err := d.limiter.Execute(ctx, func(ctx context.Context) error {
		return d.handle(ctx, t)
	})
	d.metrics.ObserveTrigger(t.Source, err)
	return err
}

func (d *Dispatcher) handle(ctx context.Context, t Trigger) error {
	cat, filename, err := d.registry.Resolve(t.Path)
	if err != nil {
		d.logger.Warn("trigger rejected",
			zap.String("path", t.Path),
			zap.String("source", t.Source),
			zap.Error(err))
		return err
	}

	ctx = logging.SetTriggerID(ctx, uuid.NewString())
	ctx = logging.SetCategory(ctx, cat.Name)
	log := logging.WithContext(d.logger, ctx)
	ctx = logging.ToContext(ctx, log)

	log.Info("processing original",
		zap.String("filename", filename),
		zap.String("source", t.Source))

	data := t.Data
	if data == nil {
		data, err = d.load(ctx, cat, filename)
		if err != nil {
			log.WithError(err).Error("load original failed", zap.String("filename", filename))
			return err
		}
	}

	report := d.processor.Process(ctx, pipeline.Original{
		Category: cat.Name,
		Filename: filename,
		Data:     data,
	}, cat.Sizes)
	return report.Err()
}

func (d *Dispatcher) load(ctx context.Context, cat category.Category, filename string) ([]byte, error) {
	key := cat.OriginalKey(filename)
	rc, err := d.store.Get(ctx, cat.Name, key)
	if err != nil {
		if apperrors.TypeOf(err) == apperrors.ErrorTypeUnknown {
			err = apperrors.NewStorageRead(cat.Name, key, err)
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperrors.NewStorageRead(cat.Name, key, err)
	}
	return data, nil
}
