// Package pipeline turns one original image into every size variant of its
// category.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/leeforge/imageresize/concurrency"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/processor"
	"github.com/leeforge/imageresize/media/size"
	"github.com/leeforge/imageresize/metrics"
	"go.uber.org/zap"
)

// VariantWriter persists one encoded variant. *writer.Writer implements it.
type VariantWriter interface {
	Write(ctx context.Context, data []byte, category, relativePath, contentType string) error
}

// Original is the buffered upload a run reads from.
type Original struct {
	Category string
	Filename string
	Data     []byte
}

// Result is the outcome of a single size tag.
type Result struct {
	Tag      string
	Key      string
	Width    int
	Height   int
	Bytes    int
	Duration time.Duration
	Err      error
}

// Report lists one Result per requested size, in request order.
type Report struct {
	Category string
	Filename string
	Results  []Result
}

// Err joins every failed tag into an ErrorChain, or returns nil.
func (r *Report) Err() error {
	chain := apperrors.NewErrorChain()
	for _, res := range r.Results {
		if res.Err != nil {
			chain.Add(apperrors.Wrap(res.Err, "size "+res.Tag).WithDetail("tag", res.Tag))
		}
	}
	return chain.ErrOrNil()
}

// Failed counts the tags that did not produce a stored variant.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

type Pipeline struct {
	resizer  processor.Resizer
	writer   VariantWriter
	executor *concurrency.ParallelExecutor
	logger   logging.Logger
	metrics  *metrics.Collector
}

type Option func(*Pipeline)

// WithParallelism bounds how many sizes of one original are resized at once;
// n <= 0 runs every size concurrently.
func WithParallelism(n int) Option {
	return func(p *Pipeline) { p.executor = concurrency.NewParallelExecutor(n) }
}

func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(resizer processor.Resizer, writer VariantWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		resizer:  resizer,
		writer:   writer,
		executor: concurrency.NewParallelExecutor(0),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	return p
}

// Process resizes original into every size and writes each variant to
// {category}/{tag}/{filename}. Sizes fail independently; Process returns
// only after every write has finished.
func (p *Pipeline) Process(ctx context.Context, original Original, sizes []size.Spec) *Report {
	report := &Report{
		Category: original.Category,
		Filename: original.Filename,
		Results:  make([]Result, len(sizes)),
	}

	tasks := make([]func() error, len(sizes))
	for i, spec := range sizes {
		res := &report.Results[i]
		res.Tag = spec.Tag
		res.Key = category.VariantKey(spec.Tag, original.Filename)
		tasks[i] = func() error {
			return p.processSize(ctx, original, spec, res)
		}
	}

	p.executor.Execute(tasks)

	log := logging.WithContext(p.logger, ctx).With(
		zap.String("category", original.Category),
		zap.String("filename", original.Filename),
		zap.Int("sizes", len(sizes)),
	)
	if failed := report.Failed(); failed > 0 {
		log.WithError(report.Err()).Warn("original processed with failures", zap.Int("failed", failed))
	} else {
		log.Info("original processed")
	}
	return report
}

func (p *Pipeline) processSize(ctx context.Context, original Original, spec size.Spec, res *Result) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternal(fmt.Sprintf("resize %s panicked: %v", spec.Tag, r))
		}
		res.Duration = time.Since(start)
		res.Err = err
		p.metrics.ObserveVariant(original.Category, spec.Tag, res.Duration, err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	variant, err := p.resizer.Resize(bytes.NewReader(original.Data), original.Filename, spec)
	if err != nil {
		return err
	}
	if err := p.writer.Write(ctx, variant.Data, original.Category, res.Key, variant.ContentType); err != nil {
		return err
	}

	res.Width, res.Height, res.Bytes = variant.Width, variant.Height, len(variant.Data)
	p.logger.Debug("variant stored",
		zap.String("category", original.Category),
		zap.String("key", res.Key),
		zap.Int("width", variant.Width),
		zap.Int("height", variant.Height))
	return nil
}
