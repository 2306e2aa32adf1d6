package source

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/dispatch"
	"github.com/leeforge/imageresize/media/storage"
	"github.com/leeforge/imageresize/metrics"
	"go.uber.org/zap"
)

// Scanner periodically lists the originals of every category and triggers
// those whose variants are missing or older than the original. An original
// that failed to decode is skipped until it is replaced.
type Scanner struct {
	store    storage.Store
	registry *category.Registry
	pub      dispatch.Publisher
	interval time.Duration
	logger   logging.Logger
	metrics  *metrics.Collector

	mu sync.Mutex
	// path -> ModTime of the original that failed to decode
	undecodable map[string]time.Time

	wg sync.WaitGroup
}

func NewScanner(store storage.Store, registry *category.Registry, pub dispatch.Publisher, interval time.Duration, logger logging.Logger, m *metrics.Collector) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scanner{
		store:    store,
		registry: registry,
		pub:      pub,
		interval: interval,
		logger:   logger.Named("source.scan"),
		metrics:  m,

		undecodable: make(map[string]time.Time),
	}
}

func (s *Scanner) Name() string           { return "source." + NameScan }
func (s *Scanner) Dependencies() []string { return []string{dispatch.ServiceName} }

// Start runs a first scan right away and then one per interval.
func (s *Scanner) Start(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.scanAndLog(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	s.logger.Info("scanner started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scanner) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scanner) scanAndLog(ctx context.Context) {
	n, err := s.ScanOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Warn("scan finished with errors", zap.Int("triggered", n))
		return
	}
	s.logger.Debug("scan finished", zap.Int("triggered", n))
}

// ScanOnce walks every category once and returns how many triggers it
// published. A failing category does not stop the others.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	chain := apperrors.NewErrorChain()
	total := 0
	for _, cat := range s.registry.All() {
		n, err := s.scanCategory(ctx, cat)
		total += n
		if err != nil {
			s.metrics.SourceError(NameScan)
			chain.Add(apperrors.Wrap(err, "scan "+cat.Name).WithDetail("category", cat.Name))
		}
	}
	s.metrics.ScanCompleted()
	return total, chain.ErrOrNil()
}

func (s *Scanner) scanCategory(ctx context.Context, cat category.Category) (int, error) {
	objects, err := s.store.List(ctx, cat.Name, "")
	if err != nil {
		return 0, err
	}

	modTimes := make(map[string]time.Time, len(objects))
	for _, obj := range objects {
		modTimes[obj.Key] = obj.ModTime
	}

	defer s.forgetMissing(cat.Name, objects)

	published := 0
	for _, obj := range objects {
		filename, ok := strings.CutPrefix(obj.Key, cat.OriginalsPrefix)
		if !ok || filename == "" || strings.Contains(filename, "/") {
			continue
		}
		if upToDate(cat, filename, obj.ModTime, modTimes) {
			continue
		}
		path := cat.Name + "/" + obj.Key
		if s.knownUndecodable(path, obj.ModTime) {
			continue
		}
		if err := publish(ctx, s.pub, NameScan, path, s.completion(path, obj.ModTime)); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// completion records decode failures so the next scans leave the original
// alone until its ModTime moves.
func (s *Scanner) completion(path string, modTime time.Time) func(error) {
	return func(err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if apperrors.IsType(err, apperrors.ErrorTypeDecode) {
			s.undecodable[path] = modTime
			s.logger.Warn("original is not decodable, skipping until it changes",
				zap.String("path", path),
				zap.Time("mod_time", modTime))
			return
		}
		delete(s.undecodable, path)
	}
}

func (s *Scanner) knownUndecodable(path string, modTime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed, ok := s.undecodable[path]
	return ok && !modTime.After(failed)
}

func (s *Scanner) forgetMissing(container string, objects []storage.ObjectInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undecodable) == 0 {
		return
	}
	listed := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		listed[container+"/"+obj.Key] = struct{}{}
	}
	for path := range s.undecodable {
		if strings.HasPrefix(path, container+"/") {
			if _, ok := listed[path]; !ok {
				delete(s.undecodable, path)
			}
		}
	}
}

func upToDate(cat category.Category, filename string, original time.Time, modTimes map[string]time.Time) bool {
	for _, spec := range cat.Sizes {
		variant, ok := modTimes[category.VariantKey(spec.Tag, filename)]
		if !ok || variant.Before(original) {
			return false
		}
	}
	return true
}
