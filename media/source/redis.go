package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/leeforge/imageresize/concurrency"
	"github.com/leeforge/imageresize/config"
	"github.com/leeforge/imageresize/json"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/dispatch"
	"github.com/leeforge/imageresize/metrics"
	"go.uber.org/zap"
)

const (
	fieldPayload = "payload"
	fieldAttempt = "attempt"

	ackTimeout = 5 * time.Second

	defaultMaxInFlight = 64
)

// StreamClient is the part of the go-redis client the stream source uses.
type StreamClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamMessage is the JSON payload of one stream entry.
type StreamMessage struct {
	Path string `json:"path"`
}

// RedisSource consumes upload notifications from a Redis stream through a
// consumer group. A failed trigger is acknowledged and re-queued with an
// incremented attempt counter until MaxAttempts is reached. At most
// MaxInFlight entries are published and not yet completed at any time.
type RedisSource struct {
	client  StreamClient
	cfg     config.RedisSourceConfig
	pub     dispatch.Publisher
	logger  logging.Logger
	metrics *metrics.Collector
	deps    []string

	inflight *concurrency.Semaphore
	pending  sync.WaitGroup
	wg       sync.WaitGroup
}

func NewRedisSource(client StreamClient, cfg config.RedisSourceConfig, pub dispatch.Publisher, logger logging.Logger, m *metrics.Collector) *RedisSource {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumer()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	return &RedisSource{
		client:   client,
		cfg:      cfg,
		pub:      pub,
		logger:   logger.Named("source.redis").With(zap.String("stream", cfg.Stream), zap.String("consumer", cfg.Consumer)),
		metrics:  m,
		deps:     []string{dispatch.ServiceName},
		inflight: concurrency.NewSemaphore(cfg.MaxInFlight),
	}
}

// DependsOn adds services that must start before, and stop after, the source.
func (s *RedisSource) DependsOn(names ...string) *RedisSource {
	s.deps = append(s.deps, names...)
	return s
}

// defaultConsumer is stable across restarts of the same host so that entries
// left pending by a crash are re-read on the next start.
func defaultConsumer() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return "imageresize-" + host
	}
	return "imageresize-" + uuid.NewString()
}

func (s *RedisSource) Name() string           { return "source." + NameRedis }
func (s *RedisSource) Dependencies() []string { return s.deps }

func (s *RedisSource) Start(ctx context.Context) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group %s: %w", s.cfg.Group, err)
	}
	s.logger.Info("redis source started", zap.String("group", s.cfg.Group))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

// Stop waits for the read loop, which exits once the start context ends, and
// then for every published entry to be acknowledged or left pending.
func (s *RedisSource) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RedisSource) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// EnsureGroup creates the stream and consumer group; an existing group is fine.
func (s *RedisSource) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisSource) run(ctx context.Context) {
	// entries delivered to this consumer before a restart but never acknowledged
	s.read(ctx, "0", 0)

	for ctx.Err() == nil {
		s.read(ctx, ">", s.cfg.BlockTimeout)
	}
}

func (s *RedisSource) read(ctx context.Context, id string, block time.Duration) {
	args := &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, id},
		Count:    16,
		Block:    block,
	}
	if id != ">" {
		// every pending entry at once; a negative Block omits BLOCK
		args.Count = 0
		args.Block = -1
	}

	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return
		}
		s.metrics.SourceError(NameRedis)
		s.logger.WithError(err).Warn("stream read failed")
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			s.handle(ctx, msg)
		}
	}
}

func (s *RedisSource) handle(ctx context.Context, msg redis.XMessage) {
	raw, path, attempt, err := ParseMessage(msg.Values)
	if err != nil {
		s.metrics.SourceError(NameRedis)
		s.logger.WithError(err).Warn("dropping malformed stream entry", zap.String("id", msg.ID))
		s.ack(msg.ID)
		return
	}

	// blocks the read loop while MaxInFlight entries are outstanding
	if err := s.inflight.Acquire(ctx); err != nil {
		return
	}
	s.pending.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.inflight.Release()
			s.pending.Done()
		})
	}

	complete := func(err error) {
		defer release()
		s.complete(msg.ID, raw, path, attempt, err)
	}
	if err := publish(ctx, s.pub, NameRedis, path, complete); err != nil {
		release()
		// left pending; re-read from "0" on the next start
		s.logger.WithError(err).Warn("publish failed", zap.String("id", msg.ID), zap.String("path", path))
	}
}

// complete acknowledges the entry once the dispatcher is done with it. A
// failure is re-queued as a fresh entry while attempts remain. A trigger cut
// short by cancellation keeps its attempt and stays pending.
func (s *RedisSource) complete(id, raw, path string, attempt int, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	log := s.logger.With(zap.String("id", id), zap.String("path", path), zap.Int("attempt", attempt))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.WithError(err).Warn("trigger interrupted, left pending")
		return
	}
	if err != nil {
		if attempt+1 < s.cfg.MaxAttempts {
			if addErr := s.client.XAdd(ctx, &redis.XAddArgs{
				Stream: s.cfg.Stream,
				Values: EncodeMessage(raw, attempt+1),
			}).Err(); addErr != nil {
				// keep the entry pending rather than lose it
				log.WithError(addErr).Error("requeue failed")
				return
			}
			log.WithError(err).Warn("trigger failed, requeued")
		} else {
			log.WithError(err).Error("trigger failed, giving up")
		}
	}
	s.ack(id)
}

func (s *RedisSource) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, id).Err(); err != nil {
		s.logger.WithError(err).Warn("ack failed", zap.String("id", id))
	}
}

// Enqueue appends an upload notification for path to stream.
func Enqueue(ctx context.Context, client StreamClient, stream, path string) (string, error) {
	raw, err := json.Marshal(StreamMessage{Path: path})
	if err != nil {
		return "", err
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: EncodeMessage(string(raw), 0),
	}).Result()
}

// EncodeMessage builds the stream entry fields.
func EncodeMessage(payload string, attempt int) map[string]interface{} {
	return map[string]interface{}{
		fieldPayload: payload,
		fieldAttempt: attempt,
	}
}

// ParseMessage extracts the raw payload, the trigger path and the attempt
// counter from stream entry fields.
func ParseMessage(values map[string]interface{}) (raw, path string, attempt int, err error) {
	raw, ok := values[fieldPayload].(string)
	if !ok {
		return "", "", 0, fmt.Errorf("missing %q field", fieldPayload)
	}
	var msg StreamMessage
	if err := json.UnmarshalStrict([]byte(raw), &msg); err != nil {
		return "", "", 0, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(msg.Path) == "" {
		return "", "", 0, fmt.Errorf("payload has no path")
	}
	return raw, msg.Path, toInt(values[fieldAttempt]), nil
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
