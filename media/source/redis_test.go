package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/leeforge/imageresize/config"
	"github.com/leeforge/imageresize/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu       sync.Mutex
	groupErr error
	pending  []redis.XMessage
	incoming []redis.XMessage
	reads    []string
	added    []map[string]interface{}
	acked    []string
}

func (f *fakeStream) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	id := a.Streams[1]
	f.reads = append(f.reads, id)
	var msgs []redis.XMessage
	if id == "0" {
		msgs, f.pending = f.pending, nil
	} else {
		msgs, f.incoming = f.incoming, nil
	}
	f.mu.Unlock()

	if len(msgs) > 0 {
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}}, nil)
	}
	select {
	case <-ctx.Done():
		return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
	case <-time.After(5 * time.Millisecond):
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a.Values.(map[string]interface{}))
	return redis.NewStringResult("2-0", nil)
}

func (f *fakeStream) snapshot() (acked []string, added []map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...), append([]map[string]interface{}(nil), f.added...)
}

func redisConfig() config.RedisSourceConfig {
	return config.RedisSourceConfig{
		Stream:       "images:originals",
		Group:        "image-resize",
		Consumer:     "test",
		BlockTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
	}
}

func message(id, path string, attempt int) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"payload": `{"path":"` + path + `"}`,
		"attempt": attempt,
	}}
}

func TestParseMessage(t *testing.T) {
	raw, path, attempt, err := ParseMessage(map[string]interface{}{
		"payload": `{"path":"groupimages/originals/photo.jpg"}`,
		"attempt": "2",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"path":"groupimages/originals/photo.jpg"}`, raw)
	assert.Equal(t, "groupimages/originals/photo.jpg", path)
	assert.Equal(t, 2, attempt)

	_, _, attempt, err = ParseMessage(map[string]interface{}{"payload": `{"path":"a/originals/b.png"}`})
	require.NoError(t, err)
	assert.Zero(t, attempt)
}

func TestParseMessage_Rejects(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"no payload":    {"attempt": "0"},
		"not a string":  {"payload": 42},
		"bad json":      {"payload": "{"},
		"unknown field": {"payload": `{"path":"a/originals/b.png","extra":1}`},
		"empty path":    {"payload": `{"path":"  "}`},
	}
	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := ParseMessage(values)
			assert.Error(t, err)
		})
	}
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 3, toInt(3))
	assert.Equal(t, 4, toInt(int64(4)))
	assert.Equal(t, 5, toInt("5"))
	assert.Equal(t, 0, toInt("five"))
	assert.Equal(t, 0, toInt(nil))
}

func TestEnqueue(t *testing.T) {
	client := &fakeStream{}
	id, err := Enqueue(context.Background(), client, "images:originals", "sheetimages/originals/s.png")
	require.NoError(t, err)
	assert.Equal(t, "2-0", id)

	_, added := client.snapshot()
	require.Len(t, added, 1)
	_, path, attempt, err := ParseMessage(added[0])
	require.NoError(t, err)
	assert.Equal(t, "sheetimages/originals/s.png", path)
	assert.Zero(t, attempt)
}

func TestEnsureGroup(t *testing.T) {
	client := &fakeStream{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	src := NewRedisSource(client, redisConfig(), newRecorder(), nil, nil)
	assert.NoError(t, src.EnsureGroup(context.Background()))

	client.groupErr = errors.New("NOPERM")
	assert.Error(t, src.EnsureGroup(context.Background()))
	assert.Error(t, src.Start(context.Background()))
}

func TestRedisSource_CompleteAcks(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	src := NewRedisSource(client, redisConfig(), rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))
	trig := rec.next(t, time.Second)
	assert.Equal(t, NameRedis, trig.Source)
	assert.Equal(t, "groupimages/originals/a.jpg", trig.Path)
	assert.Nil(t, trig.Data)

	acked, _ := client.snapshot()
	assert.Empty(t, acked, "ack waits for the outcome")

	trig.Complete(nil)
	acked, added := client.snapshot()
	assert.Equal(t, []string{"1-0"}, acked)
	assert.Empty(t, added)
}

func TestRedisSource_FailureRequeuesUntilMaxAttempts(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	src := NewRedisSource(client, redisConfig(), rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))
	rec.next(t, time.Second).Complete(errors.New("storage down"))

	acked, added := client.snapshot()
	assert.Equal(t, []string{"1-0"}, acked)
	require.Len(t, added, 1)
	_, path, attempt, err := ParseMessage(added[0])
	require.NoError(t, err)
	assert.Equal(t, "groupimages/originals/a.jpg", path)
	assert.Equal(t, 1, attempt)

	src.handle(context.Background(), message("3-0", "groupimages/originals/a.jpg", 2))
	rec.next(t, time.Second).Complete(errors.New("storage down"))

	acked, added = client.snapshot()
	assert.Equal(t, []string{"1-0", "3-0"}, acked)
	assert.Len(t, added, 1, "last attempt is not requeued")
}

func TestRedisSource_MalformedEntryIsDropped(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	m := metrics.NewCollector()
	src := NewRedisSource(client, redisConfig(), rec, nil, m)

	src.handle(context.Background(), redis.XMessage{ID: "9-0", Values: map[string]interface{}{"payload": "nope"}})

	acked, _ := client.snapshot()
	assert.Equal(t, []string{"9-0"}, acked)
	assert.Empty(t, rec.paths())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceErrorsTotal.WithLabelValues(NameRedis)))
}

func TestRedisSource_PublishFailureLeavesEntryPending(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	rec.err = errors.New("bus closed")
	src := NewRedisSource(client, redisConfig(), rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))

	acked, added := client.snapshot()
	assert.Empty(t, acked)
	assert.Empty(t, added)
}

func TestRedisSource_RunReadsPendingThenNew(t *testing.T) {
	client := &fakeStream{
		pending:  []redis.XMessage{message("1-0", "groupimages/originals/old.jpg", 0)},
		incoming: []redis.XMessage{message("2-0", "sheetimages/originals/new.png", 0)},
	}
	rec := newRecorder()
	src := NewRedisSource(client, redisConfig(), rec, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx))

	first := rec.next(t, 2*time.Second)
	second := rec.next(t, 2*time.Second)
	assert.Equal(t, "groupimages/originals/old.jpg", first.Path)
	assert.Equal(t, "sheetimages/originals/new.png", second.Path)
	first.Complete(nil)
	second.Complete(nil)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, src.Stop(stopCtx))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.NotEmpty(t, client.reads)
	assert.Equal(t, "0", client.reads[0])
}

func TestRedisSource_BoundsInFlightEntries(t *testing.T) {
	var incoming []redis.XMessage
	for _, id := range []string{"1-0", "2-0", "3-0", "4-0", "5-0"} {
		incoming = append(incoming, message(id, "groupimages/originals/"+id+".jpg", 0))
	}
	client := &fakeStream{incoming: incoming}
	rec := newRecorder()
	cfg := redisConfig()
	cfg.MaxInFlight = 2
	src := NewRedisSource(client, cfg, rec, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	first := rec.next(t, time.Second)
	second := rec.next(t, time.Second)
	select {
	case trig := <-rec.ch:
		t.Fatalf("%s published while two entries were outstanding", trig.Path)
	case <-time.After(50 * time.Millisecond):
	}

	first.Complete(nil)
	third := rec.next(t, time.Second)
	assert.Equal(t, "groupimages/originals/3-0.jpg", third.Path)

	second.Complete(nil)
	third.Complete(nil)
	for range 2 {
		rec.next(t, time.Second).Complete(nil)
	}
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, src.Stop(stopCtx))

	acked, _ := client.snapshot()
	assert.ElementsMatch(t, []string{"1-0", "2-0", "3-0", "4-0", "5-0"}, acked)
}

func TestRedisSource_StopWaitsForOutstandingEntries(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	src := NewRedisSource(client, redisConfig(), rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))
	trig := rec.next(t, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, src.Stop(ctx), context.DeadlineExceeded)

	trig.Complete(nil)
	trig.Complete(nil)
	require.NoError(t, src.Stop(context.Background()))
	assert.Zero(t, src.inflight.InUse())
}

func TestRedisSource_InterruptedTriggerStaysPending(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	src := NewRedisSource(client, redisConfig(), rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))
	rec.next(t, time.Second).Complete(fmt.Errorf("size 100x100: %w", context.Canceled))

	acked, added := client.snapshot()
	assert.Empty(t, acked)
	assert.Empty(t, added, "an interrupted trigger keeps its attempt")
	assert.Zero(t, src.inflight.InUse())
}

func TestRedisSource_CanceledWhileFullLeavesEntryPending(t *testing.T) {
	client := &fakeStream{}
	rec := newRecorder()
	cfg := redisConfig()
	cfg.MaxInFlight = 1
	src := NewRedisSource(client, cfg, rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src.handle(ctx, message("2-0", "groupimages/originals/b.jpg", 0))

	assert.Equal(t, []string{"groupimages/originals/a.jpg"}, rec.paths())
	acked, _ := client.snapshot()
	assert.Empty(t, acked)
}

func TestRedisSource_PublishFailureReleasesSlot(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("bus closed")
	cfg := redisConfig()
	cfg.MaxInFlight = 1
	src := NewRedisSource(&fakeStream{}, cfg, rec, nil, nil)

	src.handle(context.Background(), message("1-0", "groupimages/originals/a.jpg", 0))
	assert.Zero(t, src.inflight.InUse())
	require.NoError(t, src.Stop(context.Background()))
}

func TestRedisSource_Service(t *testing.T) {
	src := NewRedisSource(&fakeStream{}, config.RedisSourceConfig{Stream: "s", Group: "g"}, newRecorder(), nil, nil)
	assert.Equal(t, "source.redis", src.Name())
	assert.Equal(t, []string{"dispatcher"}, src.Dependencies())
	assert.NoError(t, src.HealthCheck(context.Background()))
	assert.NotEmpty(t, src.cfg.Consumer)
	assert.Equal(t, 1, src.cfg.MaxAttempts)
	assert.Equal(t, defaultMaxInFlight, src.inflight.Capacity())
	assert.Equal(t, []string{"dispatcher", "redis.client"}, src.DependsOn("redis.client").Dependencies())
}
