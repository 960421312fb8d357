package redisstream

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xpush"
)

func testConfig() Config {
	cfg := Defaults()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Block = 200 * time.Millisecond
	return cfg
}

// redisClient returns a connected client or skips the test.
func redisClient(tb testing.TB) *redis.Client {
	cfg := testConfig()
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		tb.Skipf("Redis not available: %v", err)
	}
	return client
}

func cleanupStream(client *redis.Client, stream, group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if group != "" {
		_ = client.XGroupDestroy(ctx, stream, group).Err()
	}
	_ = client.Del(ctx, stream).Err()
}

func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func eventFrame(t *testing.T, target string) *xpush.Frame {
	t.Helper()
	ev := xpush.NewEvent(target, xpush.SensorDataChangeEvent{SensorReading: xpush.Reading(21.5)})
	f, err := xpush.EncodeFrame(xpush.JSONCodec{}, target, ev, time.Now())
	require.NoError(t, err)
	return f
}

func TestConfigFromMap_DecodedFileValues(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":           "redis:6379",
		"db":             int64(2),
		"concurrency":    4,
		"batch_size":     float64(64),
		"block":          "750ms",
		"dead_letter":    "dlq",
		"max_len_approx": 1000,
		"claim_min_idle": "1m",
	})

	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Block)
	assert.Equal(t, "dlq", cfg.DeadLetter)
	assert.Equal(t, int64(1000), cfg.MaxLenApprox)
	assert.Equal(t, time.Minute, cfg.ClaimMinIdle)
	assert.Equal(t, "xpush", cfg.Group)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Block = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.ClaimMinIdle = time.Second
	cfg.ClaimInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestDecodeFrame_FromStreamValues(t *testing.T) {
	produced := time.Unix(1700000000, 123)
	// Redis returns every field as a string.
	vals := map[string]any{
		fieldID:         "req-1",
		fieldKind:       "request",
		fieldPayload:    `{"type":"request"}`,
		fieldProducedAt: fmt.Sprintf("%d", produced.UnixNano()),
	}
	vals[fieldMetaPrefix+"target"] = "main"
	vals[fieldMetaPrefix+"origin"] = "cli"
	vals[fieldMetaPrefix+"name"] = "light.hue.on"

	f := decodeFrame("1700000000000-0", vals)
	assert.Equal(t, "req-1", f.ID)
	assert.Equal(t, xpush.KindRequest, f.Kind)
	assert.Equal(t, []byte(`{"type":"request"}`), f.Payload)
	assert.True(t, produced.Equal(f.ProducedAt))
	assert.Equal(t, "main", f.Meta(xpush.MetaTarget))
	assert.Equal(t, "light.hue.on", f.Meta(xpush.MetaName))

	anon := decodeFrame("1700000000000-1", map[string]any{fieldKind: "event"})
	assert.Equal(t, "1700000000000-1", anon.ID)
}

func TestPublish_SingleFrame(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	tr, err := NewTransport(testConfig())
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := unique("xpush-single")
	defer cleanupStream(client, topic, "")

	require.NoError(t, tr.Publish(ctx, topic, eventFrame(t, topic)))

	n, err := client.XLen(ctx, topic).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPublish_BatchFrames(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	tr, err := NewTransport(testConfig())
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := unique("xpush-batch")
	defer cleanupStream(client, topic, "")

	const batchSize = 50
	frames := make([]*xpush.Frame, batchSize)
	for i := range frames {
		frames[i] = eventFrame(t, topic)
	}
	require.NoError(t, tr.Publish(ctx, topic, frames...))

	n, err := client.XLen(ctx, topic).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(batchSize), n)

	stats, ok := StatsOf(tr)
	require.True(t, ok)
	assert.Equal(t, uint64(batchSize), stats.Published)
}

func TestSubscribe_ConsumesAllFrames(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	cfg := testConfig()
	cfg.Group = unique("xpush-group")
	cfg.Concurrency = 4
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := unique("xpush-consume")
	defer cleanupStream(client, topic, cfg.Group)

	const total = 100
	var consumed atomic.Int64
	done := make(chan struct{})
	sub, err := tr.Subscribe(ctx, topic, cfg.Group, func(d xpush.Delivery) {
		assert.Equal(t, xpush.KindEvent, d.Frame().Kind)
		_ = d.Ack(ctx)
		if consumed.Add(1) == total {
			close(done)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	frames := make([]*xpush.Frame, total)
	for i := range frames {
		frames[i] = eventFrame(t, topic)
	}
	require.NoError(t, tr.Publish(ctx, topic, frames...))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for frames (consumed %d/%d)", consumed.Load(), total)
	}
}

func TestDeadLetter_NackWritesToDLQ(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	cfg := testConfig()
	cfg.Group = unique("xpush-dlq-group")
	cfg.DeadLetter = unique("xpush-dlq")
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := unique("xpush-dlq-topic")
	defer cleanupStream(client, topic, cfg.Group)
	defer cleanupStream(client, cfg.DeadLetter, "")

	nacked := make(chan struct{})
	sub, err := tr.Subscribe(ctx, topic, cfg.Group, func(d xpush.Delivery) {
		assert.NoError(t, d.Nack(ctx, fmt.Errorf("boom")))
		close(nacked)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, topic, eventFrame(t, topic)))

	select {
	case <-nacked:
	case <-time.After(5 * time.Second):
		t.Fatal("frame never delivered")
	}

	entries, err := client.XRange(ctx, cfg.DeadLetter, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Values[fieldError])
	assert.Equal(t, topic, entries[0].Values[fieldOrigTopic])
	assert.Equal(t, "event", entries[0].Values[fieldKind])
}

func TestPusher_RequestResponseOverStreams(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	cfg := testConfig()
	tr, err := NewTransport(cfg)
	require.NoError(t, err)

	target, origin := unique("xpush-main"), unique("xpush-cli")
	defer cleanupStream(client, target, cfg.Group)
	defer cleanupStream(client, origin, cfg.Group)

	p, closeFn, err := xpush.New(func(pb *xpush.PusherBuilder) {
		pb.WithTransportInstance(tr).WithOrigin(origin).WithGroup(cfg.Group)
	})
	require.NoError(t, err)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := xpush.NewResponder(p, target).Handle("shell.exec", func(_ context.Context, req *xpush.Request) (any, error) {
		return fmt.Sprintf("ran %v", req.Args["cmd"]), nil
	})
	require.NoError(t, r.Start(ctx))
	defer r.Close()

	resp, err := p.SendRequest(ctx, target, "shell.exec", 5*time.Second, map[string]any{"cmd": "uptime"})
	require.NoError(t, err)
	assert.False(t, resp.IsError())
	assert.Equal(t, "ran uptime", resp.Output)
	assert.Equal(t, origin, resp.Target)
	assert.Equal(t, target, resp.Origin)
}

func BenchmarkPublish_Single(b *testing.B) {
	client := redisClient(b)
	defer client.Close()

	tr, err := NewTransport(testConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer tr.Close(context.Background())

	topic := unique("xpush-bench")
	defer cleanupStream(client, topic, "")

	ev := xpush.NewEvent(topic, xpush.BluetoothDeviceConnectedEvent{BluetoothPeer: xpush.Peer("AA:BB:CC:DD:EE:FF", "5")})
	f, err := xpush.EncodeFrame(xpush.JSONCodec{}, topic, ev, time.Now())
	if err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tr.Publish(ctx, topic, f); err != nil {
			b.Fatal(err)
		}
	}
}
