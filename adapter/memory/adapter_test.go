package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xpush"
)

func frame(id string) *xpush.Frame {
	return &xpush.Frame{ID: id, Kind: xpush.KindEvent, Payload: []byte(`{}`), Metadata: map[string]string{"k": "v"}}
}

func collect(t *testing.T, tr *Transport, topic, group string) (<-chan *xpush.Frame, xpush.Subscription) {
	t.Helper()
	out := make(chan *xpush.Frame, 64)
	sub, err := tr.Subscribe(context.Background(), topic, group, func(d xpush.Delivery) {
		out <- d.Frame()
		_ = d.Ack(context.Background())
	})
	require.NoError(t, err)
	return out, sub
}

func receive(t *testing.T, ch <-chan *xpush.Frame) *xpush.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"buffer_size":      int64(64),
		"concurrency":      float64(3),
		"redelivery_delay": "250ms",
		"assign_ids":       false,
	})
	assert.Equal(t, Config{BufferSize: 64, Concurrency: 3, RedeliveryDelay: 250 * time.Millisecond}, cfg)

	def := ConfigFromMap(nil)
	assert.Equal(t, 1024, def.BufferSize)
	assert.Equal(t, 1, def.Concurrency)
	assert.True(t, def.AssignIDs)

	assert.Equal(t, cfg, ConfigFromMap(cfg.toMap()))
}

func TestPublish_WithoutSubscribersDrops(t *testing.T) {
	tr := NewTransport(Config{})
	require.NoError(t, tr.Publish(context.Background(), "nobody", frame("1")))
	assert.Zero(t, tr.Stats().Published)
}

func TestPublish_FansOutPerGroup(t *testing.T) {
	tr := NewTransport(Config{AssignIDs: true})
	a, subA := collect(t, tr, "main", "a")
	defer subA.Close()
	b, subB := collect(t, tr, "main", "b")
	defer subB.Close()

	sent := frame("")
	require.NoError(t, tr.Publish(context.Background(), "main", sent))

	fa, fb := receive(t, a), receive(t, b)
	assert.NotEmpty(t, fa.ID)
	assert.Equal(t, fa.ID, fb.ID)

	fa.Metadata["k"] = "changed"
	assert.Equal(t, "v", fb.Metadata["k"], "each group gets its own copy")
}

func TestReleaseGroupAndTopic(t *testing.T) {
	tr := NewTransport(Config{})
	ctx := context.Background()
	a, subA := collect(t, tr, "cli", "a")
	defer subA.Close()
	b, subB := collect(t, tr, "cli", "b")
	defer subB.Close()

	require.NoError(t, tr.ReleaseGroup(ctx, "cli", "a"))
	require.NoError(t, tr.Publish(ctx, "cli", frame("1")))
	assert.Equal(t, "1", receive(t, b).ID)
	select {
	case f := <-a:
		t.Fatalf("released group received %s", f.ID)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tr.ReleaseGroup(ctx, "cli", "b"))
	require.NoError(t, tr.Publish(ctx, "cli", frame("2")))
	assert.Equal(t, uint64(1), tr.Stats().Published, "a topic without groups drops frames")

	_, subC := collect(t, tr, "other", "c")
	defer subC.Close()
	require.NoError(t, tr.ReleaseTopic(ctx, "other"))
	require.NoError(t, tr.Publish(ctx, "other", frame("3")))
	assert.Equal(t, uint64(1), tr.Stats().Published)
	require.NoError(t, tr.ReleaseGroup(ctx, "missing", "x"))
}

func TestSubscribe_GroupMembersCompete(t *testing.T) {
	tr := NewTransport(Config{Concurrency: 2})
	var got atomic.Int64
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	handler := func(d xpush.Delivery) {
		got.Add(1)
		_ = d.Ack(context.Background())
		wg.Done()
	}
	s1, err := tr.Subscribe(context.Background(), "main", "workers", handler)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := tr.Subscribe(context.Background(), "main", "workers", handler)
	require.NoError(t, err)
	defer s2.Close()

	for i := 0; i < n; i++ {
		require.NoError(t, tr.Publish(context.Background(), "main", frame("")))
	}
	wg.Wait()
	assert.Equal(t, int64(n), got.Load())
	assert.Equal(t, uint64(n), tr.Stats().Acked)
}

func TestNack_Redelivers(t *testing.T) {
	for _, delay := range []time.Duration{0, 20 * time.Millisecond} {
		tr := NewTransport(Config{RedeliveryDelay: delay})
		var attempts atomic.Int64
		done := make(chan struct{})
		sub, err := tr.Subscribe(context.Background(), "main", "g", func(d xpush.Delivery) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if attempts.Add(1) == 1 {
				_ = d.Nack(ctx, errors.New("try again"))
				return
			}
			_ = d.Ack(ctx)
			close(done)
		})
		require.NoError(t, err)

		require.NoError(t, tr.Publish(context.Background(), "main", frame("x")))
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("frame not redelivered (delay %s)", delay)
		}
		_ = sub.Close()

		st := tr.Stats()
		assert.Equal(t, uint64(1), st.Nacked)
		assert.Equal(t, uint64(1), st.Redelivered)
		assert.Equal(t, uint64(1), st.Acked)
	}
}

func TestClose(t *testing.T) {
	tr := NewTransport(Config{})
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	assert.Error(t, tr.Publish(context.Background(), "main", frame("1")))
	_, err := tr.Subscribe(context.Background(), "main", "g", func(xpush.Delivery) {})
	assert.Error(t, err)
}

func TestUse_InstallsDefaultPusher(t *testing.T) {
	p := Use(Config{}, func(pb *xpush.PusherBuilder) {
		pb.WithOrigin("memory-use-test").WithDefaultTimeout(time.Second)
	})
	defer p.Close(context.Background())

	def, err := xpush.Default()
	require.NoError(t, err)
	assert.Same(t, p, def)
	assert.Equal(t, "memory-use-test", p.Origin())
	assert.Equal(t, time.Second, p.DefaultTimeout())
}
