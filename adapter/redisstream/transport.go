package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xpush"
)

var errTransportClosed = errors.New("redisstream: transport closed")

var (
	_ xpush.GroupReleaser = (*transport)(nil)
	_ xpush.TopicReleaser = (*transport)(nil)
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

type transport struct {
	cfg    Config
	client *redis.Client
	closed atomic.Bool
	stats  counters
}

type counters struct {
	published, consumed, claimed, acked, nacked atomic.Uint64
	publishErrors, consumeErrors                atomic.Uint64
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Claimed       uint64
	Acked         uint64
	Nacked        uint64
	PublishErrors uint64
	ConsumeErrors uint64
}

// NewTransport validates cfg, connects and checks the server answers PING
// within two seconds.
func NewTransport(cfg Config) (xpush.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10 + cfg.Concurrency,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.TLSServerName}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstream: ping %s: %w", cfg.Addr, err)
	}
	return &transport{cfg: cfg, client: client}, nil
}

// StatsOf returns the telemetry of a transport built by NewTransport.
func StatsOf(tr xpush.Transport) (Stats, bool) {
	t, ok := tr.(*transport)
	if !ok {
		return Stats{}, false
	}
	s := &t.stats
	return Stats{
		Published:     s.published.Load(),
		Consumed:      s.consumed.Load(),
		Claimed:       s.claimed.Load(),
		Acked:         s.acked.Load(),
		Nacked:        s.nacked.Load(),
		PublishErrors: s.publishErrors.Load(),
		ConsumeErrors: s.consumeErrors.Load(),
	}, true
}

// Publish appends every frame to the topic stream in one pipeline.
func (t *transport) Publish(ctx context.Context, topic string, frames ...*xpush.Frame) error {
	if t.closed.Load() {
		return errTransportClosed
	}
	var n uint64
	_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range frames {
			if f == nil {
				continue
			}
			pipe.XAdd(ctx, t.xaddArgs(topic, frameValues(f)))
			n++
		}
		return nil
	})
	if err != nil {
		t.stats.publishErrors.Add(n)
		return fmt.Errorf("redisstream: xadd %s: %w", topic, err)
	}
	t.stats.published.Add(n)
	return nil
}

func (t *transport) xaddArgs(stream string, values map[string]any) *redis.XAddArgs {
	args := &redis.XAddArgs{Stream: stream, ID: "*", Values: values}
	if t.cfg.MaxLenApprox > 0 {
		args.MaxLen, args.Approx = t.cfg.MaxLenApprox, true
	}
	return args
}

// Subscribe joins group on topic, creating both when AutoCreate is set, and
// feeds Concurrency workers from a single XREADGROUP loop. When claiming is
// configured a second loop takes over entries abandoned by dead consumers.
func (t *transport) Subscribe(ctx context.Context, topic, group string, handler func(xpush.Delivery)) (xpush.Subscription, error) {
	if t.closed.Load() {
		return nil, errTransportClosed
	}
	if group == "" {
		group = t.cfg.Group
	}
	if t.cfg.AutoCreate {
		err := t.client.XGroupCreateMkStream(ctx, topic, group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("redisstream: create group %s on %s: %w", group, topic, err)
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &reader{t: t, topic: topic, group: group, queue: make(chan *delivery, 2*t.cfg.Concurrency)}

	var workers sync.WaitGroup
	for i := 0; i < t.cfg.Concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for d := range r.queue {
				handler(d)
			}
		}()
	}

	var feeders sync.WaitGroup
	feeders.Add(1)
	go func() {
		defer feeders.Done()
		r.poll(rctx)
	}()
	if t.cfg.ClaimMinIdle > 0 {
		feeders.Add(1)
		go func() {
			defer feeders.Done()
			r.reclaim(rctx)
		}()
	}
	go func() {
		feeders.Wait()
		close(r.queue)
	}()

	return closerFunc(func() error {
		cancel()
		feeders.Wait()
		workers.Wait()
		return nil
	}), nil
}

// ReleaseGroup destroys group on topic together with its pending entries.
func (t *transport) ReleaseGroup(ctx context.Context, topic, group string) error {
	if err := t.client.XGroupDestroy(ctx, topic, group).Err(); err != nil {
		return fmt.Errorf("redisstream: destroy group %s on %s: %w", group, topic, err)
	}
	return nil
}

// ReleaseTopic deletes the topic stream.
func (t *transport) ReleaseTopic(ctx context.Context, topic string) error {
	if err := t.client.Del(ctx, topic).Err(); err != nil {
		return fmt.Errorf("redisstream: delete %s: %w", topic, err)
	}
	return nil
}

// Close releases the connection pool. It is idempotent.
func (t *transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// reader is one group membership on one stream.
type reader struct {
	t     *transport
	topic string
	group string
	queue chan *delivery
}

func (r *reader) poll(ctx context.Context) {
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.t.cfg.Consumer,
		Streams:  []string{r.topic, ">"},
		Count:    int64(r.t.cfg.BatchSize),
		Block:    r.t.cfg.Block,
	}
	wait := minBackoff
	for ctx.Err() == nil {
		streams, err := r.t.client.XReadGroup(ctx, args).Result()
		switch {
		case err == nil:
			wait = minBackoff
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			wait = minBackoff
			continue
		default:
			r.t.stats.consumeErrors.Add(1)
			if !sleep(ctx, wait) {
				return
			}
			wait = min(2*wait, maxBackoff)
			continue
		}
		for _, s := range streams {
			if !r.dispatch(ctx, s.Messages, &r.t.stats.consumed) {
				return
			}
		}
	}
}

// reclaim moves entries idle past ClaimMinIdle to this consumer and hands
// them to the workers again.
func (r *reader) reclaim(ctx context.Context) {
	tick := time.NewTicker(r.t.cfg.ClaimInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		stale, err := r.t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: r.topic,
			Group:  r.group,
			Start:  "-",
			End:    "+",
			Count:  int64(r.t.cfg.ClaimBatch),
			Idle:   r.t.cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(stale) == 0 {
			continue
		}
		ids := make([]string, len(stale))
		for i, p := range stale {
			ids[i] = p.ID
		}
		msgs, err := r.t.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   r.topic,
			Group:    r.group,
			Consumer: r.t.cfg.Consumer,
			MinIdle:  r.t.cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			r.t.stats.consumeErrors.Add(1)
			continue
		}
		if !r.dispatch(ctx, msgs, &r.t.stats.claimed) {
			return
		}
	}
}

func (r *reader) dispatch(ctx context.Context, msgs []redis.XMessage, counter *atomic.Uint64) bool {
	for _, m := range msgs {
		counter.Add(1)
		select {
		case r.queue <- &delivery{r: r, entryID: m.ID, frame: decodeFrame(m.ID, m.Values)}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
