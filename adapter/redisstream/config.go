package redisstream

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config for the Redis Streams transport. Keys of the option mapping accepted
// by ConfigFromMap are listed in the package documentation.
type Config struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Group is the consumer group used when Subscribe is given none.
	Group string
	// Consumer names this process inside every group it joins.
	Consumer    string
	Concurrency int
	// BatchSize and Block are the COUNT and BLOCK of each XREADGROUP.
	BatchSize  int
	Block      time.Duration
	AutoCreate bool

	AutoDeleteOnAck bool
	// DeadLetter is the stream nacked frames are copied to. Without one a
	// nacked entry stays pending until it is claimed again.
	DeadLetter   string
	MaxLenApprox int64

	// Entries pending longer than ClaimMinIdle on any consumer are claimed
	// by this one every ClaimInterval, at most ClaimBatch at a time.
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns the configuration used for absent option keys.
func Defaults() Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Config{
		Addr:          "127.0.0.1:6379",
		Group:         "xpush",
		Consumer:      "xpush-" + host + "-" + strconv.Itoa(os.Getpid()),
		Concurrency:   8,
		BatchSize:     128,
		Block:         5 * time.Second,
		AutoCreate:    true,
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	need := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("redisstream: "+format, args...))
		}
	}
	need(c.Addr != "", "addr is required")
	need(c.Group != "", "group is required")
	need(c.Consumer != "", "consumer is required")
	need(c.Concurrency >= 1, "concurrency must be at least 1, got %d", c.Concurrency)
	need(c.BatchSize >= 1, "batch_size must be at least 1, got %d", c.BatchSize)
	need(c.Block > 0, "block must be positive, got %v", c.Block)
	need(c.ClaimMinIdle <= 0 || c.ClaimInterval > 0, "claim_interval must be positive when claim_min_idle is set")
	return errors.Join(errs...)
}

// options reads typed values out of a decoded YAML, TOML or builder map.
// Setters leave the target alone when the key is absent or mistyped.
type options map[string]any

func (o options) str(key string, dst *string, allowEmpty bool) {
	if s, ok := o[key].(string); ok && (allowEmpty || s != "") {
		*dst = s
	}
}

func (o options) flag(key string, dst *bool) {
	if b, ok := o[key].(bool); ok {
		*dst = b
	}
}

func (o options) count(key string, dst *int, min int64) {
	if n, ok := toInt64(o[key]); ok && n >= min {
		*dst = int(n)
	}
}

func (o options) duration(key string, dst *time.Duration, min time.Duration) {
	if d, ok := toDuration(o[key]); ok && d >= min {
		*dst = d
	}
}

// ConfigFromMap overlays m on Defaults.
func ConfigFromMap(m map[string]any) Config {
	c, o := Defaults(), options(m)

	o.str("addr", &c.Addr, false)
	o.str("username", &c.Username, true)
	o.str("password", &c.Password, true)
	o.count("db", &c.DB, 0)
	o.flag("tls", &c.TLS)
	o.str("tls_server_name", &c.TLSServerName, true)

	o.str("group", &c.Group, false)
	o.str("consumer", &c.Consumer, false)
	o.count("concurrency", &c.Concurrency, 1)
	o.count("batch_size", &c.BatchSize, 1)
	o.duration("block", &c.Block, 1)
	o.flag("auto_create", &c.AutoCreate)

	o.flag("auto_delete_on_ack", &c.AutoDeleteOnAck)
	o.str("dead_letter", &c.DeadLetter, true)
	if n, ok := toInt64(m["max_len_approx"]); ok && n > 0 {
		c.MaxLenApprox = n
	}

	o.duration("claim_min_idle", &c.ClaimMinIdle, 0)
	o.count("claim_batch", &c.ClaimBatch, 1)
	o.duration("claim_interval", &c.ClaimInterval, 1)
	return c
}

// toMap is the inverse of ConfigFromMap.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr": c.Addr, "username": c.Username, "password": c.Password,
		"db": c.DB, "tls": c.TLS, "tls_server_name": c.TLSServerName,

		"group": c.Group, "consumer": c.Consumer, "concurrency": c.Concurrency,
		"batch_size": c.BatchSize, "block": c.Block, "auto_create": c.AutoCreate,

		"auto_delete_on_ack": c.AutoDeleteOnAck, "dead_letter": c.DeadLetter,
		"max_len_approx": c.MaxLenApprox,

		"claim_min_idle": c.ClaimMinIdle, "claim_batch": c.ClaimBatch,
		"claim_interval": c.ClaimInterval,
	}
}

func toDuration(v any) (time.Duration, bool) {
	if d, ok := v.(time.Duration); ok {
		return d, true
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		return d, err == nil
	}
	n, ok := toInt64(v)
	return time.Duration(n), ok
}

// toInt64 accepts the integer and float types decoders produce, plus the
// decimal strings Redis returns for stream values.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		return toInt64(string(n))
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
