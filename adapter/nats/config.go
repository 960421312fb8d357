package nats

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gonats "github.com/nats-io/nats.go"
)

// Config for the NATS transport.
type Config struct {
	// URL is the server URL, e.g. "nats://localhost:4222".
	URL string
	// Name identifies the client connection on the server.
	Name string

	Token    string
	User     string
	Password string

	ReconnectWait  time.Duration
	MaxReconnects  int // -1 = unlimited
	ConnectTimeout time.Duration

	// SubjectPrefix is prepended to every target to form its subject.
	SubjectPrefix string
	// Concurrency is the number of handler goroutines per subscription.
	Concurrency int
	// BufferSize bounds frames waiting for a handler; further frames are
	// dropped and counted.
	BufferSize int
	// DeadLetter is the subject receiving frames whose handler failed (optional).
	DeadLetter string
}

// Defaults returns a Config for a local server.
func Defaults() Config {
	return Config{
		URL:            gonats.DefaultURL,
		Name:           "xpush",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		SubjectPrefix:  "xpush.",
		Concurrency:    4,
		BufferSize:     1024,
	}
}

// Validate checks the Config before connecting.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if strings.ContainsAny(c.SubjectPrefix, " \t*>") {
		return fmt.Errorf("config: subject_prefix %q is not a literal subject token", c.SubjectPrefix)
	}
	return nil
}

func (c Config) options() []gonats.Option {
	opts := []gonats.Option{
		gonats.ReconnectWait(c.ReconnectWait),
		gonats.MaxReconnects(c.MaxReconnects),
		gonats.Timeout(c.ConnectTimeout),
	}
	if c.Name != "" {
		opts = append(opts, gonats.Name(c.Name))
	}
	if c.Token != "" {
		opts = append(opts, gonats.Token(c.Token))
	}
	if c.User != "" {
		opts = append(opts, gonats.UserInfo(c.User, c.Password))
	}
	return opts
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":             c.URL,
		"name":            c.Name,
		"token":           c.Token,
		"user":            c.User,
		"password":        c.Password,
		"reconnect_wait":  c.ReconnectWait,
		"max_reconnects":  c.MaxReconnects,
		"connect_timeout": c.ConnectTimeout,
		"subject_prefix":  c.SubjectPrefix,
		"concurrency":     c.Concurrency,
		"buffer_size":     c.BufferSize,
		"dead_letter":     c.DeadLetter,
	}
}

// ConfigFromMap converts a generic map into Config on top of Defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getString := func(k string, dst *string) {
		if v, ok := m[k].(string); ok {
			*dst = v
		}
	}
	getString("url", &c.URL)
	getString("name", &c.Name)
	getString("token", &c.Token)
	getString("user", &c.User)
	getString("password", &c.Password)
	getString("subject_prefix", &c.SubjectPrefix)
	getString("dead_letter", &c.DeadLetter)
	if c.URL == "" {
		c.URL = gonats.DefaultURL
	}

	if v, ok := toInt(m["max_reconnects"]); ok {
		c.MaxReconnects = v
	}
	if v, ok := toInt(m["concurrency"]); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := toInt(m["buffer_size"]); ok && v > 0 {
		c.BufferSize = v
	}
	if v, ok := toDuration(m["reconnect_wait"]); ok && v > 0 {
		c.ReconnectWait = v
	}
	if v, ok := toDuration(m["connect_timeout"]); ok && v > 0 {
		c.ConnectTimeout = v
	}
	return c
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	}
	if n, ok := toInt(v); ok {
		return time.Duration(n), true
	}
	return 0, false
}
